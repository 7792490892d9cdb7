package source

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Item is the normalized record every feed and API payload is converted to.
// It is created by the Normalizer and never mutated afterwards.
type Item struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Link        string         `json:"link"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	SourceURL   string         `json:"source_url"`
	Published   *time.Time     `json:"published"`
	RawPayload  map[string]any `json:"raw_payload,omitempty"`
}

// ItemID returns the content-addressed id of a link/title pair.
func ItemID(link, title string) string {
	sum := sha256.Sum256([]byte(link + ":" + title))
	return hex.EncodeToString(sum[:])[:16]
}

// knownSources maps URL fragments to display names. Order matters: the first
// match wins, so more specific fragments come first.
var knownSources = []struct {
	fragment string
	name     string
}{
	{"bbc.co.uk", "BBC"},
	{"npr.org", "NPR"},
	{"theguardian.com", "The Guardian"},
	{"reuters", "Reuters"},
	{"hnrss.org", "Hacker News"},
	{"arstechnica.com", "Ars Technica"},
	{"theverge.com", "The Verge"},
	{"technologyreview.com", "MIT Tech Review"},
	{"arxiv.org", "ArXiv"},
	{"openai.com", "OpenAI"},
	{"anthropic.com", "Anthropic"},
	{"blog.google", "Google AI"},
	{"deepmind", "DeepMind"},
	{"ai.meta.com", "Meta AI"},
	{"huggingface.co", "Hugging Face"},
	{"cnbc.com", "CNBC"},
	{"marketwatch.com", "MarketWatch"},
	{"yahoo.com", "Yahoo Finance"},
	{"ft.com", "Financial Times"},
	{"whitehouse.gov", "White House"},
	{"federalreserve.gov", "Federal Reserve"},
	{"sec.gov", "SEC"},
	{"treasury.gov", "Treasury"},
	{"state.gov", "State Dept"},
	{"csis.org", "CSIS"},
	{"brookings.edu", "Brookings"},
	{"cfr.org", "CFR"},
	{"defenseone.com", "Defense One"},
	{"warontherocks.com", "War on the Rocks"},
	{"breakingdefense.com", "Breaking Defense"},
	{"thedrive.com", "The War Zone"},
	{"thediplomat.com", "The Diplomat"},
	{"al-monitor.com", "Al-Monitor"},
	{"bellingcat.com", "Bellingcat"},
	{"defense.gov", "DoD"},
	{"cisa.gov", "CISA"},
	{"krebsonsecurity.com", "Krebs on Security"},
	{"coingecko.com", "CoinGecko"},
	{"polymarket.com", "Polymarket"},
}

// SourceName returns a readable source name for a feed URL.
func SourceName(rawURL string) string {
	lower := strings.ToLower(rawURL)
	for _, ks := range knownSources {
		if strings.Contains(lower, ks.fragment) {
			return ks.name
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "Unknown"
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return "Unknown"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

// stripProxy removes CORS proxy prefixes that dashboards sometimes store
// in feed lists.
func stripProxy(rawURL string) string {
	for _, prefix := range []string{"https://corsproxy.io/?", "https://api.allorigins.win/raw?url="} {
		if strings.HasPrefix(rawURL, prefix) {
			return strings.TrimPrefix(rawURL, prefix)
		}
	}
	return rawURL
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
