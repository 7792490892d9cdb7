package source

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>World</title>
  <item>
    <title>Ceasefire talks resume</title>
    <link>https://www.bbc.co.uk/news/1</link>
    <description>&lt;p&gt;Negotiators &lt;b&gt;met&lt;/b&gt; again.&lt;/p&gt;</description>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
  </item>
  <item>
    <title></title>
    <link>https://www.bbc.co.uk/news/2</link>
  </item>
  <item>
    <title>No date here</title>
    <link>https://www.bbc.co.uk/news/3</link>
    <description>Plain text</description>
  </item>
  <item>
    <title>Sponsored: buy now</title>
    <link>https://www.bbc.co.uk/news/4</link>
  </item>
</channel>
</rss>`

func testNormalizer(now time.Time, exclude ...string) *Normalizer {
	return NewNormalizer(NormalizerOptions{
		Exclude: exclude,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return now },
	})
}

func TestItemIDDeterministic(t *testing.T) {
	a := ItemID("https://x.com/a", "Title")
	b := ItemID("https://x.com/a", "Title")
	c := ItemID("https://x.com/a", "Other title")

	if a != b {
		t.Errorf("same input produced %q and %q", a, b)
	}
	if a == c {
		t.Errorf("different titles produced the same id %q", a)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}

func TestSourceName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://feeds.bbci.co.uk/news/world/rss.xml", "Feeds"},
		{"https://www.bbc.co.uk/news/rss.xml", "BBC"},
		{"https://hnrss.org/frontpage", "Hacker News"},
		{"https://api.coingecko.com/api/v3/simple/price", "CoinGecko"},
		{"https://www.example.com/feed", "Example"},
		{"not a url", "Unknown"},
	}
	for _, tt := range tests {
		if got := SourceName(tt.url); got != tt.want {
			t.Errorf("SourceName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestParseFeed(t *testing.T) {
	n := testNormalizer(time.Now())
	items, err := n.ParseFeed([]byte(sampleRSS), "https://www.bbc.co.uk/news/rss.xml")
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("expected 3 items (untitled entry skipped), got %d", len(items))
	}

	first := items[0]
	if first.Source != "BBC" {
		t.Errorf("source = %q, want BBC", first.Source)
	}
	if first.Description != "Negotiators met again." {
		t.Errorf("description = %q, want HTML stripped", first.Description)
	}
	if first.Published == nil || first.Published.Year() != 2006 {
		t.Errorf("published = %v, want 2006 date", first.Published)
	}
	if first.ID != ItemID(first.Link, first.Title) {
		t.Errorf("id %q is not content addressed", first.ID)
	}
	if items[1].Published != nil {
		t.Errorf("expected undated entry, got %v", items[1].Published)
	}
}

func TestParseFeedLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`)
	for i := 0; i < 60; i++ {
		b.WriteString("<item><title>Story ")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString("</title><link>https://example.com/")
		b.WriteString(strings.Repeat("y", i+1))
		b.WriteString("</link></item>")
	}
	b.WriteString("</channel></rss>")

	n := testNormalizer(time.Now())
	items, err := n.ParseFeed([]byte(b.String()), "https://example.com/feed")
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if len(items) != 50 {
		t.Errorf("expected 50 items, got %d", len(items))
	}
}

func TestNormalizeSniffsAndFilters(t *testing.T) {
	n := testNormalizer(time.Now(), "sponsored")
	items, err := n.Normalize([]byte("\n  "+sampleRSS), "https://www.bbc.co.uk/news/rss.xml")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Title), "sponsored") {
			t.Errorf("excluded item kept: %q", item.Title)
		}
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := testNormalizer(time.Now())
	if _, err := n.Normalize([]byte("{not json"), "https://example.com/api"); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := n.Normalize([]byte("hello world"), "https://example.com/feed"); err == nil {
		t.Error("expected error for unrecognised payload")
	}
}

func TestParseJSONYahoo(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n := testNormalizer(now)
	body := `{"chart":{"result":[{"meta":{"symbol":"^GSPC","regularMarketPrice":5000.5,"regularMarketChangePercent":-1.234}}]}}`

	items, err := n.ParseJSON([]byte(body), "https://query1.finance.yahoo.com/v8/finance/chart/%5EGSPC")
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Title != "^GSPC: $5000.50 (-1.23%)" {
		t.Errorf("title = %q", items[0].Title)
	}
	if items[0].Source != "Yahoo Finance" {
		t.Errorf("source = %q", items[0].Source)
	}
	if items[0].Published == nil || !items[0].Published.Equal(now) {
		t.Errorf("published = %v, want %v", items[0].Published, now)
	}
}

func TestParseJSONCoinGeckoSimple(t *testing.T) {
	n := testNormalizer(time.Now())
	body := `{"bitcoin":{"usd":97000.5,"usd_24h_change":2.5},"ethereum":{"usd":3500,"usd_24h_change":-0.5}}`

	items, err := n.ParseJSON([]byte(body), "https://api.coingecko.com/api/v3/simple/price")
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Bitcoin: $97,000.50 (+2.50%)" {
		t.Errorf("title = %q", items[0].Title)
	}
	if items[1].Title != "Ethereum: $3,500.00 (-0.50%)" {
		t.Errorf("title = %q", items[1].Title)
	}
}

func TestParseJSONMarketsAndGeneric(t *testing.T) {
	n := testNormalizer(time.Now())

	markets := `[{"id":"solana","name":"Solana","symbol":"sol","current_price":150.25,"price_change_percentage_24h":null}]`
	items, err := n.ParseJSON([]byte(markets), "https://api.coingecko.com/api/v3/coins/markets")
	if err != nil {
		t.Fatalf("ParseJSON markets: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Solana: $150.25 (+0.00%)" {
		t.Errorf("unexpected markets items: %+v", items)
	}

	generic := `[{"question":"Will it rain?","url":"https://polymarket.com/event/rain"},{"title":""},{"name":"Named market"}]`
	items, err = n.ParseJSON([]byte(generic), "https://gamma-api.polymarket.com/markets")
	if err != nil {
		t.Fatalf("ParseJSON generic: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Link != "https://polymarket.com/event/rain" {
		t.Errorf("link = %q", items[0].Link)
	}
	if items[1].Link != "https://gamma-api.polymarket.com/markets" {
		t.Errorf("expected source url as link fallback, got %q", items[1].Link)
	}
	if items[0].Source != "Polymarket" {
		t.Errorf("source = %q", items[0].Source)
	}
}

func TestFilterKeep(t *testing.T) {
	f := NewFilter([]string{"Crypto", " "})
	items := []Item{
		{ID: "1", Title: "Crypto crash"},
		{ID: "2", Title: "Chip fab", Description: "cryptography aside"},
		{ID: "3", Title: "Quantum milestone"},
	}
	kept := f.Keep(items)
	if len(kept) != 1 || kept[0].ID != "3" {
		t.Errorf("unexpected kept items: %+v", kept)
	}

	var none *Filter
	if none.Excluded("anything") {
		t.Error("nil filter should exclude nothing")
	}
}
