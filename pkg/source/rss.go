package source

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const (
	defaultMaxItemsPerFeed = 50
	maxDescriptionLen      = 500
)

// Normalizer converts raw feed and API payloads into Items.
type Normalizer struct {
	maxItems int
	filter   *Filter
	logger   zerolog.Logger
	now      func() time.Time
}

// NormalizerOptions configures a Normalizer.
type NormalizerOptions struct {
	MaxItemsPerFeed int
	Exclude         []string
	Logger          zerolog.Logger
	Now             func() time.Time
}

// NewNormalizer creates a new Normalizer.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	if opts.MaxItemsPerFeed <= 0 {
		opts.MaxItemsPerFeed = defaultMaxItemsPerFeed
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{
		maxItems: opts.MaxItemsPerFeed,
		filter:   NewFilter(opts.Exclude),
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Normalize sniffs the payload type and dispatches to the feed or JSON parser.
// Anything that does not look like JSON is handed to the feed parser.
func (n *Normalizer) Normalize(body []byte, sourceURL string) ([]Item, error) {
	trimmed := bytes.TrimSpace(body)

	var (
		items []Item
		err   error
	)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<?xml")),
		bytes.HasPrefix(trimmed, []byte("<rss")),
		bytes.HasPrefix(trimmed, []byte("<feed")):
		items, err = n.ParseFeed(trimmed, sourceURL)
	case bytes.HasPrefix(trimmed, []byte("{")), bytes.HasPrefix(trimmed, []byte("[")):
		items, err = n.ParseJSON(trimmed, sourceURL)
	default:
		items, err = n.ParseFeed(trimmed, sourceURL)
	}
	if err != nil {
		return nil, err
	}
	return n.filter.Keep(items), nil
}

// ParseFeed parses an RSS or Atom document. Entries without a title or link
// are skipped.
func (n *Normalizer) ParseFeed(body []byte, sourceURL string) ([]Item, error) {
	// gofeed parsers keep per-document state, so each call gets its own.
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", sourceURL, err)
	}

	name := SourceName(sourceURL)
	items := make([]Item, 0, min(len(parsed.Items), n.maxItems))

	for i, entry := range parsed.Items {
		if i >= n.maxItems {
			break
		}

		title := strings.TrimSpace(entry.Title)
		link := strings.TrimSpace(entry.Link)
		if link == "" && len(entry.Links) > 0 {
			link = strings.TrimSpace(entry.Links[0])
		}
		if title == "" || link == "" {
			continue
		}

		desc := entry.Description
		if desc == "" {
			desc = entry.Content
		}

		raw := map[string]any{"guid": entry.GUID}
		if len(entry.Categories) > 0 {
			raw["categories"] = entry.Categories
		}
		if entry.Author != nil && entry.Author.Name != "" {
			raw["author"] = entry.Author.Name
		}

		items = append(items, Item{
			ID:          ItemID(link, title),
			Title:       title,
			Link:        link,
			Description: truncate(stripHTML(desc), maxDescriptionLen),
			Source:      name,
			SourceURL:   sourceURL,
			Published:   entryTime(entry),
			RawPayload:  raw,
		})
	}

	return items, nil
}

func entryTime(entry *gofeed.Item) *time.Time {
	var t *time.Time
	switch {
	case entry.PublishedParsed != nil:
		t = entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		t = entry.UpdatedParsed
	default:
		return nil
	}
	utc := t.UTC()
	return &utc
}

// stripHTML extracts the text content of an HTML fragment and collapses
// whitespace.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
