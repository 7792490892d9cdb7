// Package narrative tracks cross-source patterns between runs.
package narrative

import (
	"sort"
	"time"

	"github.com/elonfeng/sigint/pkg/model"
)

const (
	DefaultRetention    = 6 * time.Hour
	DefaultMaxPatterns  = 10
	DefaultDisplayItems = 5

	analysisSource = "SIGINT Analysis"
)

// Options bounds the persisted pattern set.
type Options struct {
	Retention   time.Duration
	MaxPatterns int
}

// DefaultOptions keeps patterns seen in the last 6 hours, at most 10.
func DefaultOptions() Options {
	return Options{Retention: DefaultRetention, MaxPatterns: DefaultMaxPatterns}
}

// Aggregate merges newly detected patterns into the existing set. A detected
// pattern whose id already exists only refreshes that pattern's last_seen.
// Patterns not seen within the retention window are dropped, and the rest are
// ranked by strength and truncated.
func Aggregate(existing, detected []model.NarrativePattern, now time.Time, opts Options) []model.NarrativePattern {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxPatterns <= 0 {
		opts.MaxPatterns = DefaultMaxPatterns
	}

	merged := make([]model.NarrativePattern, 0, len(existing)+len(detected))
	index := make(map[string]int, len(existing)+len(detected))
	for _, p := range existing {
		if _, dup := index[p.ID]; dup {
			continue
		}
		index[p.ID] = len(merged)
		merged = append(merged, p)
	}
	for _, p := range detected {
		if i, ok := index[p.ID]; ok {
			merged[i].LastSeen = now
			continue
		}
		index[p.ID] = len(merged)
		merged = append(merged, p)
	}

	out := make([]model.NarrativePattern, 0, len(merged))
	for _, p := range merged {
		if now.Sub(p.LastSeen) > opts.Retention {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Strength > out[j].Strength
	})
	if len(out) > opts.MaxPatterns {
		out = out[:opts.MaxPatterns]
	}
	return out
}

// DisplayItems renders the strongest n patterns as narrative panel items.
func DisplayItems(patterns []model.NarrativePattern, n int, now time.Time) []model.NewsItem {
	if n <= 0 {
		n = DefaultDisplayItems
	}
	out := make([]model.NewsItem, 0, min(n, len(patterns)))
	for _, p := range patterns[:min(n, len(patterns))] {
		tags := p.Sources
		if tags == nil {
			tags = []string{}
		}
		out = append(out, model.NewsItem{
			ID:             p.ID,
			Title:          p.Title,
			Summary:        p.Description,
			Source:         analysisSource,
			Category:       model.CategoryNarrative,
			Urgency:        model.UrgencyNormal,
			RelevanceScore: max(0, min(p.Strength, 1)),
			Entities:       []string{},
			Tags:           tags,
			FetchedAt:      now.UTC(),
		})
	}
	return out
}
