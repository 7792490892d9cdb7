// Package selection turns model picks into stored news items and merges them
// with the items already on a panel.
package selection

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elonfeng/sigint/pkg/llm"
	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/source"
)

const (
	// DefaultLimit is the number of items kept on a panel.
	DefaultLimit = 5
	// NeutralRelevance is used when the model omits a score and for fallback items.
	NeutralRelevance = 0.5

	summaryFallbackLen = 200
)

// Result is the outcome of mapping a model selection onto candidates.
type Result struct {
	Items      []model.NewsItem
	Rejected   []error
	AgentNotes string
}

// FromLLM maps 1-based picks onto candidates. Out-of-range and repeated
// indices are dropped; picks that fail validation, here or while decoding,
// are reported in Rejected.
func FromLLM(sel llm.Selection, candidates []source.Item, cat model.Category, now time.Time) Result {
	res := Result{Items: make([]model.NewsItem, 0, len(sel.Picks)), AgentNotes: sel.AgentNotes}
	res.Rejected = append(res.Rejected, sel.Invalid...)
	used := make(map[int]bool, len(sel.Picks))

	for _, pick := range sel.Picks {
		idx := pick.ItemNumber - 1
		if idx < 0 || idx >= len(candidates) || used[idx] {
			continue
		}
		used[idx] = true

		raw := candidates[idx]
		relevance := NeutralRelevance
		if pick.RelevanceScore != nil {
			relevance = *pick.RelevanceScore
		}
		summary := pick.Summary
		if summary == "" {
			summary = clip(raw.Description, summaryFallbackLen)
		}

		item := newsItem(raw, cat, now)
		item.Summary = summary
		item.Urgency = model.ParseUrgency(pick.Urgency)
		item.RelevanceScore = relevance
		item.Entities = nonNil(pick.Entities)
		item.Tags = nonNil(pick.Tags)

		if err := item.Validate(); err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res
}

// Merge carries forward previous items not superseded by a selected item with
// the same id, sorts the union by relevance (stable, so selected items win
// ties) and keeps the first limit.
func Merge(selected, previous []model.NewsItem, limit int) []model.NewsItem {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ids := make(map[string]bool, len(selected))
	out := make([]model.NewsItem, 0, len(selected)+len(previous))
	for _, item := range selected {
		if ids[item.ID] {
			continue
		}
		ids[item.ID] = true
		out = append(out, item)
	}
	for _, item := range previous {
		if ids[item.ID] {
			continue
		}
		ids[item.ID] = true
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Fallback ranks candidates by recency when the model is unavailable. Undated
// items sort last in their original order.
func Fallback(candidates []source.Item, n int, cat model.Category, now time.Time) []model.NewsItem {
	if n <= 0 {
		n = DefaultLimit
	}
	sorted := make([]source.Item, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Published, sorted[j].Published
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	out := make([]model.NewsItem, 0, min(n, len(sorted)))
	for _, raw := range sorted {
		if len(out) == n {
			break
		}
		item := newsItem(raw, cat, now)
		item.Summary = clip(raw.Description, summaryFallbackLen)
		item.Urgency = model.UrgencyNormal
		item.RelevanceScore = NeutralRelevance
		if item.Validate() != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

// FallbackNote explains a degraded run in the panel notes.
func FallbackNote(cause error) string {
	if cause == nil {
		return "Automated ranking unavailable; showing the most recent items."
	}
	return fmt.Sprintf("Automated ranking unavailable (%s); showing the most recent items.", clip(cause.Error(), 120))
}

func newsItem(raw source.Item, cat model.Category, now time.Time) model.NewsItem {
	return model.NewsItem{
		ID:          raw.ID,
		Title:       strings.TrimSpace(raw.Title),
		URL:         raw.Link,
		Source:      raw.Source,
		SourceURL:   raw.SourceURL,
		Category:    cat,
		Entities:    []string{},
		Tags:        []string{},
		PublishedAt: raw.Published,
		FetchedAt:   now.UTC(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
