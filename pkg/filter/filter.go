// Package filter reduces raw items to a small, diverse, recent candidate set
// before anything is sent to the LLM. Every function here is pure and keeps
// the input order.
package filter

import (
	"strings"
	"time"
	"unicode"

	"github.com/elonfeng/sigint/pkg/source"
)

const (
	DefaultMaxAgeHours         = 24
	DefaultSimilarityThreshold = 0.7
	DefaultMaxPerSource        = 5

	minMaxAgeHours = 1
	maxMaxAgeHours = 720
)

// Unseen returns the items whose id is not in seen.
func Unseen(items []source.Item, seen map[string]bool) []source.Item {
	out := make([]source.Item, 0, len(items))
	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ClampMaxAgeHours bounds a configured age window to [1, 720] hours.
func ClampMaxAgeHours(hours int) int {
	return max(minMaxAgeHours, min(hours, maxMaxAgeHours))
}

// ByAge keeps items published after now-maxAgeHours. Undated items are kept.
func ByAge(items []source.Item, maxAgeHours int, now time.Time) []source.Item {
	cutoff := now.Add(-time.Duration(ClampMaxAgeHours(maxAgeHours)) * time.Hour)
	out := make([]source.Item, 0, len(items))
	for _, item := range items {
		if item.Published != nil && !item.Published.After(cutoff) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// BySimilarity drops items whose title is too close to a title already kept.
// The scan is greedy: the first occurrence wins and an item is only compared
// against survivors, so sim(A,B) and sim(B,C) over the threshold still keep
// both A and C when sim(A,C) is below it.
func BySimilarity(items []source.Item, threshold float64) []source.Item {
	out := make([]source.Item, 0, len(items))
	kept := make([]map[string]bool, 0, len(items))

	for _, item := range items {
		tokens := tokenSet(item.Title)
		duplicate := false
		for _, k := range kept {
			if jaccard(tokens, k) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, tokens)
		out = append(out, item)
	}
	return out
}

// BySourceCap keeps at most k items per source.
func BySourceCap(items []source.Item, k int) []source.Item {
	counts := make(map[string]int)
	out := make([]source.Item, 0, len(items))
	for _, item := range items {
		if counts[item.Source] >= k {
			continue
		}
		counts[item.Source]++
		out = append(out, item)
	}
	return out
}

// Jaccard returns the word-set Jaccard index of two titles. Titles without
// alphanumeric tokens score 0.
func Jaccard(a, b string) float64 {
	return jaccard(tokenSet(a), tokenSet(b))
}

// tokenSet lower-cases s and splits it on non-alphanumeric runes.
func tokenSet(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
