package source

import "strings"

// Filter drops items whose title or description contains an excluded keyword.
type Filter struct {
	exclude []string
}

// NewFilter creates a filter from exclude keywords. Matching is
// case-insensitive; blank keywords are ignored.
func NewFilter(excludeKeywords []string) *Filter {
	exclude := make([]string, 0, len(excludeKeywords))
	for _, kw := range excludeKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			exclude = append(exclude, kw)
		}
	}
	return &Filter{exclude: exclude}
}

// Excluded returns true if text contains any excluded keyword.
func (f *Filter) Excluded(text string) bool {
	if f == nil || len(f.exclude) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return true
		}
	}
	return false
}

// Keep returns the items that are not excluded, preserving order.
func (f *Filter) Keep(items []Item) []Item {
	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if f.Excluded(item.Title + " " + item.Description) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}
