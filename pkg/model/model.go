package model

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies a dashboard panel. The slug values are part of the
// persisted JSON contract.
type Category string

const (
	CategoryGeopolitical  Category = "geopolitical"
	CategoryAIML          Category = "ai-ml"
	CategoryDeepTech      Category = "deep-tech"
	CategoryCryptoFinance Category = "crypto-finance"
	CategoryNarrative     Category = "narrative"
	CategoryBreaking      Category = "breaking"
)

// AllCategories returns every known category.
func AllCategories() []Category {
	return []Category{
		CategoryGeopolitical,
		CategoryAIML,
		CategoryDeepTech,
		CategoryCryptoFinance,
		CategoryNarrative,
		CategoryBreaking,
	}
}

// ReportCategories returns the categories backed by source feeds.
func ReportCategories() []Category {
	return []Category{
		CategoryGeopolitical,
		CategoryAIML,
		CategoryDeepTech,
		CategoryCryptoFinance,
	}
}

// ParseCategory validates a category slug.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid category: %q", s)
}

// Urgency is the editorial priority of a selected item.
type Urgency string

const (
	UrgencyBreaking Urgency = "breaking"
	UrgencyHigh     Urgency = "high"
	UrgencyNormal   Urgency = "normal"
	UrgencyLow      Urgency = "low"
)

// ParseUrgency maps unknown values to normal.
func ParseUrgency(s string) Urgency {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyBreaking, UrgencyHigh, UrgencyNormal, UrgencyLow:
		return u
	}
	return UrgencyNormal
}

// NewsItem is a selected, ranked item as stored in a category document.
type NewsItem struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	URL            string     `json:"url"`
	Source         string     `json:"source"`
	SourceURL      string     `json:"source_url"`
	Category       Category   `json:"category"`
	Urgency        Urgency    `json:"urgency"`
	RelevanceScore float64    `json:"relevance_score"`
	Entities       []string   `json:"entities"`
	Tags           []string   `json:"tags"`
	PublishedAt    *time.Time `json:"published_at"`
	FetchedAt      time.Time  `json:"fetched_at"`
}

// Validate rejects records that would break the dashboard contract.
func (n NewsItem) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("news item: id is required")
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("news item %s: title is required", n.ID)
	}
	if n.RelevanceScore < 0 || n.RelevanceScore > 1 {
		return fmt.Errorf("news item %s: relevance_score %.3f outside [0,1]", n.ID, n.RelevanceScore)
	}
	return nil
}

// CategoryState is the persisted document for one category panel.
type CategoryState struct {
	Category    Category   `json:"category"`
	Items       []NewsItem `json:"items"`
	LastUpdated time.Time  `json:"last_updated"`
	AgentNotes  string     `json:"agent_notes"`
}

// IDs returns the ids of all items in the state.
func (s *CategoryState) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// NarrativePattern is a cross-source pattern tracked across runs.
type NarrativePattern struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Sources     []string  `json:"sources"`
	ItemIDs     []string  `json:"item_ids"`
	Strength    float64   `json:"strength"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// NarrativeDocument is the persisted narrative state.
type NarrativeDocument struct {
	Patterns    []NarrativePattern `json:"patterns"`
	LastUpdated time.Time          `json:"last_updated"`
}
