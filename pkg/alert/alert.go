// Package alert fans notifications about breaking news and leading
// indicators out to chat and webhook destinations.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/elonfeng/sigint/pkg/model"
)

// Kind distinguishes what triggered a notification.
type Kind string

const (
	KindBreaking         Kind = "breaking"
	KindLeadingIndicator Kind = "leading_indicator"

	maxLinkedItems = 5
)

// Notification is the data sent to alert destinations.
type Notification struct {
	ID       string           `json:"id"`
	Kind     Kind             `json:"kind"`
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	URL      string           `json:"url,omitempty"`
	Score    float64          `json:"score"`
	Category model.Category   `json:"category,omitempty"`
	Sources  []string         `json:"sources"`
	Items    []model.NewsItem `json:"items"`
}

// Breaking builds a notification for an editor-confirmed item.
func Breaking(item model.NewsItem) *Notification {
	return &Notification{
		ID:       "breaking:" + item.ID,
		Kind:     KindBreaking,
		Title:    item.Title,
		Body:     item.Summary,
		URL:      item.URL,
		Score:    item.RelevanceScore,
		Category: item.Category,
		Sources:  []string{item.Source},
		Items:    []model.NewsItem{item},
	}
}

// LeadingIndicator builds a notification for a correlation where social
// activity preceded the news. articles are the stored items it references.
func LeadingIndicator(c model.CorrelatedNarrative, articles []model.NewsItem) *Notification {
	body := c.EvidenceSummary
	if c.LeadLagHours != nil {
		body = fmt.Sprintf("Signals led coverage by %.1fh. %s", *c.LeadLagHours, body)
	}
	if len(c.Questions) > 0 {
		body += "\n" + strings.Join(c.Questions, "\n")
	}
	var sources []string
	seen := make(map[string]bool)
	for _, a := range articles {
		if a.Source == "" || seen[a.Source] {
			continue
		}
		seen[a.Source] = true
		sources = append(sources, a.Source)
	}
	n := &Notification{
		ID:      "correlation:" + c.ID,
		Kind:    KindLeadingIndicator,
		Title:   c.Title,
		Body:    body,
		Score:   c.ConfidenceScore,
		Sources: sources,
		Items:   articles,
	}
	if len(articles) > 0 {
		n.URL = articles[0].URL
	}
	return n
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers and
// remembers which notification ids were delivered.
type Manager struct {
	notifiers []Notifier

	mu   sync.Mutex
	sent map[string]bool
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers, sent: make(map[string]bool)}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Sent reports whether a notification id was already delivered.
func (m *Manager) Sent(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[id]
}

// Broadcast sends a notification to all registered notifiers. An id that was
// already delivered is skipped. The id is recorded when at least one
// notifier succeeds.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if n.ID != "" && m.Sent(n.ID) {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	if n.ID != "" && len(errs) < len(m.notifiers) {
		m.mu.Lock()
		m.sent[n.ID] = true
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

func linkedItems(n *Notification) []model.NewsItem {
	return n.Items[:min(maxLinkedItems, len(n.Items))]
}

func headline(n *Notification) string {
	switch n.Kind {
	case KindBreaking:
		return "🚨 " + n.Title
	case KindLeadingIndicator:
		return "📡 " + n.Title
	}
	return n.Title
}
