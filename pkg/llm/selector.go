package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/source"
)

const (
	selectionMaxTokens = 2000
	narrativeMaxTokens = 1500
	breakingMaxTokens  = 10
)

// Selector runs the editorial prompts against a Completer.
type Selector struct {
	completer Completer
	prompts   *Prompts
	topN      int
	logger    zerolog.Logger
}

// NewSelector returns a selector asking for topN items per category.
func NewSelector(c Completer, prompts *Prompts, topN int, logger zerolog.Logger) *Selector {
	if prompts == nil {
		prompts = NewPrompts(nil)
	}
	if topN <= 0 {
		topN = defaultSelectionCount
	}
	return &Selector{completer: c, prompts: prompts, topN: topN, logger: logger}
}

// Select asks the model to choose among candidates. Any transport or decode
// failure is returned so the caller can fall back.
func (s *Selector) Select(ctx context.Context, cat model.Category, candidates []source.Item) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, nil
	}
	text, err := s.completer.Complete(ctx, s.prompts.Selection(cat, candidates, s.topN), selectionMaxTokens)
	if err != nil {
		return Selection{}, fmt.Errorf("select %s: %w", cat, err)
	}
	sel, err := DecodeSelection(text)
	if err != nil {
		s.logger.Debug().Str("category", string(cat)).Str("response", clip(text, 500)).Msg("undecodable selection")
		return Selection{}, fmt.Errorf("select %s: %w", cat, err)
	}
	return sel, nil
}

// DetectNarratives asks for cross-category patterns in the current items.
func (s *Selector) DetectNarratives(ctx context.Context, itemsByCategory map[model.Category][]model.NewsItem) ([]PatternSuggestion, error) {
	total := 0
	for _, items := range itemsByCategory {
		total += len(items)
	}
	if total == 0 {
		return nil, nil
	}
	text, err := s.completer.Complete(ctx, s.prompts.Narrative(itemsByCategory), narrativeMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("detect narratives: %w", err)
	}
	patterns, err := DecodePatterns(text)
	if err != nil {
		return nil, fmt.Errorf("detect narratives: %w", err)
	}
	return patterns, nil
}

// IsBreaking asks for a YES/NO verdict on a single item.
func (s *Selector) IsBreaking(ctx context.Context, item model.NewsItem) (bool, error) {
	text, err := s.completer.Complete(ctx, s.prompts.Breaking(item), breakingMaxTokens)
	if err != nil {
		return false, fmt.Errorf("breaking check %s: %w", item.ID, err)
	}
	return strings.Contains(strings.ToUpper(text), "YES"), nil
}
