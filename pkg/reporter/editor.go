package reporter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/model"
)

const (
	// EditorJobName identifies editor runs in results and logs.
	EditorJobName = "editor"

	// MaxBreaking bounds the breaking panel.
	MaxBreaking = 3

	breakingRelevance = 0.9
	breakingNotes     = "Editor-selected breaking news"
)

// EditorStore is the persistence the editor needs.
type EditorStore interface {
	GetCurrent(ctx context.Context, cat model.Category) (*model.CategoryState, error)
	SaveCurrent(ctx context.Context, state *model.CategoryState) error
}

// BreakingJudge confirms whether an item is breaking news.
type BreakingJudge interface {
	IsBreaking(ctx context.Context, item model.NewsItem) (bool, error)
}

// Editor promotes confirmed breaking items from the category panels.
type Editor struct {
	store  EditorStore
	judge  BreakingJudge
	logger zerolog.Logger
	now    func() time.Time
}

// NewEditor creates an Editor. A nil now uses time.Now.
func NewEditor(s EditorStore, judge BreakingJudge, logger zerolog.Logger, now func() time.Time) *Editor {
	if now == nil {
		now = time.Now
	}
	return &Editor{
		store:  s,
		judge:  judge,
		logger: logger.With().Str("job", EditorJobName).Logger(),
		now:    now,
	}
}

// Candidates returns items flagged breaking or high urgency, or scored at
// least 0.9, most relevant first.
func Candidates(states []*model.CategoryState) []model.NewsItem {
	var out []model.NewsItem
	for _, state := range states {
		if state == nil {
			continue
		}
		for _, item := range state.Items {
			if item.Urgency == model.UrgencyBreaking || item.Urgency == model.UrgencyHigh || item.RelevanceScore >= breakingRelevance {
				out = append(out, item)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

// Run asks the judge about each candidate and saves up to three confirmed
// items as the breaking panel. A judge error counts as not breaking. When
// nothing is confirmed the previous panel is left alone.
func (e *Editor) Run(ctx context.Context) (res model.RunResult) {
	start := e.now()
	now := start.UTC()
	res = model.NewRunResult(EditorJobName, model.CategoryBreaking, now)
	defer func() { res.DurationMS = e.now().Sub(start).Milliseconds() }()

	var states []*model.CategoryState
	for _, cat := range model.ReportCategories() {
		state, err := e.store.GetCurrent(ctx, cat)
		if err != nil {
			res.Fail(fmt.Errorf("load %s: %w", cat, err))
			return res
		}
		states = append(states, state)
	}

	candidates := Candidates(states)
	res.ItemsCandidates = len(candidates)

	var breaking []model.NewsItem
	for _, item := range candidates {
		if len(breaking) == MaxBreaking {
			break
		}
		ok, err := e.judge.IsBreaking(ctx, item)
		if err != nil {
			e.logger.Warn().Err(err).Str("item", item.ID).Msg("breaking check failed")
			continue
		}
		if !ok {
			continue
		}
		item.Urgency = model.UrgencyBreaking
		breaking = append(breaking, item)
	}
	res.ItemsSelected = len(breaking)
	res.TopItems = breaking

	if len(breaking) > 0 {
		err := e.store.SaveCurrent(ctx, &model.CategoryState{
			Category:    model.CategoryBreaking,
			Items:       breaking,
			LastUpdated: now,
			AgentNotes:  breakingNotes,
		})
		if err != nil {
			res.Fail(fmt.Errorf("save breaking: %w", err))
			return res
		}
		res.AgentNotes = breakingNotes
	}

	res.Success = true
	e.logger.Info().Int("candidates", len(candidates)).Int("breaking", len(breaking)).Msg("editor complete")
	return res
}
