// Package reporter runs the per-category report job, the breaking-news editor
// and the signal ingestion job.
package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/filter"
	"github.com/elonfeng/sigint/pkg/llm"
	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/selection"
	"github.com/elonfeng/sigint/pkg/source"
)

// JobName identifies report runs in results and logs.
const JobName = "report"

// Store is the persistence the report job needs.
type Store interface {
	GetCurrent(ctx context.Context, cat model.Category) (*model.CategoryState, error)
	SaveCurrent(ctx context.Context, state *model.CategoryState) error
	GetSeenIDs(ctx context.Context, cat model.Category, now time.Time) (map[string]bool, error)
	MarkSeen(ctx context.Context, cat model.Category, ids []string, now time.Time) error
	ArchiveItems(ctx context.Context, cat model.Category, items []model.NewsItem, now time.Time) error
}

// Fetcher downloads and normalizes a list of feeds.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string) source.FetchReport
}

// ItemSelector picks the most relevant candidates for a category.
type ItemSelector interface {
	Select(ctx context.Context, cat model.Category, candidates []source.Item) (llm.Selection, error)
}

// Options configures a Reporter.
type Options struct {
	Feeds    map[model.Category][]string
	Pipeline filter.Pipeline
	// Limit is the number of items kept on a panel.
	Limit  int
	Logger zerolog.Logger
	Now    func() time.Time
}

// Reporter is the per-category report job.
type Reporter struct {
	store    Store
	fetcher  Fetcher
	selector ItemSelector
	feeds    map[model.Category][]string
	pipeline filter.Pipeline
	limit    int
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Reporter.
func New(s Store, f Fetcher, sel ItemSelector, opts Options) *Reporter {
	if opts.Limit <= 0 {
		opts.Limit = selection.DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Pipeline == (filter.Pipeline{}) {
		opts.Pipeline = filter.NewPipeline(0, 0, 0, llm.PromptItemLimit)
	}
	return &Reporter{
		store:    s,
		fetcher:  f,
		selector: sel,
		feeds:    opts.Feeds,
		pipeline: opts.Pipeline,
		limit:    opts.Limit,
		logger:   opts.Logger.With().Str("job", JobName).Logger(),
		now:      opts.Now,
	}
}

// Categories returns the categories with at least one feed, in display order.
func (r *Reporter) Categories() []model.Category {
	var out []model.Category
	for _, cat := range model.ReportCategories() {
		if len(r.feeds[cat]) > 0 {
			out = append(out, cat)
		}
	}
	return out
}

// Run refreshes one category panel. Source and model failures degrade the
// result; storage failures fail it.
func (r *Reporter) Run(ctx context.Context, cat model.Category) (res model.RunResult) {
	start := r.now()
	now := start.UTC()
	res = model.NewRunResult(JobName, cat, now)
	defer func() { res.DurationMS = r.now().Sub(start).Milliseconds() }()
	logger := r.logger.With().Str("category", string(cat)).Str("run_id", res.RunID).Logger()

	feeds := r.feeds[cat]
	if len(feeds) == 0 {
		res.Fail(fmt.Errorf("no feeds configured for %s", cat))
		return res
	}

	report := r.fetcher.Fetch(ctx, feeds)
	res.ItemsFetched = len(report.Items)
	res.SourcesFailed = report.Failed

	seen, err := r.store.GetSeenIDs(ctx, cat, now)
	if err != nil {
		res.Fail(fmt.Errorf("load seen ids: %w", err))
		return res
	}
	fresh := filter.Unseen(report.Items, seen)
	res.ItemsNew = len(fresh)

	if len(fresh) == 0 {
		res.Success = true
		res.Message = "no new items"
		logger.Info().Int("fetched", res.ItemsFetched).Msg("no new items")
		return res
	}

	candidates, stats := r.pipeline.Apply(fresh, now)
	res.ItemsCandidates = len(candidates)
	logger.Debug().
		Int("input", stats.Input).
		Int("after_age", stats.AfterAge).
		Int("after_similarity", stats.AfterSimilarity).
		Int("after_source_cap", stats.AfterSourceCap).
		Int("output", stats.Output).
		Msg("filtered candidates")

	if len(candidates) == 0 {
		res.Success = true
		res.Message = "no candidates after filtering"
		logger.Info().Int("new", res.ItemsNew).Msg("no candidates after filtering")
		return res
	}

	var selected []model.NewsItem
	var notes string
	sel, err := r.selector.Select(ctx, cat, candidates)
	if err != nil {
		logger.Warn().Err(err).Msg("selection failed, falling back to recency")
		res.Fallback = true
		selected = selection.Fallback(candidates, r.limit, cat, now)
		notes = selection.FallbackNote(err)
	} else {
		picked := selection.FromLLM(sel, candidates, cat, now)
		for _, rejected := range picked.Rejected {
			logger.Debug().Err(rejected).Msg("rejected pick")
		}
		res.ItemsRejected = len(picked.Rejected)
		selected = picked.Items
		notes = picked.AgentNotes
	}
	res.ItemsSelected = len(selected)

	current, err := r.store.GetCurrent(ctx, cat)
	if err != nil {
		res.Fail(fmt.Errorf("load current: %w", err))
		return res
	}
	var previous []model.NewsItem
	if current != nil {
		previous = current.Items
	}

	state := &model.CategoryState{
		Category:    cat,
		Items:       selection.Merge(selected, previous, r.limit),
		LastUpdated: now,
		AgentNotes:  notes,
	}
	if err := r.store.SaveCurrent(ctx, state); err != nil {
		res.Fail(fmt.Errorf("save current: %w", err))
		return res
	}
	if err := r.store.ArchiveItems(ctx, cat, selected, now); err != nil {
		res.Fail(fmt.Errorf("archive: %w", err))
		return res
	}
	// Only items shown to the model are hidden from later runs; anything cut
	// by the filters stays eligible.
	if err := r.store.MarkSeen(ctx, cat, itemIDs(candidates), now); err != nil {
		res.Fail(fmt.Errorf("mark seen: %w", err))
		return res
	}

	res.Success = true
	res.AgentNotes = notes
	res.TopItems = state.Items
	logger.Info().
		Int("fetched", res.ItemsFetched).
		Int("new", res.ItemsNew).
		Int("candidates", res.ItemsCandidates).
		Int("selected", res.ItemsSelected).
		Bool("fallback", res.Fallback).
		Msg("category updated")
	return res
}

// RunAll runs every configured category in order. A failing category does
// not stop the others.
func (r *Reporter) RunAll(ctx context.Context) []model.RunResult {
	cats := r.Categories()
	results := make([]model.RunResult, 0, len(cats))
	for _, cat := range cats {
		if ctx.Err() != nil {
			break
		}
		results = append(results, r.Run(ctx, cat))
	}
	return results
}

func itemIDs(items []source.Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
