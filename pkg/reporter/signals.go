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
	// SignalsJobName identifies signal ingestion runs.
	SignalsJobName = "signals"

	// DefaultSignalRetention is how long stored signals are kept.
	DefaultSignalRetention = 24 * time.Hour
)

// SignalStore is the persistence the signal job needs.
type SignalStore interface {
	GetSignals(ctx context.Context, cat model.Category) (*model.SignalDocument, error)
	SaveSignals(ctx context.Context, doc *model.SignalDocument) error
}

// SignalFetcher reads recent posts from a list of accounts.
type SignalFetcher interface {
	FetchAccounts(ctx context.Context, accounts []string) (signals []model.Signal, failed []string)
}

// SignalCollector keeps a rolling window of social signals per category.
type SignalCollector struct {
	store     SignalStore
	fetcher   SignalFetcher
	accounts  map[model.Category][]string
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// SignalOptions configures a SignalCollector.
type SignalOptions struct {
	Accounts  map[model.Category][]string
	Retention time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// NewSignalCollector creates a SignalCollector.
func NewSignalCollector(s SignalStore, f SignalFetcher, opts SignalOptions) *SignalCollector {
	if opts.Retention <= 0 {
		opts.Retention = DefaultSignalRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SignalCollector{
		store:     s,
		fetcher:   f,
		accounts:  opts.Accounts,
		retention: opts.Retention,
		logger:    opts.Logger.With().Str("job", SignalsJobName).Logger(),
		now:       opts.Now,
	}
}

// Categories returns the categories with tracked accounts, in display order.
func (c *SignalCollector) Categories() []model.Category {
	var out []model.Category
	for _, cat := range model.ReportCategories() {
		if len(c.accounts[cat]) > 0 {
			out = append(out, cat)
		}
	}
	return out
}

// Run fetches the category's accounts and merges the result into the stored
// window. Fetched copies replace stored signals with the same id. The run
// fails only when storage fails or every account failed.
func (c *SignalCollector) Run(ctx context.Context, cat model.Category) (res model.RunResult) {
	start := c.now()
	now := start.UTC()
	res = model.NewRunResult(SignalsJobName, cat, now)
	defer func() { res.DurationMS = c.now().Sub(start).Milliseconds() }()

	accounts := c.accounts[cat]
	if len(accounts) == 0 {
		res.Fail(fmt.Errorf("no accounts configured for %s", cat))
		return res
	}

	fetched, failed := c.fetcher.FetchAccounts(ctx, accounts)
	res.ItemsFetched = len(fetched)
	res.SourcesFailed = failed
	if len(failed) == len(accounts) {
		res.Fail(fmt.Errorf("all %d accounts failed", len(accounts)))
		return res
	}

	stored, err := c.store.GetSignals(ctx, cat)
	if err != nil {
		res.Fail(fmt.Errorf("load signals: %w", err))
		return res
	}
	var previous []model.Signal
	if stored != nil {
		previous = stored.Signals
	}

	merged, added := MergeSignals(previous, fetched, now.Add(-c.retention))
	res.ItemsNew = added
	doc := &model.SignalDocument{Category: cat, Signals: merged, LastUpdated: now}
	if err := c.store.SaveSignals(ctx, doc); err != nil {
		res.Fail(fmt.Errorf("save signals: %w", err))
		return res
	}

	res.Success = true
	res.ItemsSelected = len(merged)
	c.logger.Info().
		Str("category", string(cat)).
		Int("fetched", len(fetched)).
		Int("new", added).
		Int("kept", len(merged)).
		Strs("failed", failed).
		Msg("signals updated")
	return res
}

// MergeSignals unions stored and fetched signals by id, drops those created
// before cutoff and sorts newest first. It also reports how many fetched ids
// were not stored before.
func MergeSignals(stored, fetched []model.Signal, cutoff time.Time) ([]model.Signal, int) {
	byID := make(map[string]model.Signal, len(stored)+len(fetched))
	for _, s := range stored {
		byID[s.ID] = s
	}
	added := 0
	for _, s := range fetched {
		if _, ok := byID[s.ID]; !ok {
			added++
		}
		byID[s.ID] = s
	}

	out := make([]model.Signal, 0, len(byID))
	for _, s := range byID {
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, added
}
