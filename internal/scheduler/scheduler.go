package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/alert"
	"github.com/elonfeng/sigint/pkg/correlation"
	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/narrative"
	"github.com/elonfeng/sigint/pkg/reporter"
)

// Store is what alert dispatch reads after a job.
type Store interface {
	GetCurrent(ctx context.Context, cat model.Category) (*model.CategoryState, error)
	GetCorrelations(ctx context.Context) (*model.CorrelationDocument, error)
}

// Job is a periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) []model.RunResult
}

// Scheduler runs jobs on their intervals, one at a time, and turns editor and
// narrative results into alerts.
type Scheduler struct {
	store         Store
	jobs          []Job
	alertMgr      *alert.Manager
	minConfidence float64
	logger        zerolog.Logger

	mu sync.Mutex // serializes job runs, including on-demand ones
}

// New creates a new scheduler. Jobs without a positive interval only run at
// startup.
func New(s Store, jobs []Job, alertMgr *alert.Manager, minConfidence float64, logger zerolog.Logger) *Scheduler {
	if alertMgr == nil {
		alertMgr = alert.NewManager(nil)
	}
	return &Scheduler{
		store:         s,
		jobs:          jobs,
		alertMgr:      alertMgr,
		minConfidence: minConfidence,
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run runs every job once, then on its ticker until ctx is cancelled. Jobs
// never overlap: ticks are queued and served in order.
func (s *Scheduler) Run(ctx context.Context) error {
	for i := range s.jobs {
		s.runJob(ctx, i)
	}

	due := make(chan int)
	for i, job := range s.jobs {
		if job.Interval <= 0 {
			continue
		}
		go func() {
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case due <- i:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		s.logger.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job scheduled")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case i := <-due:
			s.runJob(ctx, i)
		}
	}
}

// RunNamed runs a single job by name, waiting for any job in progress.
func (s *Scheduler) RunNamed(ctx context.Context, name string) ([]model.RunResult, error) {
	for i, job := range s.jobs {
		if job.Name == name {
			return s.runJob(ctx, i), nil
		}
	}
	return nil, fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) runJob(ctx context.Context, i int) []model.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.jobs[i]
	start := time.Now()
	results := job.Run(ctx)

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
			s.logger.Warn().
				Str("job", res.Job).
				Str("category", string(res.Category)).
				Str("run_id", res.RunID).
				Str("error", res.Error).
				Msg("run failed")
			continue
		}
		s.Dispatch(ctx, res)
	}
	s.logger.Info().
		Str("job", job.Name).
		Int("runs", len(results)).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("job finished")
	return results
}

// Dispatch sends the alerts a successful result calls for: confirmed
// breaking items after the editor, and confident leading indicators after
// the narrative tracker.
func (s *Scheduler) Dispatch(ctx context.Context, res model.RunResult) {
	if !res.Success || !s.alertMgr.HasNotifiers() {
		return
	}

	var notes []*alert.Notification
	switch res.Job {
	case reporter.EditorJobName:
		for _, item := range res.TopItems {
			notes = append(notes, alert.Breaking(item))
		}
	case narrative.JobName:
		var err error
		notes, err = s.leadingIndicators(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("load correlations for alerts")
			return
		}
	}

	for _, n := range notes {
		if s.alertMgr.Sent(n.ID) {
			continue
		}
		if err := s.alertMgr.Broadcast(ctx, n); err != nil {
			s.logger.Error().Err(err).Str("alert", n.ID).Msg("alert delivery failed")
			continue
		}
		s.logger.Info().Str("alert", n.ID).Str("kind", string(n.Kind)).Float64("score", n.Score).Msg("alert sent")
	}
}

func (s *Scheduler) leadingIndicators(ctx context.Context) ([]*alert.Notification, error) {
	doc, err := s.store.GetCorrelations(ctx)
	if err != nil || doc == nil {
		return nil, err
	}

	byID := make(map[string]model.NewsItem)
	for _, cat := range model.ReportCategories() {
		state, err := s.store.GetCurrent(ctx, cat)
		if err != nil {
			return nil, err
		}
		if state == nil {
			continue
		}
		for _, item := range state.Items {
			byID[item.ID] = item
		}
	}

	var out []*alert.Notification
	for _, c := range correlation.LeadingIndicators(doc.Correlations) {
		if c.ConfidenceScore < s.minConfidence {
			continue
		}
		var articles []model.NewsItem
		for _, id := range c.ArticleIDs {
			if item, ok := byID[id]; ok {
				articles = append(articles, item)
			}
		}
		out = append(out, alert.LeadingIndicator(c, articles))
	}
	return out, nil
}
