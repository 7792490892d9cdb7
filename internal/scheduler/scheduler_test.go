package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/alert"
	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/narrative"
	"github.com/elonfeng/sigint/pkg/reporter"
)

type fakeStore struct {
	current      map[model.Category]*model.CategoryState
	correlations *model.CorrelationDocument
}

func (f *fakeStore) GetCurrent(_ context.Context, cat model.Category) (*model.CategoryState, error) {
	return f.current[cat], nil
}

func (f *fakeStore) GetCorrelations(_ context.Context) (*model.CorrelationDocument, error) {
	return f.correlations, nil
}

type recorder struct{ got []*alert.Notification }

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(_ context.Context, n *alert.Notification) error {
	r.got = append(r.got, n)
	return nil
}

func lead(h float64) *float64 { return &h }

func TestDispatchLeadingIndicators(t *testing.T) {
	store := &fakeStore{
		current: map[model.Category]*model.CategoryState{
			model.CategoryAIML: {Items: []model.NewsItem{{ID: "n1", Title: "Chip export rules", Source: "Reuters"}}},
		},
		correlations: &model.CorrelationDocument{Correlations: []model.CorrelatedNarrative{
			{ID: "led", Title: "Correlation: nvidia", ArticleIDs: []string{"n1", "missing"}, LeadLagHours: lead(2), ConfidenceScore: 0.8},
			{ID: "weak", LeadLagHours: lead(2), ConfidenceScore: 0.3},
			{ID: "lagged", LeadLagHours: lead(-1), ConfidenceScore: 0.9},
		}},
	}
	rec := &recorder{}
	s := New(store, nil, alert.NewManager([]alert.Notifier{rec}), 0.6, zerolog.Nop())

	res := model.RunResult{Job: narrative.JobName, Success: true}
	s.Dispatch(context.Background(), res)
	s.Dispatch(context.Background(), res)

	if len(rec.got) != 1 {
		t.Fatalf("alerts = %d, want 1", len(rec.got))
	}
	n := rec.got[0]
	if n.ID != "correlation:led" || len(n.Items) != 1 || n.Items[0].ID != "n1" {
		t.Errorf("notification = %+v", n)
	}
}

func TestDispatchBreaking(t *testing.T) {
	rec := &recorder{}
	s := New(&fakeStore{}, nil, alert.NewManager([]alert.Notifier{rec}), 0.6, zerolog.Nop())

	s.Dispatch(context.Background(), model.RunResult{
		Job:      reporter.EditorJobName,
		Success:  true,
		TopItems: []model.NewsItem{{ID: "b1", Title: "Strait closed"}, {ID: "b2", Title: "Rates cut"}},
	})
	s.Dispatch(context.Background(), model.RunResult{Job: reporter.EditorJobName, Success: false, TopItems: []model.NewsItem{{ID: "b3"}}})

	if len(rec.got) != 2 || rec.got[0].Kind != alert.KindBreaking {
		t.Errorf("alerts = %+v", rec.got)
	}
}

func TestRunNamed(t *testing.T) {
	calls := 0
	s := New(&fakeStore{}, []Job{{
		Name: "report",
		Run: func(context.Context) []model.RunResult {
			calls++
			return []model.RunResult{{Job: "report", Success: true}}
		},
	}}, nil, 0, zerolog.Nop())

	results, err := s.RunNamed(context.Background(), "report")
	if err != nil || len(results) != 1 || calls != 1 {
		t.Fatalf("results=%v err=%v calls=%d", results, err, calls)
	}
	if _, err := s.RunNamed(context.Background(), "nope"); err == nil {
		t.Error("unknown job should fail")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 16)
	s := New(&fakeStore{}, []Job{{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) []model.RunResult {
			ran <- struct{}{}
			return nil
		},
	}}, nil, 0, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for range 2 {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
