package reporter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/model"
)

type fakeSignals struct {
	signals []model.Signal
	failed  []string
}

func (f *fakeSignals) FetchAccounts(_ context.Context, _ []string) ([]model.Signal, []string) {
	return f.signals, f.failed
}

func signalAt(id string, age time.Duration) model.Signal {
	return model.Signal{ID: id, Author: "acct", Content: "post " + id, CreatedAt: now.Add(-age)}
}

func TestMergeSignals(t *testing.T) {
	stored := []model.Signal{signalAt("1", time.Hour), signalAt("2", 30*time.Hour), signalAt("3", 2*time.Hour)}
	updated := signalAt("3", 2*time.Hour)
	updated.Engagement.Likes = 40
	fetched := []model.Signal{updated, signalAt("4", 10*time.Minute)}

	got, added := MergeSignals(stored, fetched, now.Add(-24*time.Hour))
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if len(got) != 3 || got[0].ID != "4" || got[1].ID != "1" || got[2].ID != "3" {
		t.Fatalf("merged = %+v", got)
	}
	if got[2].Engagement.Likes != 40 {
		t.Error("fetched copy should replace the stored one")
	}
}

func TestSignalCollectorRun(t *testing.T) {
	store := newMemStore()
	store.signals[model.CategoryAIML] = &model.SignalDocument{
		Category: model.CategoryAIML,
		Signals:  []model.Signal{signalAt("old", 48*time.Hour), signalAt("kept", time.Hour)},
	}
	fetcher := &fakeSignals{signals: []model.Signal{signalAt("new", time.Minute)}, failed: []string{"gone"}}

	c := NewSignalCollector(store, fetcher, SignalOptions{
		Accounts: map[model.Category][]string{model.CategoryAIML: {"ok", "gone"}},
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return now },
	})
	res := c.Run(context.Background(), model.CategoryAIML)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if res.ItemsFetched != 1 || res.ItemsNew != 1 || res.ItemsSelected != 2 || len(res.SourcesFailed) != 1 {
		t.Errorf("result = %+v", res)
	}
	doc := store.signals[model.CategoryAIML]
	if len(doc.Signals) != 2 || doc.Signals[0].ID != "new" || !doc.LastUpdated.Equal(now) {
		t.Errorf("doc = %+v", doc)
	}
}

func TestSignalCollectorAllAccountsFail(t *testing.T) {
	store := newMemStore()
	c := NewSignalCollector(store, &fakeSignals{failed: []string{"a", "b"}}, SignalOptions{
		Accounts: map[model.Category][]string{model.CategoryAIML: {"a", "b"}},
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return now },
	})
	res := c.Run(context.Background(), model.CategoryAIML)
	if res.Success {
		t.Fatal("run should fail when every account fails")
	}
	if _, ok := store.signals[model.CategoryAIML]; ok {
		t.Error("signals written after total failure")
	}
	if cats := c.Categories(); len(cats) != 1 || cats[0] != model.CategoryAIML {
		t.Errorf("categories = %v", cats)
	}
}
