package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/sigint/pkg/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sigint.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newsItem(id string, published time.Time) model.NewsItem {
	return model.NewsItem{
		ID:          id,
		Title:       "title " + id,
		Category:    model.CategoryAIML,
		Urgency:     model.UrgencyNormal,
		Entities:    []string{},
		Tags:        []string{},
		PublishedAt: &published,
		FetchedAt:   published,
	}
}

func TestDocumentsMissingReturnNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	raw, err := s.GetJSON(ctx, "nope")
	if err != nil || raw != nil {
		t.Fatalf("GetJSON(missing) = %q, %v", raw, err)
	}
	state, err := s.GetCurrent(ctx, model.CategoryAIML)
	if err != nil || state != nil {
		t.Fatalf("GetCurrent(missing) = %v, %v", state, err)
	}
	doc, err := s.GetNarratives(ctx)
	if err != nil || doc != nil {
		t.Fatalf("GetNarratives(missing) = %v, %v", doc, err)
	}
}

func TestCurrentRoundTripAndOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	state := &model.CategoryState{
		Category:    model.CategoryAIML,
		Items:       []model.NewsItem{newsItem("a", now)},
		LastUpdated: now,
		AgentNotes:  "first",
	}
	if err := s.SaveCurrent(ctx, state); err != nil {
		t.Fatal(err)
	}
	state.AgentNotes = "second"
	state.Items = append(state.Items, newsItem("b", now))
	if err := s.SaveCurrent(ctx, state); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCurrent(ctx, model.CategoryAIML)
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentNotes != "second" || len(got.Items) != 2 {
		t.Fatalf("got notes=%q items=%d", got.AgentNotes, len(got.Items))
	}
	if !got.LastUpdated.Equal(now) {
		t.Errorf("last_updated = %v", got.LastUpdated)
	}

	other, err := s.GetCurrent(ctx, model.CategoryGeopolitical)
	if err != nil || other != nil {
		t.Errorf("other category leaked: %v, %v", other, err)
	}
}

func TestSignalsAndCorrelations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	sig := &model.SignalDocument{
		Category:    model.CategoryCryptoFinance,
		Signals:     []model.Signal{{ID: "1", Author: "x", Content: "$BTC", CreatedAt: now, Cashtags: []string{"btc"}}},
		LastUpdated: now,
	}
	if err := s.SaveSignals(ctx, sig); err != nil {
		t.Fatal(err)
	}
	gotSig, err := s.GetSignals(ctx, model.CategoryCryptoFinance)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotSig.Signals) != 1 || gotSig.Signals[0].Cashtags[0] != "btc" {
		t.Fatalf("signals = %+v", gotSig.Signals)
	}

	lead := 2.0
	corr := &model.CorrelationDocument{
		Correlations: []model.CorrelatedNarrative{{ID: "entity_abc", Kind: model.CorrelationEntity, LeadLagHours: &lead}},
		LastUpdated:  now,
	}
	if err := s.SaveCorrelations(ctx, corr); err != nil {
		t.Fatal(err)
	}
	gotCorr, err := s.GetCorrelations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotCorr.Correlations) != 1 || !gotCorr.Correlations[0].SignalsLed() {
		t.Fatalf("correlations = %+v", gotCorr.Correlations)
	}
}

func TestSeenIDsUnion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

	if err := s.SaveCurrent(ctx, &model.CategoryState{
		Category: model.CategoryAIML,
		Items:    []model.NewsItem{newsItem("current", now)},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ArchiveItems(ctx, model.CategoryAIML, []model.NewsItem{newsItem("archived", now)}, now.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.ArchiveItems(ctx, model.CategoryAIML, []model.NewsItem{newsItem("stale", now)}, now.Add(-30*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSeen(ctx, model.CategoryAIML, []string{"dropped", "archived"}, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSeen(ctx, model.CategoryGeopolitical, []string{"elsewhere"}, now); err != nil {
		t.Fatal(err)
	}

	seen, err := s.GetSeenIDs(ctx, model.CategoryAIML, now)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"current", "archived", "dropped"} {
		if !seen[id] {
			t.Errorf("%s should be seen", id)
		}
	}
	for _, id := range []string{"stale", "elsewhere"} {
		if seen[id] {
			t.Errorf("%s should not be seen", id)
		}
	}
}

func TestArchiveDedupAndDailyCap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

	items := make([]model.NewsItem, 0, MaxArchivePerDay+20)
	for i := range MaxArchivePerDay + 20 {
		items = append(items, newsItem(fmt.Sprintf("item-%03d", i), now.Add(-time.Duration(i)*time.Minute)))
	}
	if err := s.ArchiveItems(ctx, model.CategoryAIML, items, now); err != nil {
		t.Fatal(err)
	}
	// Re-archiving keeps the first copy.
	dup := newsItem("item-000", now)
	dup.Title = "changed"
	if err := s.ArchiveItems(ctx, model.CategoryAIML, []model.NewsItem{dup}, now); err != nil {
		t.Fatal(err)
	}

	got, err := s.ArchiveRange(ctx, model.CategoryAIML, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != MaxArchivePerDay {
		t.Fatalf("archived %d items, want %d", len(got), MaxArchivePerDay)
	}
	if got[0].ID != "item-000" || got[0].Title != "title item-000" {
		t.Errorf("newest = %s %q", got[0].ID, got[0].Title)
	}
	if last := got[len(got)-1].ID; last != fmt.Sprintf("item-%03d", MaxArchivePerDay-1) {
		t.Errorf("oldest kept = %s", last)
	}
}

func TestRecentArchive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

	if err := s.ArchiveItems(ctx, model.CategoryDeepTech, []model.NewsItem{newsItem("old", now)}, now.Add(-10*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.ArchiveItems(ctx, model.CategoryDeepTech, []model.NewsItem{newsItem("new", now)}, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentArchive(ctx, model.CategoryDeepTech, now.Add(-6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("recent = %+v", got)
	}
}

func TestCleanupArchive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)

	for _, daysAgo := range []int{1, 10, 40} {
		at := now.AddDate(0, 0, -daysAgo)
		if err := s.ArchiveItems(ctx, model.CategoryAIML, []model.NewsItem{newsItem(fmt.Sprintf("d%d", daysAgo), at)}, at); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkSeen(ctx, model.CategoryAIML, []string{"ancient"}, now.AddDate(0, 0, -60)); err != nil {
		t.Fatal(err)
	}

	dry, err := s.CleanupArchive(ctx, 30, true, now)
	if err != nil {
		t.Fatal(err)
	}
	if !dry.DryRun || dry.CutoffDate != "2025-03-01" || len(dry.Dates) != 1 || dry.Items != 1 {
		t.Fatalf("dry run = %+v", dry)
	}
	dates, _ := s.ArchiveDates(ctx)
	if len(dates) != 3 {
		t.Fatalf("dry run deleted data: %v", dates)
	}

	report, err := s.CleanupArchive(ctx, 30, false, now)
	if err != nil {
		t.Fatal(err)
	}
	if report.Items != 1 || report.SeenPruned != 1 || report.Dates[0] != "2025-02-19" {
		t.Fatalf("report = %+v", report)
	}
	dates, err = s.ArchiveDates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 2 || dates[0] != "2025-03-30" || dates[1] != "2025-03-21" {
		t.Fatalf("dates = %v", dates)
	}
}

func TestClampRetentionDays(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 7}, {3, 7}, {30, 30}, {365, 365}, {1000, 365},
	}
	for _, tt := range tests {
		if got := ClampRetentionDays(tt.in); got != tt.want {
			t.Errorf("ClampRetentionDays(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
