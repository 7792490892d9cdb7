package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/sigint/pkg/model"
)

const (
	dayLayout = "2006-01-02"

	// MaxArchivePerDay bounds archived items per category per day.
	MaxArchivePerDay = 100

	MinRetentionDays     = 7
	MaxRetentionDays     = 365
	DefaultRetentionDays = 30

	maxArchiveRangeDays = 30
	seenWindow          = 24 * time.Hour

	narrativesKey   = "current/narratives.json"
	correlationsKey = "current/correlations.json"
)

// CurrentKey is the document key of a category panel.
func CurrentKey(cat model.Category) string {
	return fmt.Sprintf("current/%s.json", cat)
}

// SignalsKey is the document key of a category's signal window.
func SignalsKey(cat model.Category) string {
	return fmt.Sprintf("raw/%s/signals.json", cat)
}

// CleanupReport summarises an archive cleanup.
type CleanupReport struct {
	DryRun        bool     `json:"dry_run"`
	RetentionDays int      `json:"retention_days"`
	CutoffDate    string   `json:"cutoff_date"`
	Dates         []string `json:"dates"`
	Items         int64    `json:"items"`
	SeenPruned    int64    `json:"seen_pruned"`
}

// Store is the persistence interface. Getters return nil, nil for missing
// documents.
type Store interface {
	GetJSON(ctx context.Context, key string) (json.RawMessage, error)
	PutJSON(ctx context.Context, key string, v any) error

	GetCurrent(ctx context.Context, cat model.Category) (*model.CategoryState, error)
	SaveCurrent(ctx context.Context, state *model.CategoryState) error
	GetNarratives(ctx context.Context) (*model.NarrativeDocument, error)
	SaveNarratives(ctx context.Context, doc *model.NarrativeDocument) error
	GetSignals(ctx context.Context, cat model.Category) (*model.SignalDocument, error)
	SaveSignals(ctx context.Context, doc *model.SignalDocument) error
	GetCorrelations(ctx context.Context) (*model.CorrelationDocument, error)
	SaveCorrelations(ctx context.Context, doc *model.CorrelationDocument) error

	GetSeenIDs(ctx context.Context, cat model.Category, now time.Time) (map[string]bool, error)
	MarkSeen(ctx context.Context, cat model.Category, ids []string, now time.Time) error
	ArchiveItems(ctx context.Context, cat model.Category, items []model.NewsItem, now time.Time) error
	RecentArchive(ctx context.Context, cat model.Category, since time.Time) ([]model.NewsItem, error)
	ArchiveRange(ctx context.Context, cat model.Category, days int, now time.Time) ([]model.NewsItem, error)
	ArchiveDates(ctx context.Context) ([]string, error)
	CleanupArchive(ctx context.Context, retentionDays int, dryRun bool, now time.Time) (CleanupReport, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetJSON returns the raw document stored under key.
func (s *SQLiteStore) GetJSON(ctx context.Context, key string) (json.RawMessage, error) {
	var body string
	err := s.db.GetContext(ctx, &body, "SELECT body FROM documents WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return json.RawMessage(body), nil
}

// PutJSON replaces the document stored under key.
func (s *SQLiteStore) PutJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, key, string(body), s.now().Unix())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// getDoc decodes the document under key into a new T, or returns nil when
// the key is absent.
func getDoc[T any](ctx context.Context, s *SQLiteStore, key string) (*T, error) {
	raw, err := s.GetJSON(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &doc, nil
}

func (s *SQLiteStore) GetCurrent(ctx context.Context, cat model.Category) (*model.CategoryState, error) {
	return getDoc[model.CategoryState](ctx, s, CurrentKey(cat))
}

func (s *SQLiteStore) SaveCurrent(ctx context.Context, state *model.CategoryState) error {
	return s.PutJSON(ctx, CurrentKey(state.Category), state)
}

func (s *SQLiteStore) GetNarratives(ctx context.Context) (*model.NarrativeDocument, error) {
	return getDoc[model.NarrativeDocument](ctx, s, narrativesKey)
}

func (s *SQLiteStore) SaveNarratives(ctx context.Context, doc *model.NarrativeDocument) error {
	return s.PutJSON(ctx, narrativesKey, doc)
}

func (s *SQLiteStore) GetSignals(ctx context.Context, cat model.Category) (*model.SignalDocument, error) {
	return getDoc[model.SignalDocument](ctx, s, SignalsKey(cat))
}

func (s *SQLiteStore) SaveSignals(ctx context.Context, doc *model.SignalDocument) error {
	return s.PutJSON(ctx, SignalsKey(doc.Category), doc)
}

func (s *SQLiteStore) GetCorrelations(ctx context.Context) (*model.CorrelationDocument, error) {
	return getDoc[model.CorrelationDocument](ctx, s, correlationsKey)
}

func (s *SQLiteStore) SaveCorrelations(ctx context.Context, doc *model.CorrelationDocument) error {
	return s.PutJSON(ctx, correlationsKey, doc)
}

// GetSeenIDs returns the ids on the current panel plus everything archived
// or marked seen in the last 24 hours.
func (s *SQLiteStore) GetSeenIDs(ctx context.Context, cat model.Category, now time.Time) (map[string]bool, error) {
	seen := make(map[string]bool)

	current, err := s.GetCurrent(ctx, cat)
	if err != nil {
		return nil, err
	}
	for _, id := range current.IDs() {
		seen[id] = true
	}

	since := now.Add(-seenWindow).Unix()
	var ids []string
	err = s.db.SelectContext(ctx, &ids, `
		SELECT item_id FROM archive_items WHERE category = ? AND archived_at > ?
		UNION
		SELECT item_id FROM seen_items WHERE category = ? AND seen_at > ?
	`, string(cat), since, string(cat), since)
	if err != nil {
		return nil, fmt.Errorf("seen ids %s: %w", cat, err)
	}
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

// MarkSeen records processed ids so later runs skip them.
func (s *SQLiteStore) MarkSeen(ctx context.Context, cat model.Category, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark seen: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO seen_items (category, item_id, seen_at) VALUES (?, ?, ?)
			ON CONFLICT(category, item_id) DO UPDATE SET seen_at = excluded.seen_at
		`, string(cat), id, now.Unix())
		if err != nil {
			return fmt.Errorf("mark seen %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ArchiveItems appends items to today's archive for cat. Items already
// archived today keep their first copy, and each day keeps the newest
// MaxArchivePerDay items.
func (s *SQLiteStore) ArchiveItems(ctx context.Context, cat model.Category, items []model.NewsItem, now time.Time) error {
	if len(items) == 0 {
		return nil
	}
	day := now.UTC().Format(dayLayout)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode archive item %s: %w", item.ID, err)
		}
		sortTime := item.FetchedAt
		if item.PublishedAt != nil {
			sortTime = *item.PublishedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO archive_items (day, category, item_id, sort_time, archived_at, body)
			VALUES (?, ?, ?, ?, ?, ?)
		`, day, string(cat), item.ID, sortTime.Unix(), now.Unix(), string(body))
		if err != nil {
			return fmt.Errorf("archive item %s: %w", item.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM archive_items WHERE day = ? AND category = ? AND item_id NOT IN (
			SELECT item_id FROM archive_items WHERE day = ? AND category = ?
			ORDER BY sort_time DESC LIMIT ?
		)
	`, day, string(cat), day, string(cat), MaxArchivePerDay)
	if err != nil {
		return fmt.Errorf("trim archive %s %s: %w", day, cat, err)
	}
	return tx.Commit()
}

// RecentArchive returns items archived for cat since the given time, newest first.
func (s *SQLiteStore) RecentArchive(ctx context.Context, cat model.Category, since time.Time) ([]model.NewsItem, error) {
	return s.selectArchive(ctx, `
		SELECT body FROM archive_items WHERE category = ? AND archived_at > ?
		ORDER BY sort_time DESC
	`, string(cat), since.Unix())
}

// ArchiveRange returns the last days (1..30) of archived items, newest first.
func (s *SQLiteStore) ArchiveRange(ctx context.Context, cat model.Category, days int, now time.Time) ([]model.NewsItem, error) {
	days = max(1, min(days, maxArchiveRangeDays))
	from := now.UTC().AddDate(0, 0, -(days - 1)).Format(dayLayout)
	return s.selectArchive(ctx, `
		SELECT body FROM archive_items WHERE category = ? AND day >= ?
		ORDER BY sort_time DESC
	`, string(cat), from)
}

func (s *SQLiteStore) selectArchive(ctx context.Context, query string, args ...any) ([]model.NewsItem, error) {
	var bodies []string
	if err := s.db.SelectContext(ctx, &bodies, query, args...); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	items := make([]model.NewsItem, 0, len(bodies))
	for _, body := range bodies {
		var item model.NewsItem
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("decode archive item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ArchiveDates lists days with archived items, newest first.
func (s *SQLiteStore) ArchiveDates(ctx context.Context) ([]string, error) {
	var dates []string
	if err := s.db.SelectContext(ctx, &dates, "SELECT DISTINCT day FROM archive_items ORDER BY day DESC"); err != nil {
		return nil, fmt.Errorf("archive dates: %w", err)
	}
	return dates, nil
}

// ClampRetentionDays bounds a retention period to [7, 365] days.
func ClampRetentionDays(days int) int {
	return max(MinRetentionDays, min(days, MaxRetentionDays))
}

// CleanupArchive deletes archive days older than the retention period, and
// seen markers older than the same cutoff. A dry run only reports.
func (s *SQLiteStore) CleanupArchive(ctx context.Context, retentionDays int, dryRun bool, now time.Time) (CleanupReport, error) {
	retentionDays = ClampRetentionDays(retentionDays)
	cutoffTime := now.UTC().AddDate(0, 0, -retentionDays)
	report := CleanupReport{
		DryRun:        dryRun,
		RetentionDays: retentionDays,
		CutoffDate:    cutoffTime.Format(dayLayout),
		Dates:         []string{},
	}

	if err := s.db.SelectContext(ctx, &report.Dates,
		"SELECT DISTINCT day FROM archive_items WHERE day < ? ORDER BY day", report.CutoffDate); err != nil {
		return report, fmt.Errorf("list expired archive days: %w", err)
	}

	if dryRun {
		err := s.db.GetContext(ctx, &report.Items, "SELECT COUNT(*) FROM archive_items WHERE day < ?", report.CutoffDate)
		if err != nil {
			return report, fmt.Errorf("count expired archive items: %w", err)
		}
		return report, nil
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM archive_items WHERE day < ?", report.CutoffDate)
	if err != nil {
		return report, fmt.Errorf("delete expired archive items: %w", err)
	}
	report.Items, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, "DELETE FROM seen_items WHERE seen_at < ?", cutoffTime.Unix())
	if err != nil {
		return report, fmt.Errorf("delete expired seen ids: %w", err)
	}
	report.SeenPruned, _ = res.RowsAffected()
	return report, nil
}
