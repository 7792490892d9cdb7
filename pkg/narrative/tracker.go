package narrative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/elonfeng/sigint/pkg/correlation"
	"github.com/elonfeng/sigint/pkg/llm"
	"github.com/elonfeng/sigint/pkg/model"
)

const (
	// JobName identifies tracker runs in results and logs.
	JobName = "narrative"

	minRisingCount    = 3
	risingRatio       = 2.0
	topicLimit        = 5
	patternsPerKind   = 2
	maxPatternItemIDs = 10
	archiveLookback   = 24 * time.Hour
	velocitySource    = "velocity_analysis"
	correlationSource = "signal_correlation"
)

// Store is the persistence the tracker needs.
type Store interface {
	GetCurrent(ctx context.Context, cat model.Category) (*model.CategoryState, error)
	SaveCurrent(ctx context.Context, state *model.CategoryState) error
	RecentArchive(ctx context.Context, cat model.Category, since time.Time) ([]model.NewsItem, error)
	GetSignals(ctx context.Context, cat model.Category) (*model.SignalDocument, error)
	SaveCorrelations(ctx context.Context, doc *model.CorrelationDocument) error
	GetNarratives(ctx context.Context) (*model.NarrativeDocument, error)
	SaveNarratives(ctx context.Context, doc *model.NarrativeDocument) error
}

// PatternDetector proposes patterns from the current panels.
type PatternDetector interface {
	DetectNarratives(ctx context.Context, itemsByCategory map[model.Category][]model.NewsItem) ([]llm.PatternSuggestion, error)
}

// TrackerOptions configures a Tracker. Detector and Engine are optional.
type TrackerOptions struct {
	Detector         PatternDetector
	Engine           *correlation.Engine
	SignalCategories []model.Category
	Aggregate        Options
	Logger           zerolog.Logger
	Now              func() time.Time
}

// Tracker is the narrative job.
type Tracker struct {
	store            Store
	detector         PatternDetector
	engine           *correlation.Engine
	signalCategories []model.Category
	opts             Options
	logger           zerolog.Logger
	now              func() time.Time
}

// Rising is an entity mentioned far more in current panels than in the archive.
type Rising struct {
	Entity       string
	CurrentCount int
	ArchiveCount int
	Ratio        float64
}

// CrossTopic is an entity present in several categories.
type CrossTopic struct {
	Entity     string
	Categories []string
}

// NewTracker builds a tracker over s.
func NewTracker(s Store, opts TrackerOptions) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.SignalCategories) == 0 {
		opts.SignalCategories = []model.Category{model.CategoryAIML}
	}
	return &Tracker{
		store:            s,
		detector:         opts.Detector,
		engine:           opts.Engine,
		signalCategories: opts.SignalCategories,
		opts:             opts.Aggregate,
		logger:           opts.Logger.With().Str("job", JobName).Logger(),
		now:              opts.Now,
	}
}

// Run detects patterns, merges them with the stored set and writes both the
// narrative document and the narrative panel. Model failures only reduce the
// output; storage failures fail the run.
func (t *Tracker) Run(ctx context.Context) (res model.RunResult) {
	start := t.now()
	now := start.UTC()
	res = model.NewRunResult(JobName, model.CategoryNarrative, now)
	defer func() { res.DurationMS = t.now().Sub(start).Milliseconds() }()

	byCategory := make(map[model.Category][]model.NewsItem)
	var current, archive []model.NewsItem
	for _, cat := range model.ReportCategories() {
		state, err := t.store.GetCurrent(ctx, cat)
		if err != nil {
			res.Fail(fmt.Errorf("load %s: %w", cat, err))
			return res
		}
		if state != nil && len(state.Items) > 0 {
			byCategory[cat] = state.Items
			current = append(current, state.Items...)
		}
		old, err := t.store.RecentArchive(ctx, cat, now.Add(-archiveLookback))
		if err != nil {
			res.Fail(fmt.Errorf("load %s archive: %w", cat, err))
			return res
		}
		archive = append(archive, old...)
	}
	res.ItemsFetched = len(current)

	rising := RisingEntities(current, archive)
	cross := CrossCategoryTopics(byCategory)

	var detected []model.NarrativePattern
	if t.detector != nil {
		suggestions, err := t.detector.DetectNarratives(ctx, byCategory)
		if err != nil {
			t.logger.Warn().Err(err).Msg("narrative detection failed")
		}
		for _, s := range suggestions {
			if s.Title == "" {
				continue
			}
			detected = append(detected, model.NarrativePattern{
				ID:          patternID(s.Title),
				Title:       s.Title,
				Description: s.Description,
				Sources:     nonNil(s.Sources),
				ItemIDs:     []string{},
				Strength:    s.Strength,
				FirstSeen:   now,
				LastSeen:    now,
			})
		}
	}

	title := cases.Title(language.English)
	for _, r := range rising[:min(patternsPerKind, len(rising))] {
		detected = append(detected, model.NarrativePattern{
			ID:          patternID("velocity:" + r.Entity),
			Title:       "Rising: " + title.String(r.Entity),
			Description: fmt.Sprintf("'%s' mentions spiking (%d current vs %d in archive)", r.Entity, r.CurrentCount, r.ArchiveCount),
			Sources:     []string{velocitySource},
			ItemIDs:     itemsMentioning(current, r.Entity),
			Strength:    min(r.Ratio/5, 1),
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	for _, c := range cross[:min(patternsPerKind, len(cross))] {
		detected = append(detected, model.NarrativePattern{
			ID:          patternID("cross:" + c.Entity),
			Title:       "Cross-Signal: " + title.String(c.Entity),
			Description: fmt.Sprintf("'%s' appearing across %d categories: %s", c.Entity, len(c.Categories), strings.Join(c.Categories, ", ")),
			Sources:     c.Categories,
			ItemIDs:     itemsMentioning(current, c.Entity),
			Strength:    min(float64(len(c.Categories))/4, 1),
			FirstSeen:   now,
			LastSeen:    now,
		})
	}

	signalPatterns, err := t.correlate(ctx, current, now)
	if err != nil {
		res.Fail(err)
		return res
	}
	detected = append(detected, signalPatterns...)

	var existing []model.NarrativePattern
	doc, err := t.store.GetNarratives(ctx)
	if err != nil {
		res.Fail(fmt.Errorf("load narratives: %w", err))
		return res
	}
	if doc != nil {
		existing = doc.Patterns
	}

	patterns := Aggregate(existing, detected, now, t.opts)
	if err := t.store.SaveNarratives(ctx, &model.NarrativeDocument{Patterns: patterns, LastUpdated: now}); err != nil {
		res.Fail(fmt.Errorf("save narratives: %w", err))
		return res
	}

	notes := fmt.Sprintf("Tracking %d active narratives", len(patterns))
	items := DisplayItems(patterns, DefaultDisplayItems, now)
	if err := t.store.SaveCurrent(ctx, &model.CategoryState{
		Category:    model.CategoryNarrative,
		Items:       items,
		LastUpdated: now,
		AgentNotes:  notes,
	}); err != nil {
		res.Fail(fmt.Errorf("save narrative panel: %w", err))
		return res
	}

	res.Success = true
	res.ItemsCandidates = len(detected)
	res.ItemsSelected = len(items)
	res.TopItems = items
	res.AgentNotes = notes
	res.Message = fmt.Sprintf("%d detected, %d rising, %d cross-category, %d signal-led",
		len(detected), len(rising), len(cross), len(signalPatterns))

	t.logger.Info().
		Int("detected", len(detected)).
		Int("rising", len(rising)).
		Int("cross", len(cross)).
		Int("signal_led", len(signalPatterns)).
		Int("active", len(patterns)).
		Msg("narrative run complete")
	return res
}

// correlate runs the correlation engine over stored signals, persists the
// result and returns leading indicators as patterns.
func (t *Tracker) correlate(ctx context.Context, news []model.NewsItem, now time.Time) ([]model.NarrativePattern, error) {
	if t.engine == nil {
		return nil, nil
	}

	var signals []model.Signal
	for _, cat := range t.signalCategories {
		doc, err := t.store.GetSignals(ctx, cat)
		if err != nil {
			return nil, fmt.Errorf("load %s signals: %w", cat, err)
		}
		if doc != nil {
			signals = append(signals, doc.Signals...)
		}
	}
	if len(signals) == 0 {
		return nil, nil
	}

	// Signals older than the velocity window form the baseline, so current
	// activity is never measured against itself.
	historical := signalsBefore(signals, now.Add(-t.engine.Config().VelocityWindow))
	correlations := t.engine.CorrelateWithBaseline(signals, historical, news, now)
	divergent := t.engine.DivergentSignalsWithBaseline(signals, historical, news, now)
	if err := t.store.SaveCorrelations(ctx, &model.CorrelationDocument{
		Correlations: correlations,
		Divergent:    divergent,
		LastUpdated:  now,
	}); err != nil {
		return nil, fmt.Errorf("save correlations: %w", err)
	}

	var out []model.NarrativePattern
	for _, c := range correlation.LeadingIndicators(correlations) {
		out = append(out, model.NarrativePattern{
			ID:          patternID("signal:" + c.ID),
			Title:       "Signal: " + c.Title,
			Description: c.EvidenceSummary,
			Sources:     []string{correlationSource},
			ItemIDs:     nonNil(c.ArticleIDs),
			Strength:    c.ConfidenceScore,
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	t.logger.Debug().
		Int("signals", len(signals)).
		Int("correlations", len(correlations)).
		Int("divergent", len(divergent)).
		Msg("signals correlated")
	return out, nil
}

// RisingEntities compares entity counts in current items with the archive.
// An entity rises when it has at least 3 current mentions and is either new
// or more than twice as frequent as in the archive. The top 5 are returned.
func RisingEntities(current, archive []model.NewsItem) []Rising {
	cur := countEntities(current)
	before := countEntities(archive)

	var out []Rising
	for entity, n := range cur {
		a := before[entity]
		ratio := float64(n) / float64(max(a, 1))
		if n >= minRisingCount && (a == 0 || ratio > risingRatio) {
			out = append(out, Rising{Entity: entity, CurrentCount: n, ArchiveCount: a, Ratio: ratio})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ratio != out[j].Ratio {
			return out[i].Ratio > out[j].Ratio
		}
		return out[i].Entity < out[j].Entity
	})
	return out[:min(topicLimit, len(out))]
}

// CrossCategoryTopics returns up to 5 entities present in two or more
// categories, most widespread first.
func CrossCategoryTopics(byCategory map[model.Category][]model.NewsItem) []CrossTopic {
	seen := make(map[string]map[string]bool)
	for cat, items := range byCategory {
		for _, item := range items {
			for _, e := range item.Entities {
				e = strings.ToLower(strings.TrimSpace(e))
				if e == "" {
					continue
				}
				if seen[e] == nil {
					seen[e] = make(map[string]bool)
				}
				seen[e][string(cat)] = true
			}
		}
	}

	var out []CrossTopic
	for entity, cats := range seen {
		if len(cats) < 2 {
			continue
		}
		list := make([]string, 0, len(cats))
		for c := range cats {
			list = append(list, c)
		}
		sort.Strings(list)
		out = append(out, CrossTopic{Entity: entity, Categories: list})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Categories) != len(out[j].Categories) {
			return len(out[i].Categories) > len(out[j].Categories)
		}
		return out[i].Entity < out[j].Entity
	})
	return out[:min(topicLimit, len(out))]
}

func countEntities(items []model.NewsItem) map[string]int {
	counts := make(map[string]int)
	for _, item := range items {
		for _, e := range item.Entities {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				counts[e]++
			}
		}
	}
	return counts
}

func itemsMentioning(items []model.NewsItem, entity string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, item := range items {
		if len(out) == maxPatternItemIDs {
			break
		}
		for _, e := range item.Entities {
			if strings.EqualFold(strings.TrimSpace(e), entity) && !seen[item.ID] {
				seen[item.ID] = true
				out = append(out, item.ID)
				break
			}
		}
	}
	return out
}

func patternID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func signalsBefore(signals []model.Signal, cutoff time.Time) []model.Signal {
	var out []model.Signal
	for _, sig := range signals {
		if sig.CreatedAt.Before(cutoff) {
			out = append(out, sig)
		}
	}
	return out
}
