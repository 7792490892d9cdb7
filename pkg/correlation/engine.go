// Package correlation detects velocity spikes in social signals and links them
// to news coverage. Everything here is pure: no I/O, no errors, and the clock
// is always passed in.
package correlation

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/elonfeng/sigint/pkg/model"
)

// Config holds the engine thresholds.
type Config struct {
	VelocityWindow       time.Duration
	BaselineWindow       time.Duration
	SpikeThreshold       float64
	BaselineFloor        float64
	EntityMatchThreshold float64
	TemporalWindow       time.Duration
	MinConfidence        float64
	MaxSpikes            int
	MaxSamples           int
	KnownTerms           []string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		VelocityWindow:       60 * time.Minute,
		BaselineWindow:       24 * time.Hour,
		SpikeThreshold:       2.0,
		BaselineFloor:        0.1,
		EntityMatchThreshold: 0.3,
		TemporalWindow:       6 * time.Hour,
		MinConfidence:        0.4,
		MaxSpikes:            5,
		MaxSamples:           3,
		KnownTerms: []string{
			"gpt", "claude", "gemini", "llama", "openai", "anthropic", "deepmind",
			"meta ai", "agi", "llm", "transformer", "neural", "machine learning",
			"deep learning",
		},
	}
}

// noHistoryRatio approximates the baseline as a fraction of the current
// velocity when no historical signals are available.
const noHistoryRatio = 0.3

const (
	maxEntitySignalIDs  = 10
	maxEntityArticleIDs = 5
	maxSharedKeywords   = 10
	maxSpikeArticleIDs  = 5
)

var (
	capsPattern   = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*\b`)
	quotedPattern = regexp.MustCompile(`"([^"]+)"`)
)

// Engine correlates signals with news.
type Engine struct {
	cfg Config
}

// New returns an engine. Zero config fields take their defaults and the spike
// threshold is never below 1, so every spike has magnitude >= 1.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = def.VelocityWindow
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = def.BaselineWindow
	}
	if cfg.SpikeThreshold <= 0 {
		cfg.SpikeThreshold = def.SpikeThreshold
	}
	cfg.SpikeThreshold = math.Max(cfg.SpikeThreshold, 1)
	if cfg.BaselineFloor <= 0 {
		cfg.BaselineFloor = def.BaselineFloor
	}
	if cfg.EntityMatchThreshold <= 0 {
		cfg.EntityMatchThreshold = def.EntityMatchThreshold
	}
	if cfg.TemporalWindow <= 0 {
		cfg.TemporalWindow = def.TemporalWindow
	}
	if cfg.MinConfidence < 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MaxSpikes <= 0 {
		cfg.MaxSpikes = def.MaxSpikes
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if len(cfg.KnownTerms) == 0 {
		cfg.KnownTerms = def.KnownTerms
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Keywords extracts lower-cased candidate entities from free text: capitalised
// phrases, quoted strings and known domain terms. It over-matches on purpose;
// the Jaccard threshold downstream absorbs the noise.
func (e *Engine) Keywords(text string) []string {
	set := make(map[string]bool)
	for _, m := range capsPattern.FindAllString(text, -1) {
		if len(m) > 2 {
			set[strings.ToLower(m)] = true
		}
	}
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		if q := strings.TrimSpace(m[1]); q != "" {
			set[strings.ToLower(q)] = true
		}
	}
	lower := strings.ToLower(text)
	for _, term := range e.cfg.KnownTerms {
		if strings.Contains(lower, term) {
			set[term] = true
		}
	}
	return sortedKeys(set)
}

// Velocity returns mentions per hour for every entity seen in signals created
// within [now-window, now]. A signal counts once per entity.
func (e *Engine) Velocity(signals []model.Signal, window time.Duration, now time.Time) map[string]float64 {
	out := make(map[string]float64)
	hours := window.Hours()
	if hours <= 0 {
		return out
	}
	start := now.Add(-window)
	for _, s := range signals {
		if !inWindow(s.CreatedAt, start, now) {
			continue
		}
		for entity := range e.signalEntities(s) {
			out[entity]++
		}
	}
	for entity, n := range out {
		out[entity] = n / hours
	}
	return out
}

// DetectSpikes compares the current velocity with a baseline. With historical
// signals the baseline is their velocity over the baseline window; without,
// it is approximated as a fixed fraction of the current velocity. Entities
// missing from the baseline fall back to the baseline floor.
func (e *Engine) DetectSpikes(signals, historical []model.Signal, now time.Time) []model.VelocitySpike {
	current := e.Velocity(signals, e.cfg.VelocityWindow, now)

	var baseline map[string]float64
	if len(historical) > 0 {
		baseline = e.Velocity(historical, e.cfg.BaselineWindow, now)
	} else {
		baseline = make(map[string]float64, len(current))
		for entity, v := range current {
			baseline[entity] = v * noHistoryRatio
		}
	}

	start := now.Add(-e.cfg.VelocityWindow)
	spikes := make([]model.VelocitySpike, 0)
	for entity, v := range current {
		b, ok := baseline[entity]
		if !ok {
			b = e.cfg.BaselineFloor
		}
		magnitude := v / math.Max(b, e.cfg.BaselineFloor)
		if magnitude < e.cfg.SpikeThreshold {
			continue
		}
		spikes = append(spikes, model.VelocitySpike{
			Entity:           entity,
			Velocity:         v,
			BaselineVelocity: b,
			Magnitude:        magnitude,
			WindowStart:      start,
			WindowPeak:       now,
			SampleIDs:        e.samples(signals, entity, start, now),
		})
	}

	sort.Slice(spikes, func(i, j int) bool {
		if spikes[i].Magnitude != spikes[j].Magnitude {
			return spikes[i].Magnitude > spikes[j].Magnitude
		}
		return spikes[i].Entity < spikes[j].Entity
	})
	return spikes
}

// Correlate runs both correlation passes with no historical baseline.
func (e *Engine) Correlate(signals []model.Signal, news []model.NewsItem, now time.Time) []model.CorrelatedNarrative {
	return e.CorrelateWithBaseline(signals, nil, news, now)
}

// CorrelateWithBaseline merges entity-overlap and spike correlations, drops
// duplicates and low-confidence results, and sorts by confidence.
func (e *Engine) CorrelateWithBaseline(signals, historical []model.Signal, news []model.NewsItem, now time.Time) []model.CorrelatedNarrative {
	out := make([]model.CorrelatedNarrative, 0)
	if len(signals) == 0 || len(news) == 0 {
		return out
	}

	var all []model.CorrelatedNarrative
	if c, ok := e.correlateEntities(signals, news); ok {
		all = append(all, c)
	}
	all = append(all, e.correlateSpikes(signals, e.DetectSpikes(signals, historical, now), news)...)

	seen := make(map[string]bool, len(all))
	for _, c := range all {
		if seen[c.ID] || c.ConfidenceScore < e.cfg.MinConfidence {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ConfidenceScore > out[j].ConfidenceScore
	})
	return out
}

// DivergentSignals returns spikes with no matching news entity.
func (e *Engine) DivergentSignals(signals []model.Signal, news []model.NewsItem, now time.Time) []model.VelocitySpike {
	return e.DivergentSignalsWithBaseline(signals, nil, news, now)
}

// DivergentSignalsWithBaseline is DivergentSignals with a historical baseline.
func (e *Engine) DivergentSignalsWithBaseline(signals, historical []model.Signal, news []model.NewsItem, now time.Time) []model.VelocitySpike {
	covered := make(map[string]bool)
	for _, n := range news {
		for entity := range e.newsEntities(n) {
			covered[entity] = true
		}
	}
	out := make([]model.VelocitySpike, 0)
	for _, spike := range e.DetectSpikes(signals, historical, now) {
		if !covered[spike.Entity] {
			out = append(out, spike)
		}
	}
	return out
}

// LeadingIndicators keeps the correlations where signals came before news.
func LeadingIndicators(correlations []model.CorrelatedNarrative) []model.CorrelatedNarrative {
	out := make([]model.CorrelatedNarrative, 0)
	for _, c := range correlations {
		if c.SignalsLed() {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) correlateEntities(signals []model.Signal, news []model.NewsItem) (model.CorrelatedNarrative, bool) {
	signalSets := make([]map[string]bool, len(signals))
	signalAll := make(map[string]bool)
	for i, s := range signals {
		signalSets[i] = e.signalEntities(s)
		for entity := range signalSets[i] {
			signalAll[entity] = true
		}
	}
	newsSets := make([]map[string]bool, len(news))
	newsAll := make(map[string]bool)
	for i, n := range news {
		newsSets[i] = e.newsEntities(n)
		for entity := range newsSets[i] {
			newsAll[entity] = true
		}
	}

	shared := make(map[string]bool)
	for entity := range signalAll {
		if newsAll[entity] {
			shared[entity] = true
		}
	}
	if len(shared) == 0 {
		return model.CorrelatedNarrative{}, false
	}
	union := len(signalAll) + len(newsAll) - len(shared)
	similarity := float64(len(shared)) / float64(union)
	if similarity < e.cfg.EntityMatchThreshold {
		return model.CorrelatedNarrative{}, false
	}

	var matchedSignals []model.Signal
	for i, s := range signals {
		if intersects(signalSets[i], shared) {
			matchedSignals = append(matchedSignals, s)
		}
	}
	var matchedNews []model.NewsItem
	for i, n := range news {
		if intersects(newsSets[i], shared) {
			matchedNews = append(matchedNews, n)
		}
	}
	if len(matchedSignals) == 0 || len(matchedNews) == 0 {
		return model.CorrelatedNarrative{}, false
	}

	earliestSignal := matchedSignals[0].CreatedAt
	hashtags := make(map[string]bool)
	signalIDs := make([]string, 0, maxEntitySignalIDs)
	for _, s := range matchedSignals {
		if s.CreatedAt.Before(earliestSignal) {
			earliestSignal = s.CreatedAt
		}
		for _, h := range s.Hashtags {
			if h = strings.ToLower(h); shared[h] {
				hashtags[h] = true
			}
		}
		if len(signalIDs) < maxEntitySignalIDs {
			signalIDs = append(signalIDs, s.ID)
		}
	}

	articleIDs := make([]string, 0, maxEntityArticleIDs)
	var earliestNews *time.Time
	for _, n := range matchedNews {
		if len(articleIDs) < maxEntityArticleIDs {
			articleIDs = append(articleIDs, n.ID)
		}
		if n.PublishedAt != nil && (earliestNews == nil || n.PublishedAt.Before(*earliestNews)) {
			t := *n.PublishedAt
			earliestNews = &t
		}
	}

	var leadLag *float64
	if earliestNews != nil {
		h := earliestNews.Sub(earliestSignal).Hours()
		leadLag = &h
	}

	confidence := math.Min(0.95,
		0.5*similarity+
			0.25*math.Min(1, float64(len(matchedSignals))/10)+
			0.25*math.Min(1, float64(len(matchedNews))/5))

	keywords := sortedKeys(shared)
	return model.CorrelatedNarrative{
		ID:                  "entity_" + shortHash(strings.Join(keywords, ","), 12),
		Kind:                model.CorrelationEntity,
		Title:               "Correlation: " + strings.Join(keywords[:min(3, len(keywords))], ", "),
		SignalIDs:           signalIDs,
		ArticleIDs:          articleIDs,
		SharedKeywords:      keywords[:min(maxSharedKeywords, len(keywords))],
		Hashtags:            sortedKeys(hashtags),
		SignalSpikeTime:     earliestSignal,
		ArticlePublishTime:  earliestNews,
		LeadLagHours:        leadLag,
		ConfidenceScore:     confidence,
		AmplificationFactor: 1.0,
		EvidenceSummary: fmt.Sprintf("Found %d shared entities across %d signals and %d news items",
			len(shared), len(matchedSignals), len(matchedNews)),
	}, true
}

func (e *Engine) correlateSpikes(signals []model.Signal, spikes []model.VelocitySpike, news []model.NewsItem) []model.CorrelatedNarrative {
	hashtagged := make(map[string]bool)
	for _, s := range signals {
		for _, h := range s.Hashtags {
			hashtagged[strings.ToLower(h)] = true
		}
	}

	var out []model.CorrelatedNarrative
	for _, spike := range spikes[:min(e.cfg.MaxSpikes, len(spikes))] {
		var matched []model.NewsItem
		var earliest *time.Time
		for _, n := range news {
			if n.PublishedAt == nil || !mentions(n, spike.Entity) {
				continue
			}
			if math.Abs(n.PublishedAt.Sub(spike.WindowPeak).Hours()) > e.cfg.TemporalWindow.Hours() {
				continue
			}
			matched = append(matched, n)
			if earliest == nil || n.PublishedAt.Before(*earliest) {
				t := *n.PublishedAt
				earliest = &t
			}
		}
		if len(matched) == 0 {
			continue
		}

		leadLag := earliest.Sub(spike.WindowPeak).Hours()
		var confidence float64
		if leadLag > 0 {
			confidence = math.Min(0.9, 0.5+0.1*spike.Magnitude+0.1*float64(len(matched)))
		} else {
			confidence = math.Min(0.7, 0.3+0.1*spike.Magnitude+0.1*float64(len(matched)))
		}

		articleIDs := make([]string, 0, maxSpikeArticleIDs)
		for _, n := range matched[:min(maxSpikeArticleIDs, len(matched))] {
			articleIDs = append(articleIDs, n.ID)
		}

		direction := "followed"
		if leadLag > 0 {
			direction = "preceded"
		}

		var hashtags []string
		if hashtagged[spike.Entity] {
			hashtags = []string{spike.Entity}
		}

		var questions []string
		if spike.Magnitude > 3 {
			questions = []string{
				fmt.Sprintf("What triggered the %s spike?", spike.Entity),
				"Is this part of a coordinated campaign?",
			}
		}

		out = append(out, model.CorrelatedNarrative{
			ID:                  "spike_" + shortHash(spike.Entity+"_"+spike.WindowPeak.UTC().Format(time.RFC3339), 12),
			Kind:                model.CorrelationSpike,
			Title:               fmt.Sprintf("Spike detected: %s (%.1fx baseline)", strings.ToUpper(spike.Entity), spike.Magnitude),
			SignalIDs:           spike.SampleIDs,
			ArticleIDs:          articleIDs,
			SharedKeywords:      []string{spike.Entity},
			Hashtags:            hashtags,
			SignalSpikeTime:     spike.WindowPeak,
			ArticlePublishTime:  earliest,
			LeadLagHours:        &leadLag,
			ConfidenceScore:     confidence,
			AmplificationFactor: spike.Magnitude,
			EvidenceSummary: fmt.Sprintf("Velocity spike of %.1fx %s news by %.1fh",
				spike.Magnitude, direction, math.Abs(leadLag)),
			Questions: questions,
		})
	}
	return out
}

// signalEntities is the case-folded union of tagged entities and content keywords.
func (e *Engine) signalEntities(s model.Signal) map[string]bool {
	set := make(map[string]bool)
	for _, entity := range s.AllEntities() {
		if entity = strings.ToLower(strings.TrimSpace(entity)); entity != "" {
			set[entity] = true
		}
	}
	for _, k := range e.Keywords(s.Content) {
		set[k] = true
	}
	return set
}

func (e *Engine) newsEntities(n model.NewsItem) map[string]bool {
	set := make(map[string]bool)
	for _, entity := range n.Entities {
		if entity = strings.ToLower(strings.TrimSpace(entity)); entity != "" {
			set[entity] = true
		}
	}
	for _, k := range e.Keywords(n.Title) {
		set[k] = true
	}
	for _, k := range e.Keywords(n.Summary) {
		set[k] = true
	}
	return set
}

func (e *Engine) samples(signals []model.Signal, entity string, start, now time.Time) []string {
	out := make([]string, 0, e.cfg.MaxSamples)
	for _, s := range signals {
		if len(out) == e.cfg.MaxSamples {
			break
		}
		if inWindow(s.CreatedAt, start, now) && e.signalEntities(s)[entity] {
			out = append(out, s.ID)
		}
	}
	return out
}

// mentions reports whether a news item's text or entities contain entity.
func mentions(n model.NewsItem, entity string) bool {
	if strings.Contains(strings.ToLower(n.Title+" "+n.Summary), entity) {
		return true
	}
	for _, ne := range n.Entities {
		if strings.Contains(strings.ToLower(ne), entity) {
			return true
		}
	}
	return false
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func shortHash(s string, n int) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
