package model

import "time"

// Engagement holds the public counters of a social signal.
type Engagement struct {
	Retweets int `json:"retweet"`
	Likes    int `json:"like"`
	Replies  int `json:"reply"`
	Quotes   int `json:"quote"`
}

// Signal is a single social post (tweet-equivalent).
type Signal struct {
	ID         string     `json:"signal_id"`
	Author     string     `json:"author"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	Hashtags   []string   `json:"hashtags"`
	Mentions   []string   `json:"mentions"`
	Cashtags   []string   `json:"cashtags"`
	Engagement Engagement `json:"engagement"`
}

// AllEntities returns hashtags, mentions and cashtags in that order.
func (s Signal) AllEntities() []string {
	out := make([]string, 0, len(s.Hashtags)+len(s.Mentions)+len(s.Cashtags))
	out = append(out, s.Hashtags...)
	out = append(out, s.Mentions...)
	out = append(out, s.Cashtags...)
	return out
}

// EngagementScore is the sum of all engagement counters.
func (s Signal) EngagementScore() int {
	e := s.Engagement
	return e.Retweets + e.Likes + e.Replies + e.Quotes
}

// VelocitySpike is an entity whose current rate exceeds its baseline.
type VelocitySpike struct {
	Entity           string    `json:"entity"`
	Velocity         float64   `json:"velocity"`
	BaselineVelocity float64   `json:"baseline_velocity"`
	Magnitude        float64   `json:"magnitude"`
	WindowStart      time.Time `json:"window_start"`
	WindowPeak       time.Time `json:"window_peak"`
	SampleIDs        []string  `json:"sample_ids"`
}

// CorrelationKind distinguishes how a correlation was found.
type CorrelationKind string

const (
	CorrelationEntity CorrelationKind = "entity"
	CorrelationSpike  CorrelationKind = "spike"
)

// CorrelatedNarrative links social activity to news coverage.
//
// LeadLagHours is news time minus signal time: positive means the signals
// came first. It is nil when no matched article carries a publish time.
type CorrelatedNarrative struct {
	ID                  string          `json:"correlation_id"`
	Kind                CorrelationKind `json:"kind"`
	Title               string          `json:"title"`
	SignalIDs           []string        `json:"signal_ids"`
	ArticleIDs          []string        `json:"article_ids"`
	SharedKeywords      []string        `json:"shared_keywords"`
	Hashtags            []string        `json:"hashtags"`
	SignalSpikeTime     time.Time       `json:"signal_spike_time"`
	ArticlePublishTime  *time.Time      `json:"article_publish_time"`
	LeadLagHours        *float64        `json:"lead_lag_hours"`
	ConfidenceScore     float64         `json:"confidence_score"`
	AmplificationFactor float64         `json:"amplification_factor"`
	EvidenceSummary     string          `json:"evidence_summary"`
	Questions           []string        `json:"questions,omitempty"`
}

// SignalsLed reports whether the social activity preceded the news.
func (c CorrelatedNarrative) SignalsLed() bool {
	return c.LeadLagHours != nil && *c.LeadLagHours > 0
}

// SignalDocument is the persisted rolling window of signals for a category.
type SignalDocument struct {
	Category    Category  `json:"category"`
	Signals     []Signal  `json:"signals"`
	LastUpdated time.Time `json:"last_updated"`
}

// CorrelationDocument is the persisted output of the last correlation pass.
type CorrelationDocument struct {
	Correlations []CorrelatedNarrative `json:"correlations"`
	Divergent    []VelocitySpike       `json:"divergent"`
	LastUpdated  time.Time             `json:"last_updated"`
}
