package filter

import (
	"time"

	"github.com/elonfeng/sigint/pkg/source"
)

// Pipeline runs the age, similarity and source-cap stages in that order.
type Pipeline struct {
	MaxAgeHours         int
	SimilarityThreshold float64
	MaxPerSource        int
	// MaxCandidates truncates the final list. Zero means no limit.
	MaxCandidates int
}

// Stats records how many items survived each stage.
type Stats struct {
	Input           int `json:"input"`
	AfterAge        int `json:"after_age"`
	AfterSimilarity int `json:"after_similarity"`
	AfterSourceCap  int `json:"after_source_cap"`
	Output          int `json:"output"`
}

// NewPipeline returns a pipeline with defaults filled in for zero values.
func NewPipeline(maxAgeHours int, threshold float64, maxPerSource, maxCandidates int) Pipeline {
	if maxAgeHours == 0 {
		maxAgeHours = DefaultMaxAgeHours
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if maxPerSource <= 0 {
		maxPerSource = DefaultMaxPerSource
	}
	return Pipeline{
		MaxAgeHours:         ClampMaxAgeHours(maxAgeHours),
		SimilarityThreshold: threshold,
		MaxPerSource:        maxPerSource,
		MaxCandidates:       max(maxCandidates, 0),
	}
}

// Apply runs every stage and returns the surviving items.
func (p Pipeline) Apply(items []source.Item, now time.Time) ([]source.Item, Stats) {
	stats := Stats{Input: len(items)}

	out := ByAge(items, p.MaxAgeHours, now)
	stats.AfterAge = len(out)

	out = BySimilarity(out, p.SimilarityThreshold)
	stats.AfterSimilarity = len(out)

	out = BySourceCap(out, p.MaxPerSource)
	stats.AfterSourceCap = len(out)

	if p.MaxCandidates > 0 && len(out) > p.MaxCandidates {
		out = out[:p.MaxCandidates]
	}
	stats.Output = len(out)

	return out, stats
}
