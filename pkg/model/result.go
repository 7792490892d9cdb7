package model

import (
	"time"

	"github.com/google/uuid"
)

// RunResult is the structured outcome every job returns, success or not.
type RunResult struct {
	RunID           string     `json:"run_id"`
	Job             string     `json:"job"`
	Category        Category   `json:"category,omitempty"`
	Success         bool       `json:"success"`
	Fallback        bool       `json:"fallback"`
	Error           string     `json:"error,omitempty"`
	Message         string     `json:"message,omitempty"`
	ItemsFetched    int        `json:"items_fetched"`
	ItemsNew        int        `json:"items_new"`
	ItemsCandidates int        `json:"items_candidates"`
	ItemsSelected   int        `json:"items_selected"`
	ItemsRejected   int        `json:"items_rejected"`
	SourcesFailed   []string   `json:"sources_failed,omitempty"`
	AgentNotes      string     `json:"agent_notes,omitempty"`
	TopItems        []NewsItem `json:"top_items,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
	Timestamp       time.Time  `json:"timestamp"`
}

// NewRunResult starts a result for a job run.
func NewRunResult(job string, category Category, now time.Time) RunResult {
	return RunResult{
		RunID:     uuid.NewString(),
		Job:       job,
		Category:  category,
		Timestamp: now.UTC(),
	}
}

// Fail marks the result failed with err.
func (r *RunResult) Fail(err error) {
	r.Success = false
	if err != nil {
		r.Error = err.Error()
	}
}
