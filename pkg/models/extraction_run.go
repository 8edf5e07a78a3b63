package models

import (
	"time"

	"github.com/google/uuid"
)

// Extraction run statuses. A run is immutable once it leaves running.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial" // some sources extracted, some failed
)

// Error codes recorded on failed runs.
const (
	RunErrorExtraction = "extraction_failed"
	RunErrorCanonical  = "canonicalization_failed"
	RunErrorScoring    = "scoring_failed"
	RunErrorPersist    = "persistence_failed"
	RunErrorConfig     = "no_active_config"
)

// ExtractionRun is the audit record for one pass of the extractor over one
// article: when it ran, which sources it read, what it yielded, how it
// ended. Stored in intel_extraction_runs.
type ExtractionRun struct {
	ID         uuid.UUID  `json:"id"`
	ArticleID  uuid.UUID  `json:"article_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// EntityCount is the number of links written; DroppedCount the number of
	// malformed candidates discarded during canonicalization.
	EntityCount  int      `json:"entity_count"`
	DroppedCount int      `json:"dropped_count"`
	Sources      []string `json:"sources,omitempty"` // which article texts were read
	ErrorCode    *string  `json:"error_code,omitempty"`
	ErrorMessage *string  `json:"error_message,omitempty"`
}

// Finalized reports whether the run has reached a terminal status.
func (r *ExtractionRun) Finalized() bool {
	return r.Status != RunStatusRunning
}

// RunOutcome carries everything written when a run is finalized.
type RunOutcome struct {
	Status       string
	EntityCount  int
	DroppedCount int
	Sources      []string
	ErrorCode    *string
	ErrorMessage *string
}

// FailureOutcome builds a failed outcome from an error code and message.
func FailureOutcome(code, message string) RunOutcome {
	return RunOutcome{
		Status:       RunStatusFailed,
		ErrorCode:    &code,
		ErrorMessage: &message,
	}
}
