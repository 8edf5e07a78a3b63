package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisResult summarizes one completed orchestrator pass over an article.
type AnalysisResult struct {
	ArticleID uuid.UUID `json:"article_id"`
	RunID     uuid.UUID `json:"run_id"`

	EntityCount       int `json:"entity_count"`
	DroppedCount      int `json:"dropped_count"`
	CandidateCount    int `json:"candidate_count"`
	RelationshipCount int `json:"relationship_count"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}
