package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisCompletedEvent is published after an article reaches done. It
// carries enough detail for downstream consumers (hunt prioritization,
// notifications) to react without re-querying the pipeline's tables.
type AnalysisCompletedEvent struct {
	ArticleID uuid.UUID `json:"article_id"`
	RunID     uuid.UUID `json:"run_id"`

	IndicatorCount int `json:"indicator_count"`
	TechniqueCount int `json:"technique_count"`
	ActorCount     int `json:"actor_count"`

	Relationships []RelatedArticleRef `json:"relationships,omitempty"`

	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// RelatedArticleRef is one relationship row as seen from the analyzed
// article's side.
type RelatedArticleRef struct {
	ArticleID      uuid.UUID `json:"article_id"`
	CompositeScore float64   `json:"composite_score"`
}

// ArticlePendingEvent is the inbound message that queues an article for
// analysis. The surrounding product publishes one after ingesting an article.
type ArticlePendingEvent struct {
	ArticleID uuid.UUID `json:"article_id"`
}
