package models

import (
	"time"

	"github.com/google/uuid"
)

// ArticleEntityLink records that an entity was observed in an article, with
// extraction metadata. One row per (article, entity); repeated sightings
// update confidence and evidence in place. Only the canonicalizer writes
// these rows. Stored in intel_article_entities.
type ArticleEntityLink struct {
	ID          uuid.UUID `json:"id"`
	ArticleID   uuid.UUID `json:"article_id"`
	EntityID    uuid.UUID `json:"entity_id"`
	Confidence  int       `json:"confidence"` // 0-100
	Evidence    string    `json:"evidence,omitempty"`
	Source      string    `json:"source"` // original, executive_summary, technical_summary
	ExtractedAt time.Time `json:"extracted_at"`
}

// EntityOverlap is a scorer-side view of one shared entity between two
// articles, produced by the link repository's overlap query.
type EntityOverlap struct {
	EntityID uuid.UUID `json:"entity_id"`
	Kind     string    `json:"kind"`
	Value    string    `json:"value"`
}
