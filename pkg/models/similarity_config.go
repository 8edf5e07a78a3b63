package models

import (
	"time"

	"github.com/google/uuid"
)

// SimilarityConfig is one versioned set of scoring parameters. Exactly one
// row is active at a time; relationship rows record the version that scored
// them. Changing the active config does not rescore existing rows until an
// explicit rebuild. Stored in intel_similarity_configs.
type SimilarityConfig struct {
	ID      uuid.UUID `json:"id"`
	Version int       `json:"version"`

	// LookbackDays bounds candidate generation to recently published articles.
	LookbackDays int `json:"lookback_days"`

	// Weights are not forced to sum to 1; the composite is compared to
	// MinCompositeScore as-is.
	IndicatorWeight float64 `json:"indicator_weight"`
	TechniqueWeight float64 `json:"technique_weight"`
	ActorWeight     float64 `json:"actor_weight"`
	SemanticWeight  float64 `json:"semantic_weight"`

	MinCompositeScore float64 `json:"min_composite_score"`

	// RequireEntityMatch persists any pair sharing at least one concrete
	// entity even when the composite falls below the threshold.
	RequireEntityMatch bool `json:"require_entity_match"`

	// CampaignMinScore is the edge threshold for campaign clustering.
	CampaignMinScore float64 `json:"campaign_min_score"`

	// SemanticEnabled gates the embedding call entirely.
	SemanticEnabled bool `json:"semantic_enabled"`

	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// saturation point for per-kind overlap counts: three shared entities of a
// kind is treated as maximal signal.
const overlapSaturation = 3.0

// CompositeScore computes the weighted relevance score for the given overlap
// counts and optional semantic similarity. Overlap counts saturate at three
// per kind; semantic similarity is clamped to [0, 1]. A nil semantic input
// contributes zero.
func (c *SimilarityConfig) CompositeScore(iocCount, ttpCount, actorCount int, semantic *float64) float64 {
	score := c.IndicatorWeight*saturate(iocCount) +
		c.TechniqueWeight*saturate(ttpCount) +
		c.ActorWeight*saturate(actorCount)

	if semantic != nil {
		sim := *semantic
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		score += c.SemanticWeight * sim
	}
	return score
}

func saturate(count int) float64 {
	v := float64(count) / overlapSaturation
	if v > 1 {
		return 1
	}
	return v
}
