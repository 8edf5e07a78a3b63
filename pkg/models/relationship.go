package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// ArticleRelationship is one scored link between two articles. Exactly one
// row exists per unordered pair, stored with source_article_id ordered below
// related_article_id (byte-wise UUID comparison). Rows below the active
// threshold are never stored; absence means no relationship. Stored in
// intel_article_relationships.
type ArticleRelationship struct {
	ID               uuid.UUID `json:"id"`
	SourceArticleID  uuid.UUID `json:"source_article_id"`
	RelatedArticleID uuid.UUID `json:"related_article_id"`

	SharedIndicators []string `json:"shared_indicators,omitempty"`
	SharedTechniques []string `json:"shared_techniques,omitempty"`
	SharedActors     []string `json:"shared_actors,omitempty"`

	// SemanticSimilarity is nil when embeddings were unavailable at scoring
	// time; the composite then covers entity overlap only.
	SemanticSimilarity *float64 `json:"semantic_similarity,omitempty"`
	CompositeScore     float64  `json:"composite_score"`

	// Provenance: which config produced the score.
	ConfigVersion int `json:"config_version"`
	LookbackDays  int `json:"lookback_days"`

	ComputedAt time.Time `json:"computed_at"`
}

// OrderPair returns the two article IDs in storage order. Every writer and
// reader of intel_article_relationships must use this so each unordered pair
// maps to exactly one row.
func OrderPair(a, b uuid.UUID) (source, related uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// ScoredCandidate is the scorer's verdict on one candidate pair before
// persistence. A nil ScoredCandidate from the scorer means the pair was
// filtered out and must not be stored.
type ScoredCandidate struct {
	ArticleID   uuid.UUID `json:"article_id"`
	CandidateID uuid.UUID `json:"candidate_id"`

	SharedIndicators []string `json:"shared_indicators,omitempty"`
	SharedTechniques []string `json:"shared_techniques,omitempty"`
	SharedActors     []string `json:"shared_actors,omitempty"`

	SemanticSimilarity *float64 `json:"semantic_similarity,omitempty"`
	CompositeScore     float64  `json:"composite_score"`

	// MatchedOnEntity is set when the pair passed only through the
	// require_entity_match bypass rather than the threshold.
	MatchedOnEntity bool `json:"matched_on_entity"`
}

// OverlapCount returns how many entities the pair shares across all kinds.
func (s *ScoredCandidate) OverlapCount() int {
	return len(s.SharedIndicators) + len(s.SharedTechniques) + len(s.SharedActors)
}
