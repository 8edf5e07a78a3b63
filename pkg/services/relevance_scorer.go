package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/embedding"
	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/repositories"
)

// RelevanceScorer decides whether a candidate pair is related enough to
// persist. Scoring is deterministic for a given store state and config;
// the semantic signal is best-effort and never blocks an exact-overlap
// verdict.
type RelevanceScorer interface {
	// Score evaluates one pair under the config. A nil result means the pair
	// was filtered out and must not be stored; absence is the verdict, not a
	// zero-score row.
	Score(ctx context.Context, articleID, candidateID uuid.UUID, cfg *models.SimilarityConfig) (*models.ScoredCandidate, error)
}

type relevanceScorer struct {
	linkRepo    repositories.ArticleEntityRepository
	articleRepo repositories.ArticleRepository
	embedder    embedding.Service
	logger      *zap.Logger
}

// NewRelevanceScorer creates a new RelevanceScorer.
func NewRelevanceScorer(
	linkRepo repositories.ArticleEntityRepository,
	articleRepo repositories.ArticleRepository,
	embedder embedding.Service,
	logger *zap.Logger,
) RelevanceScorer {
	return &relevanceScorer{
		linkRepo:    linkRepo,
		articleRepo: articleRepo,
		embedder:    embedder,
		logger:      logger.Named("relevance-scorer"),
	}
}

var _ RelevanceScorer = (*relevanceScorer)(nil)

func (s *relevanceScorer) Score(ctx context.Context, articleID, candidateID uuid.UUID, cfg *models.SimilarityConfig) (*models.ScoredCandidate, error) {
	// 1. Entity overlap between the two link sets, false positives excluded.
	overlaps, err := s.linkRepo.ListOverlap(ctx, articleID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity overlap: %w", err)
	}

	scored := &models.ScoredCandidate{ArticleID: articleID, CandidateID: candidateID}
	for _, o := range overlaps {
		switch o.Kind {
		case models.EntityKindIndicator:
			scored.SharedIndicators = append(scored.SharedIndicators, o.Value)
		case models.EntityKindTechnique:
			scored.SharedTechniques = append(scored.SharedTechniques, o.Value)
		case models.EntityKindThreatActor:
			scored.SharedActors = append(scored.SharedActors, o.Value)
		}
	}

	// 2. Semantic similarity when enabled and an endpoint is up. Any failure
	// here degrades to exact-overlap scoring.
	if cfg.SemanticEnabled && s.embedder.Available() {
		scored.SemanticSimilarity = s.semanticSimilarity(ctx, articleID, candidateID)
	}

	// 3. Composite and verdict.
	scored.CompositeScore = cfg.CompositeScore(
		len(scored.SharedIndicators),
		len(scored.SharedTechniques),
		len(scored.SharedActors),
		scored.SemanticSimilarity,
	)

	if scored.CompositeScore >= cfg.MinCompositeScore {
		return scored, nil
	}
	if cfg.RequireEntityMatch && scored.OverlapCount() >= 1 {
		scored.MatchedOnEntity = true
		return scored, nil
	}

	s.logger.Debug("Candidate filtered below threshold",
		zap.String("article_id", articleID.String()),
		zap.String("candidate_id", candidateID.String()),
		zap.Float64("composite_score", scored.CompositeScore),
		zap.Float64("min_composite_score", cfg.MinCompositeScore))
	return nil, nil
}

// semanticSimilarity returns the cosine similarity of the two articles'
// embedding vectors, or nil when either vector cannot be produced.
func (s *relevanceScorer) semanticSimilarity(ctx context.Context, articleID, candidateID uuid.UUID) *float64 {
	va, ok := s.embedArticle(ctx, articleID)
	if !ok {
		return nil
	}
	vb, ok := s.embedArticle(ctx, candidateID)
	if !ok {
		return nil
	}

	sim := embedding.Cosine(va, vb)
	return &sim
}

func (s *relevanceScorer) embedArticle(ctx context.Context, id uuid.UUID) ([]float32, bool) {
	article, err := s.articleRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Warn("Skipping semantic similarity, article load failed",
			zap.String("article_id", id.String()),
			zap.Error(err))
		return nil, false
	}

	vector, err := s.embedder.EmbedArticle(ctx, article)
	if err != nil {
		s.logger.Warn("Skipping semantic similarity, embedding failed",
			zap.String("article_id", id.String()),
			zap.Error(err))
		return nil, false
	}
	if len(vector) == 0 {
		return nil, false
	}
	return vector, true
}
