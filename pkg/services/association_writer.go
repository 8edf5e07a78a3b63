package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/repositories"
)

// AssociationWriter persists the scorer's accepted candidates as the
// article's relationship set. Each analysis fully replaces the article's
// rows in one transaction; stale scores never linger next to fresh ones.
type AssociationWriter interface {
	// Persist writes one relationship row per scored candidate, stamped with
	// the config that produced the scores. An empty set clears the article's
	// existing relationships.
	Persist(ctx context.Context, articleID uuid.UUID, scored []*models.ScoredCandidate, cfg *models.SimilarityConfig) error
}

type associationWriter struct {
	relationshipRepo repositories.RelationshipRepository
	logger           *zap.Logger
}

// NewAssociationWriter creates a new AssociationWriter.
func NewAssociationWriter(relationshipRepo repositories.RelationshipRepository, logger *zap.Logger) AssociationWriter {
	return &associationWriter{
		relationshipRepo: relationshipRepo,
		logger:           logger.Named("association-writer"),
	}
}

var _ AssociationWriter = (*associationWriter)(nil)

func (w *associationWriter) Persist(ctx context.Context, articleID uuid.UUID, scored []*models.ScoredCandidate, cfg *models.SimilarityConfig) error {
	now := time.Now()
	rels := make([]*models.ArticleRelationship, 0, len(scored))
	for _, sc := range scored {
		source, related := models.OrderPair(sc.ArticleID, sc.CandidateID)
		rels = append(rels, &models.ArticleRelationship{
			SourceArticleID:    source,
			RelatedArticleID:   related,
			SharedIndicators:   sc.SharedIndicators,
			SharedTechniques:   sc.SharedTechniques,
			SharedActors:       sc.SharedActors,
			SemanticSimilarity: sc.SemanticSimilarity,
			CompositeScore:     sc.CompositeScore,
			ConfigVersion:      cfg.Version,
			LookbackDays:       cfg.LookbackDays,
			ComputedAt:         now,
		})
	}

	if err := w.relationshipRepo.ReplaceForArticle(ctx, articleID, rels); err != nil {
		return fmt.Errorf("failed to persist article relationships: %w", err)
	}

	w.logger.Info("Persisted article relationships",
		zap.String("article_id", articleID.String()),
		zap.Int("relationships", len(rels)),
		zap.Int("config_version", cfg.Version))
	return nil
}
