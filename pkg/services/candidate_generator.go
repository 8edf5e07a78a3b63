package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/repositories"
)

// CandidateGenerator finds the articles worth scoring against a source
// article: those sharing at least one canonical entity, published inside the
// lookback window. Cost is proportional to the source article's entity
// fan-out, never to the total article count.
type CandidateGenerator interface {
	// Generate returns candidate article IDs for the source article. An
	// article with no linked entities yields an empty set.
	Generate(ctx context.Context, articleID uuid.UUID, lookbackDays int) ([]uuid.UUID, error)
}

type candidateGenerator struct {
	linkRepo repositories.ArticleEntityRepository
	logger   *zap.Logger
}

// NewCandidateGenerator creates a new CandidateGenerator.
func NewCandidateGenerator(linkRepo repositories.ArticleEntityRepository, logger *zap.Logger) CandidateGenerator {
	return &candidateGenerator{
		linkRepo: linkRepo,
		logger:   logger.Named("candidate-generator"),
	}
}

var _ CandidateGenerator = (*candidateGenerator)(nil)

func (g *candidateGenerator) Generate(ctx context.Context, articleID uuid.UUID, lookbackDays int) ([]uuid.UUID, error) {
	cutoff := time.Now().AddDate(0, 0, -lookbackDays)

	candidates, err := g.linkRepo.ListCandidateArticleIDs(ctx, articleID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to generate candidates: %w", err)
	}

	g.logger.Debug("Generated association candidates",
		zap.String("article_id", articleID.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("lookback_days", lookbackDays))

	return candidates, nil
}
