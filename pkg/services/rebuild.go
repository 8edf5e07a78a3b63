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

// RebuildService rescores every analyzed article under the currently active
// similarity config and then refreshes campaigns. Activating a new config
// does not touch stored scores by itself; operators trigger this rebuild to
// make the new weights take effect.
type RebuildService interface {
	RescoreAll(ctx context.Context) (*RebuildStats, error)
}

// RebuildStats summarizes one full rescore pass.
type RebuildStats struct {
	ConfigVersion int
	Articles      int
	Failed        int
	Relationships int
	Campaigns     int
	Duration      time.Duration
}

type rebuildService struct {
	articleRepo repositories.ArticleRepository
	configRepo  repositories.SimilarityConfigRepository
	candidates  CandidateGenerator
	scorer      RelevanceScorer
	writer      AssociationWriter
	clusterer   CampaignClusterer
	logger      *zap.Logger
}

// NewRebuildService creates a new RebuildService.
func NewRebuildService(
	articleRepo repositories.ArticleRepository,
	configRepo repositories.SimilarityConfigRepository,
	candidates CandidateGenerator,
	scorer RelevanceScorer,
	writer AssociationWriter,
	clusterer CampaignClusterer,
	logger *zap.Logger,
) RebuildService {
	return &rebuildService{
		articleRepo: articleRepo,
		configRepo:  configRepo,
		candidates:  candidates,
		scorer:      scorer,
		writer:      writer,
		clusterer:   clusterer,
		logger:      logger.Named("rebuild"),
	}
}

var _ RebuildService = (*rebuildService)(nil)

func (s *rebuildService) RescoreAll(ctx context.Context) (*RebuildStats, error) {
	started := time.Now()

	// 1. One config snapshot for the whole pass. Every rewritten row carries
	// this version, so a half-finished rebuild is visible in the data.
	cfg, err := s.configRepo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active similarity config: %w", err)
	}

	ids, err := s.articleRepo.ListIDsByStatus(ctx, models.AnalysisStatusDone, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyzed articles: %w", err)
	}

	stats := &RebuildStats{ConfigVersion: cfg.Version}

	// 2. Regenerate, rescore, rewrite per article. Scoring is symmetric, so
	// visiting both endpoints of a pair converges on identical rows; each
	// visit fully replaces the rows touching its article. One bad article
	// does not abort the batch.
	for _, articleID := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		written, err := s.rescoreArticle(ctx, articleID, cfg)
		if err != nil {
			stats.Failed++
			s.logger.Warn("Rescore failed for article",
				zap.String("article_id", articleID.String()),
				zap.Error(err))
			continue
		}
		stats.Articles++
		stats.Relationships += written
	}

	// 3. Campaigns are derived from the rewritten relationships.
	campaigns, err := s.clusterer.Rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild campaigns after rescore: %w", err)
	}
	stats.Campaigns = len(campaigns)
	stats.Duration = time.Since(started)

	s.logger.Info("Rescore pass complete",
		zap.Int("config_version", cfg.Version),
		zap.Int("articles", stats.Articles),
		zap.Int("failed", stats.Failed),
		zap.Int("relationships", stats.Relationships),
		zap.Int("campaigns", stats.Campaigns),
		zap.Duration("duration", stats.Duration))

	return stats, nil
}

func (s *rebuildService) rescoreArticle(ctx context.Context, articleID uuid.UUID, cfg *models.SimilarityConfig) (int, error) {
	candidateIDs, err := s.candidates.Generate(ctx, articleID, cfg.LookbackDays)
	if err != nil {
		return 0, err
	}

	scored := make([]*models.ScoredCandidate, 0, len(candidateIDs))
	for _, candidateID := range candidateIDs {
		verdict, err := s.scorer.Score(ctx, articleID, candidateID, cfg)
		if err != nil {
			return 0, err
		}
		if verdict == nil {
			continue
		}
		scored = append(scored, verdict)
	}

	if err := s.writer.Persist(ctx, articleID, scored, cfg); err != nil {
		return 0, err
	}
	return len(scored), nil
}
