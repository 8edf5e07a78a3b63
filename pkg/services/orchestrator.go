package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/events"
	"github.com/aegis-intel/aegis-engine/pkg/extraction"
	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/observability"
	"github.com/aegis-intel/aegis-engine/pkg/repositories"
)

// Orchestrator drives one article through the full analysis pipeline:
// extraction, canonicalization, association. It owns the article's
// analysis_status transitions and the ExtractionRun audit record.
//
// Analyze is idempotent: re-running a done or failed article re-executes
// every stage from the top, since canonicalization and association are
// upsert-based. A stage failure finalizes the run with a structured error
// code and never applies later stages; results committed by earlier stages
// remain valid.
type Orchestrator interface {
	Analyze(ctx context.Context, articleID uuid.UUID) (*models.AnalysisResult, error)
}

type orchestrator struct {
	articleRepo      repositories.ArticleRepository
	runRepo          repositories.ExtractionRunRepository
	configRepo       repositories.SimilarityConfigRepository
	linkRepo         repositories.ArticleEntityRepository
	relationshipRepo repositories.RelationshipRepository
	extractor        extraction.Extractor
	canonicalizer    Canonicalizer
	candidates       CandidateGenerator
	scorer           RelevanceScorer
	writer           AssociationWriter
	publisher        events.Publisher
	metrics          *observability.Metrics
	logger           *zap.Logger
}

// OrchestratorDeps contains dependencies for Orchestrator.
type OrchestratorDeps struct {
	ArticleRepo      repositories.ArticleRepository
	RunRepo          repositories.ExtractionRunRepository
	ConfigRepo       repositories.SimilarityConfigRepository
	LinkRepo         repositories.ArticleEntityRepository
	RelationshipRepo repositories.RelationshipRepository
	Extractor        extraction.Extractor
	Canonicalizer    Canonicalizer
	Candidates       CandidateGenerator
	Scorer           RelevanceScorer
	Writer           AssociationWriter
	Publisher        events.Publisher       // Optional: defaults to a noop publisher if nil
	Metrics          *observability.Metrics // Optional: nil records nothing
	Logger           *zap.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(deps *OrchestratorDeps) Orchestrator {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	return &orchestrator{
		articleRepo:      deps.ArticleRepo,
		runRepo:          deps.RunRepo,
		configRepo:       deps.ConfigRepo,
		linkRepo:         deps.LinkRepo,
		relationshipRepo: deps.RelationshipRepo,
		extractor:        deps.Extractor,
		canonicalizer:    deps.Canonicalizer,
		candidates:       deps.Candidates,
		scorer:           deps.Scorer,
		writer:           deps.Writer,
		publisher:        publisher,
		metrics:          deps.Metrics,
		logger:           deps.Logger.Named("orchestrator"),
	}
}

var _ Orchestrator = (*orchestrator)(nil)

func (s *orchestrator) Analyze(ctx context.Context, articleID uuid.UUID) (*models.AnalysisResult, error) {
	started := time.Now()

	article, err := s.articleRepo.GetByID(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load article: %w", err)
	}

	// 1. Begin the audit record, then enter the state machine.
	run := &models.ExtractionRun{
		ArticleID: articleID,
		Status:    models.RunStatusRunning,
		StartedAt: started,
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create extraction run: %w", err)
	}

	if err := s.articleRepo.UpdateAnalysisStatus(ctx, articleID, models.AnalysisStatusExtracting); err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorExtraction, err)
	}

	// 2. Extraction. The adapter returns a Result even when some sources
	// fail; only a transport-level error or every source failing kills the
	// run. An article with no text yields an empty result, which is valid.
	stageStart := time.Now()
	result, err := s.extractor.Extract(ctx, article)
	if err != nil {
		s.metrics.RecordAdapterError(observability.AdapterExtraction)
		return nil, s.fail(ctx, run, articleID, models.RunErrorExtraction, err)
	}
	for range result.Failed {
		s.metrics.RecordAdapterError(observability.AdapterExtraction)
	}
	if result.AllFailed() {
		return nil, s.fail(ctx, run, articleID, models.RunErrorExtraction, errors.New(joinSourceErrors(result.Failed)))
	}
	s.metrics.ObserveStage(observability.StageExtracting, time.Since(stageStart).Seconds())

	// 3. Canonicalization: resolve raw candidates to entities and links.
	if err := s.articleRepo.UpdateAnalysisStatus(ctx, articleID, models.AnalysisStatusCanonicalizing); err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorCanonical, err)
	}
	stageStart = time.Now()
	links, stats, err := s.canonicalizer.Canonicalize(ctx, articleID, result.Entities)
	if err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorCanonical, err)
	}
	dropped := result.Dropped + stats.Dropped
	s.metrics.ObserveStage(observability.StageCanonicalizing, time.Since(stageStart).Seconds())
	s.metrics.AddCandidatesDropped(dropped)
	s.metrics.AddAliasesLearned(stats.NewAliases)

	// 4. Association: candidates, scores, then one full-replace write, all
	// under a single config snapshot so a mid-run activation cannot mix
	// scores from two configs. Scoring happens before the write transaction;
	// the embedding call must never run inside it.
	if err := s.articleRepo.UpdateAnalysisStatus(ctx, articleID, models.AnalysisStatusAssociating); err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorScoring, err)
	}
	stageStart = time.Now()

	cfg, err := s.configRepo.GetActive(ctx)
	if err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorConfig, err)
	}

	candidateIDs, err := s.candidates.Generate(ctx, articleID, cfg.LookbackDays)
	if err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorScoring, err)
	}

	scored := make([]*models.ScoredCandidate, 0, len(candidateIDs))
	for _, candidateID := range candidateIDs {
		verdict, err := s.scorer.Score(ctx, articleID, candidateID, cfg)
		if err != nil {
			return nil, s.fail(ctx, run, articleID, models.RunErrorScoring, err)
		}
		if verdict == nil {
			continue // filtered below threshold
		}
		scored = append(scored, verdict)
	}

	if err := s.writer.Persist(ctx, articleID, scored, cfg); err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorPersist, err)
	}
	s.metrics.ObserveStage(observability.StageAssociating, time.Since(stageStart).Seconds())
	s.metrics.AddRelationshipsWritten(len(scored))

	// 5. Finalize the run, then flip the article to done.
	runStatus := models.RunStatusSucceeded
	if result.Partial() {
		runStatus = models.RunStatusPartial
	}
	outcome := models.RunOutcome{
		Status:       runStatus,
		EntityCount:  len(links),
		DroppedCount: dropped,
		Sources:      result.Sources,
	}
	if err := s.runRepo.Finalize(ctx, run.ID, outcome); err != nil {
		return nil, s.fail(ctx, run, articleID, models.RunErrorPersist, err)
	}
	s.metrics.RecordOutcome(runStatus)

	if err := s.articleRepo.MarkAnalyzed(ctx, articleID); err != nil {
		return nil, fmt.Errorf("failed to mark article analyzed: %w", err)
	}

	finished := time.Now()

	// 6. Completion event. Publishing is advisory; a failure here never
	// fails an already-finalized run.
	s.publishCompleted(ctx, articleID, run.ID, started, finished)

	s.logger.Info("Article analysis complete",
		zap.String("article_id", articleID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("status", runStatus),
		zap.Int("entities", len(links)),
		zap.Int("dropped", dropped),
		zap.Int("candidates", len(candidateIDs)),
		zap.Int("relationships", len(scored)),
		zap.Duration("duration", finished.Sub(started)))

	return &models.AnalysisResult{
		ArticleID:         articleID,
		RunID:             run.ID,
		EntityCount:       len(links),
		DroppedCount:      dropped,
		CandidateCount:    len(candidateIDs),
		RelationshipCount: len(scored),
		StartedAt:         started,
		FinishedAt:        finished,
		Duration:          finished.Sub(started),
	}, nil
}

// fail finalizes the run with a structured error code and marks the article
// failed. Bookkeeping runs on a detached context so a cancelled worker still
// leaves an inspectable failure record behind.
func (s *orchestrator) fail(ctx context.Context, run *models.ExtractionRun, articleID uuid.UUID, code string, cause error) error {
	failCtx := context.WithoutCancel(ctx)

	if err := s.runRepo.Finalize(failCtx, run.ID, models.FailureOutcome(code, cause.Error())); err != nil {
		s.logger.Error("Failed to finalize failed run",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}
	if err := s.articleRepo.UpdateAnalysisStatus(failCtx, articleID, models.AnalysisStatusFailed); err != nil {
		s.logger.Error("Failed to mark article failed",
			zap.String("article_id", articleID.String()),
			zap.Error(err))
	}

	s.metrics.RecordOutcome(models.RunStatusFailed)
	s.logger.Error("Article analysis failed",
		zap.String("article_id", articleID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("code", code),
		zap.Error(cause))

	return fmt.Errorf("%s: %w", code, cause)
}

// publishCompleted assembles and sends the analysis.completed event. Every
// failure path logs and returns; consumers that miss an event can re-read
// the pipeline's tables.
func (s *orchestrator) publishCompleted(ctx context.Context, articleID, runID uuid.UUID, started, finished time.Time) {
	counts, err := s.linkRepo.CountsByKind(ctx, articleID)
	if err != nil {
		s.logger.Warn("Skipping completion event, entity counts unavailable",
			zap.String("article_id", articleID.String()),
			zap.Error(err))
		return
	}
	rels, err := s.relationshipRepo.ListForArticle(ctx, articleID)
	if err != nil {
		s.logger.Warn("Skipping completion event, relationships unavailable",
			zap.String("article_id", articleID.String()),
			zap.Error(err))
		return
	}

	event := &models.AnalysisCompletedEvent{
		ArticleID:      articleID,
		RunID:          runID,
		IndicatorCount: counts[models.EntityKindIndicator],
		TechniqueCount: counts[models.EntityKindTechnique],
		ActorCount:     counts[models.EntityKindThreatActor],
		DurationMS:     finished.Sub(started).Milliseconds(),
		FinishedAt:     finished,
	}
	for _, rel := range rels {
		other := rel.RelatedArticleID
		if other == articleID {
			other = rel.SourceArticleID
		}
		event.Relationships = append(event.Relationships, models.RelatedArticleRef{
			ArticleID:      other,
			CompositeScore: rel.CompositeScore,
		})
	}

	if err := s.publisher.PublishAnalysisCompleted(ctx, event); err != nil {
		s.logger.Warn("Completion event publish failed",
			zap.String("article_id", articleID.String()),
			zap.Error(err))
	}
}

func joinSourceErrors(failed []extraction.SourceError) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Source, f.Err))
	}
	return "all sources failed: " + strings.Join(parts, "; ")
}
