package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/config"
	"github.com/aegis-intel/aegis-engine/pkg/database"
	"github.com/aegis-intel/aegis-engine/pkg/embedding"
	"github.com/aegis-intel/aegis-engine/pkg/events"
	"github.com/aegis-intel/aegis-engine/pkg/extraction"
	"github.com/aegis-intel/aegis-engine/pkg/llm"
	"github.com/aegis-intel/aegis-engine/pkg/logging"
	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/observability"
	"github.com/aegis-intel/aegis-engine/pkg/repositories"
	"github.com/aegis-intel/aegis-engine/pkg/services"
	"github.com/aegis-intel/aegis-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

const migrationsPath = "migrations"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Engine exited with error", zap.Error(err))
	}
	logger.Info("Engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting aegis-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.String("provider", cfg.AI.Provider),
		zap.Bool("embeddings", cfg.AI.EmbeddingsAvailable()),
		zap.Bool("broker", cfg.Events.Enabled()))

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(&cfg.Database, migrationsPath, logger); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metrics := observability.New(prometheus.DefaultRegisterer)

	// Model adapters. The chat client is required; the embedding client is
	// optional and its absence degrades scoring to exact overlap only.
	chatClient, err := llm.NewChatClient(cfg.AI.Provider, &llm.Config{
		Endpoint:  cfg.AI.LLMBaseURL,
		Model:     cfg.AI.LLMModel,
		APIKey:    cfg.AI.APIKey,
		MaxTokens: cfg.AI.MaxTokens,
	}, logger)
	if err != nil {
		return err
	}

	var embedClient llm.LLMClient
	if cfg.AI.EmbeddingsAvailable() {
		embedClient, err = llm.NewEmbeddingClient(&llm.Config{
			Endpoint: cfg.AI.EmbeddingBaseURL,
			Model:    cfg.AI.EmbeddingModel,
			APIKey:   cfg.AI.EmbeddingKey(),
		}, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("No embedding endpoint configured, scoring runs exact-overlap only")
	}

	var embedCache embedding.Cache
	if redisClient != nil {
		embedCache = embedding.NewRedisCache(redisClient, time.Duration(cfg.Redis.EmbeddingTTLHours)*time.Hour)
	}

	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Pipeline.Workers * 2}, logger)
	extractor := extraction.NewLLMExtractor(chatClient, pool, logger)
	embedder := embedding.NewService(embedClient, embedCache, embedding.Config{
		Model:   cfg.AI.EmbeddingModel,
		Timeout: cfg.AI.EmbedTimeout(),
	}, metrics, logger)

	// Repositories.
	articleRepo := repositories.NewArticleRepository(db)
	entityRepo := repositories.NewEntityRepository(db)
	linkRepo := repositories.NewArticleEntityRepository(db)
	runRepo := repositories.NewExtractionRunRepository(db)
	configRepo := repositories.NewSimilarityConfigRepository(db)
	relationshipRepo := repositories.NewRelationshipRepository(db)
	campaignRepo := repositories.NewCampaignRepository(db)

	// Outbound events.
	var broker *events.Broker
	var publisher events.Publisher = events.NewNoopPublisher()
	if cfg.Events.Enabled() {
		broker, err = events.Connect(cfg.Events, logger)
		if err != nil {
			return err
		}
		defer broker.Close() //nolint:errcheck
		publisher = broker.Publisher()
	}

	// Pipeline services.
	matcher := services.NewActorMatcher(cfg.Pipeline.ActorMatchThreshold, logger)
	canonicalizer := services.NewCanonicalizer(entityRepo, linkRepo, matcher, logger)
	candidates := services.NewCandidateGenerator(linkRepo, logger)
	scorer := services.NewRelevanceScorer(linkRepo, articleRepo, embedder, logger)
	writer := services.NewAssociationWriter(relationshipRepo, logger)
	clusterer := services.NewCampaignClusterer(configRepo, relationshipRepo, articleRepo, campaignRepo, logger)
	orchestrator := services.NewOrchestrator(&services.OrchestratorDeps{
		ArticleRepo:      articleRepo,
		RunRepo:          runRepo,
		ConfigRepo:       configRepo,
		LinkRepo:         linkRepo,
		RelationshipRepo: relationshipRepo,
		Extractor:        extractor,
		Canonicalizer:    canonicalizer,
		Candidates:       candidates,
		Scorer:           scorer,
		Writer:           writer,
		Publisher:        publisher,
		Metrics:          metrics,
		Logger:           logger,
	})
	rebuild := services.NewRebuildService(articleRepo, configRepo, candidates, scorer, writer, clusterer, logger)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledLLMStrategy(cfg.Pipeline.Workers)),
		workqueue.WithRetryConfig(workqueue.RetryConfig{
			MaxRetries:     cfg.Pipeline.MaxRetries,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
		}))
	defer queue.Cancel()

	enqueueCampaignRebuild := func() {
		queue.Enqueue(services.NewRebuildCampaignsTask(clusterer, metrics, logger))
	}
	var onAnalyzed func()
	if cfg.Pipeline.RebuildCampaignsAfterAnalyze {
		onAnalyzed = enqueueCampaignRebuild
	}
	enqueueArticle := func(articleID uuid.UUID) {
		queue.Enqueue(services.NewAnalyzeArticleTask(orchestrator, articleID, onAnalyzed, logger))
	}

	// Articles stuck mid-stage from a previous process go back to pending
	// before any new work starts.
	if n, err := articleRepo.ResetAbandoned(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Info("Reset abandoned articles to pending", zap.Int("count", n))
	}

	if cfg.Pipeline.RescoreOnStart {
		queue.Enqueue(services.NewRescoreTask(rebuild, logger))
	}
	if cfg.Pipeline.ProcessBacklogOnStart {
		if err := claimPending(ctx, articleRepo, enqueueArticle, logger); err != nil {
			return err
		}
	}

	// Ops listener: health and metrics only. The product API lives elsewhere.
	opsErr := make(chan error, 1)
	opsServer := startOpsServer(cfg, opsErr, logger)
	defer shutdownOps(opsServer, logger)

	// Inbound work: broker-driven when configured, polling otherwise.
	go consumeIngest(ctx, cfg, broker, articleRepo, enqueueArticle, logger)

	if interval := cfg.Pipeline.CampaignRebuildInterval(); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					enqueueCampaignRebuild()
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining queue")
	case err := <-opsErr:
		return err
	}

	// Bounded drain: running tasks get a grace period, then the queue is
	// cancelled and unfinished articles are reclaimed on next start.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := queue.Wait(drainCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Drain timed out, cancelling remaining tasks")
		}
		queue.Cancel()
	}
	return nil
}

// consumeIngest feeds pending articles to the queue until ctx is done.
// With a broker it consumes the ingest queue and redials dropped
// connections; without one it falls back to polling the articles table.
func consumeIngest(
	ctx context.Context,
	cfg *config.Config,
	broker *events.Broker,
	articleRepo repositories.ArticleRepository,
	enqueue func(uuid.UUID),
	logger *zap.Logger,
) {
	if broker == nil {
		pollPending(ctx, cfg.Pipeline.PollInterval(), articleRepo, enqueue, logger)
		return
	}

	for {
		err := broker.Consume(ctx, func(_ context.Context, event models.ArticlePendingEvent) error {
			enqueue(event.ArticleID)
			return nil
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		if !errors.Is(err, events.ErrStreamClosed) {
			logger.Error("Ingest consume failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Events.ReconnectDelay()):
		}
	}
}

// pollPending claims batches of pending articles on a fixed cadence.
func pollPending(
	ctx context.Context,
	interval time.Duration,
	articleRepo repositories.ArticleRepository,
	enqueue func(uuid.UUID),
	logger *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := claimPending(ctx, articleRepo, enqueue, logger); err != nil {
				logger.Error("Pending poll failed", zap.Error(err))
			}
		}
	}
}

// claimBatchSize bounds how many articles one claim pass enqueues.
const claimBatchSize = 50

func claimPending(
	ctx context.Context,
	articleRepo repositories.ArticleRepository,
	enqueue func(uuid.UUID),
	logger *zap.Logger,
) error {
	ids, err := articleRepo.ClaimPending(ctx, claimBatchSize)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		logger.Info("Claimed pending articles", zap.Int("count", len(ids)))
	}
	for _, id := range ids {
		enqueue(id)
	}
	return nil
}

func startOpsServer(cfg *config.Config, errCh chan<- error, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Ops listener started", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return server
}

func shutdownOps(server *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Ops listener shutdown failed", zap.Error(err))
	}
}
