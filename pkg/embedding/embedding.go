package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/llm"
	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/observability"
)

// Service returns embedding vectors for article similarity scoring.
// Unavailability is an expected state: scoring falls back to exact entity
// overlap when no endpoint is configured or the circuit is open.
type Service interface {
	EmbedArticle(ctx context.Context, article *models.Article) ([]float32, error)
	Available() bool
}

// Config bounds embedding calls.
type Config struct {
	Model   string
	Timeout time.Duration
	Breaker llm.CircuitBreakerConfig
}

type service struct {
	client  llm.LLMClient
	cache   Cache
	model   string
	timeout time.Duration
	breaker *llm.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates an embedding service. client may be nil when no
// embedding endpoint is configured; cache may be nil when Redis is not
// configured; metrics may be nil.
func NewService(client llm.LLMClient, cache Cache, cfg Config, metrics *observability.Metrics, logger *zap.Logger) Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.Threshold == 0 {
		breakerCfg = llm.DefaultCircuitBreakerConfig()
	}
	return &service{
		client:  client,
		cache:   cache,
		model:   cfg.Model,
		timeout: timeout,
		breaker: llm.NewCircuitBreaker(breakerCfg),
		metrics: metrics,
		logger:  logger.Named("embedding"),
	}
}

// Available reports whether an embedding endpoint is configured.
func (s *service) Available() bool {
	return s.client != nil
}

// EmbedArticle returns the vector for the article's embedding text. Returns
// a nil vector without error when the article has no text. Cache failures
// are logged and ignored; only endpoint failures propagate.
func (s *service) EmbedArticle(ctx context.Context, article *models.Article) ([]float32, error) {
	if s.client == nil {
		return nil, fmt.Errorf("embedding endpoint not configured")
	}

	text := article.EmbeddingText()
	if text == "" {
		return nil, nil
	}

	key := CacheKey(s.model, text)
	if s.cache != nil {
		vector, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if ok {
			s.metrics.RecordEmbeddingCache("hit")
			return vector, nil
		}
		s.metrics.RecordEmbeddingCache("miss")
	}

	if ok, err := s.breaker.Allow(); !ok {
		return nil, fmt.Errorf("embedding unavailable: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vector, err := s.client.CreateEmbedding(callCtx, text, s.model)
	if err != nil {
		s.breaker.RecordFailure()
		s.metrics.RecordAdapterError(observability.AdapterEmbedding)
		return nil, fmt.Errorf("failed to embed article text: %w", err)
	}
	s.breaker.RecordSuccess()

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, vector); err != nil {
			s.logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return vector, nil
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths,
// empty vectors, and zero vectors all yield 0 rather than an error: callers
// treat them as "no semantic signal".
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Service = (*service)(nil)
