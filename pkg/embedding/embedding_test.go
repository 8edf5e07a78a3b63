package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/llm"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// fakeCache is an in-memory Cache for tests.
type fakeCache struct {
	vectors map[string][]float32
	getErr  error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{vectors: make(map[string][]float32)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	vector, ok := c.vectors[key]
	return vector, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, vector []float32) error {
	c.sets++
	c.vectors[key] = vector
	return nil
}

func testArticle(text string) *models.Article {
	return &models.Article{ID: uuid.New(), ExecutiveSummary: text}
}

func TestService_EmbedArticle_CachesVector(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	}

	cache := newFakeCache()
	svc := NewService(mock, cache, Config{Model: "text-embedding-3-small"}, nil, zap.NewNop())

	article := testArticle("ransomware campaign against healthcare")

	first, err := svc.EmbedArticle(context.Background(), article)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 1, mock.CreateEmbeddingCalls)
	assert.Equal(t, 1, cache.sets)

	// Second call is served from cache
	second, err := svc.EmbedArticle(context.Background(), article)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, mock.CreateEmbeddingCalls)
}

func TestService_EmbedArticle_CacheReadFailureFallsThrough(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		return []float32{1}, nil
	}

	cache := newFakeCache()
	cache.getErr = assert.AnError
	svc := NewService(mock, cache, Config{Model: "m"}, nil, zap.NewNop())

	vector, err := svc.EmbedArticle(context.Background(), testArticle("text"))
	require.NoError(t, err)
	require.Len(t, vector, 1)
	assert.Equal(t, 1, mock.CreateEmbeddingCalls)
}

func TestService_EmbedArticle_NoClient(t *testing.T) {
	svc := NewService(nil, nil, Config{}, nil, zap.NewNop())

	assert.False(t, svc.Available())

	_, err := svc.EmbedArticle(context.Background(), testArticle("text"))
	require.Error(t, err)
}

func TestService_EmbedArticle_EmptyText(t *testing.T) {
	mock := llm.NewMockLLMClient()
	svc := NewService(mock, nil, Config{Model: "m"}, nil, zap.NewNop())

	vector, err := svc.EmbedArticle(context.Background(), &models.Article{ID: uuid.New()})
	require.NoError(t, err)
	assert.Nil(t, vector)
	assert.Zero(t, mock.CreateEmbeddingCalls)
}

func TestService_EmbedArticle_BreakerOpensAfterFailures(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		return nil, llm.NewError(llm.ErrorTypeEndpoint, "connection failed", true, nil)
	}

	svc := NewService(mock, nil, Config{
		Model:   "m",
		Breaker: llm.CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Minute},
	}, nil, zap.NewNop())

	article := testArticle("text")

	for i := 0; i < 2; i++ {
		_, err := svc.EmbedArticle(context.Background(), article)
		require.Error(t, err)
	}
	assert.Equal(t, 2, mock.CreateEmbeddingCalls)

	// Circuit is now open: no further endpoint calls
	_, err := svc.EmbedArticle(context.Background(), article)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 2, mock.CreateEmbeddingCalls)
}

func TestCacheKey_DistinguishesModelAndText(t *testing.T) {
	base := CacheKey("model-a", "some text")

	assert.Equal(t, base, CacheKey("model-a", "some text"))
	assert.NotEqual(t, base, CacheKey("model-b", "some text"))
	assert.NotEqual(t, base, CacheKey("model-a", "other text"))
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"empty", nil, nil, 0.0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Cosine(%v, %v) = %v, expected %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}
