package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/embedding"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// stubEmbedder returns canned vectors per article ID.
type stubEmbedder struct {
	vectors   map[uuid.UUID][]float32
	err       error
	available bool
	calls     int
}

var _ embedding.Service = (*stubEmbedder)(nil)

func (s *stubEmbedder) EmbedArticle(_ context.Context, article *models.Article) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if article.EmbeddingText() == "" {
		return nil, nil
	}
	return s.vectors[article.ID], nil
}

func (s *stubEmbedder) Available() bool { return s.available }

type scorerFixture struct {
	entities *mockEntityRepo
	articles *mockArticleRepo
	links    *mockLinkRepo
	embedder *stubEmbedder

	source    *models.Article
	candidate *models.Article
}

// newScorerFixture seeds two articles sharing the given number of entities
// per kind.
func newScorerFixture(sharedIOCs, sharedTTPs, sharedActors int) *scorerFixture {
	f := &scorerFixture{
		entities: newMockEntityRepo(),
		articles: newMockArticleRepo(),
		embedder: &stubEmbedder{vectors: make(map[uuid.UUID][]float32), available: true},
	}
	f.links = newMockLinkRepo(f.entities, f.articles)

	f.source = f.articles.add(&models.Article{Title: "source", PublishedAt: time.Now().AddDate(0, 0, -1), TechnicalSummary: "source summary"})
	f.candidate = f.articles.add(&models.Article{Title: "candidate", PublishedAt: time.Now().AddDate(0, 0, -2), TechnicalSummary: "candidate summary"})

	seed := func(kind string, n int, indicatorType *string) {
		for i := 0; i < n; i++ {
			e := f.entities.add(&models.CanonicalEntity{
				Kind:          kind,
				Value:         fmt.Sprintf("%s-%d", kind, i),
				IndicatorType: indicatorType,
			})
			f.links.seedLink(f.source.ID, e.ID, 80)
			f.links.seedLink(f.candidate.ID, e.ID, 80)
		}
	}
	ipType := models.IndicatorTypeIP
	seed(models.EntityKindIndicator, sharedIOCs, &ipType)
	seed(models.EntityKindTechnique, sharedTTPs, nil)
	seed(models.EntityKindThreatActor, sharedActors, nil)
	return f
}

func (f *scorerFixture) scorer() RelevanceScorer {
	return NewRelevanceScorer(f.links, f.articles, f.embedder, zap.NewNop())
}

func (f *scorerFixture) setSemantic(sourceVec, candidateVec []float32) {
	f.embedder.vectors[f.source.ID] = sourceVec
	f.embedder.vectors[f.candidate.ID] = candidateVec
}

func TestRelevanceScorer_FiltersBelowThreshold(t *testing.T) {
	// One shared indicator and weak semantic similarity:
	// 0.4*min(1/3,1) + 0.1*0.2 = 0.1533, under the 0.3 threshold.
	f := newScorerFixture(1, 0, 0)
	f.setSemantic([]float32{1, 0}, []float32{0.2, 0.9797959})
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err)
	assert.Nil(t, scored, "below-threshold pairs produce no row at all")
}

func TestRelevanceScorer_EntityMatchBypassPersistsWeakPair(t *testing.T) {
	// Same signals as above, but require_entity_match accepts any pair
	// sharing at least one concrete entity.
	f := newScorerFixture(1, 0, 0)
	f.setSemantic([]float32{1, 0}, []float32{0.2, 0.9797959})
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)
	cfg.RequireEntityMatch = true

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err)
	require.NotNil(t, scored)
	assert.True(t, scored.MatchedOnEntity)
	assert.InDelta(t, 0.15333, scored.CompositeScore, 0.001)
	require.NotNil(t, scored.SemanticSimilarity)
	assert.InDelta(t, 0.2, *scored.SemanticSimilarity, 0.0001)
	assert.Len(t, scored.SharedIndicators, 1)
}

func TestRelevanceScorer_AcceptsAboveThreshold(t *testing.T) {
	// 0.4*1 + 0.3*(2/3) = 0.6 with no semantic signal.
	f := newScorerFixture(3, 2, 0)
	f.embedder.available = false
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err)
	require.NotNil(t, scored)
	assert.False(t, scored.MatchedOnEntity, "threshold pass needs no bypass")
	assert.Nil(t, scored.SemanticSimilarity)
	assert.InDelta(t, 0.6, scored.CompositeScore, 0.0001)
	assert.Len(t, scored.SharedIndicators, 3)
	assert.Len(t, scored.SharedTechniques, 2)
}

func TestRelevanceScorer_OverlapSaturatesAtThree(t *testing.T) {
	few := newScorerFixture(3, 0, 0)
	few.embedder.available = false
	many := newScorerFixture(20, 0, 0)
	many.embedder.available = false
	cfg := activeConfig(1, 0, 0, 0, 0.5)

	fewScored, err := few.scorer().Score(context.Background(), few.source.ID, few.candidate.ID, cfg)
	require.NoError(t, err)
	manyScored, err := many.scorer().Score(context.Background(), many.source.ID, many.candidate.ID, cfg)
	require.NoError(t, err)

	require.NotNil(t, fewScored)
	require.NotNil(t, manyScored)
	assert.Equal(t, fewScored.CompositeScore, manyScored.CompositeScore,
		"twenty shared indicators weigh the same as three")
	assert.InDelta(t, 1.0, manyScored.CompositeScore, 0.0001)
}

func TestRelevanceScorer_SemanticDisabledNeverEmbeds(t *testing.T) {
	f := newScorerFixture(3, 0, 0)
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)
	cfg.SemanticEnabled = false

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err)
	require.NotNil(t, scored)
	assert.Nil(t, scored.SemanticSimilarity)
	assert.Equal(t, 0, f.embedder.calls)
}

func TestRelevanceScorer_EmbeddingFailureFallsBackToExactOverlap(t *testing.T) {
	f := newScorerFixture(3, 0, 0)
	f.embedder.err = assert.AnError
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err, "embedding failure must not fail scoring")
	require.NotNil(t, scored)
	assert.Nil(t, scored.SemanticSimilarity)
	assert.InDelta(t, 0.4, scored.CompositeScore, 0.0001)
}

func TestRelevanceScorer_NegativeCosineClampedInComposite(t *testing.T) {
	f := newScorerFixture(3, 0, 0)
	f.setSemantic([]float32{1, 0}, []float32{-1, 0})
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err)
	require.NotNil(t, scored)
	require.NotNil(t, scored.SemanticSimilarity)
	assert.InDelta(t, -1.0, *scored.SemanticSimilarity, 0.0001, "raw cosine is preserved on the row")
	assert.InDelta(t, 0.4, scored.CompositeScore, 0.0001, "negative similarity contributes zero, not a penalty")
}

func TestRelevanceScorer_FalsePositiveEntitiesDoNotCount(t *testing.T) {
	f := newScorerFixture(1, 0, 0)
	f.embedder.available = false
	shared := f.entities.get(models.EntityKindIndicator, "indicator-0")
	require.NoError(t, f.entities.SetFalsePositive(context.Background(), shared.ID, true))
	cfg := activeConfig(1, 0, 0, 0, 0.1)
	cfg.RequireEntityMatch = true

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err)
	assert.Nil(t, scored, "a flagged entity cannot carry a relationship, even with the bypass")
}

func TestRelevanceScorer_NoSharedTextSkipsSemantic(t *testing.T) {
	f := newScorerFixture(3, 0, 0)
	f.source.TechnicalSummary = ""
	f.source.ExecutiveSummary = ""
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)

	scored, err := f.scorer().Score(context.Background(), f.source.ID, f.candidate.ID, cfg)
	require.NoError(t, err)
	require.NotNil(t, scored)
	assert.Nil(t, scored.SemanticSimilarity, "article without summaries has no embedding text")
}
