package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/apperrors"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

func TestAssociationWriter_WritesOrderedPairsWithProvenance(t *testing.T) {
	rels := newMockRelationshipRepo()
	writer := NewAssociationWriter(rels, zap.NewNop())
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)
	cfg.Version = 7
	cfg.LookbackDays = 30

	articleID := uuid.New()
	candidateID := uuid.New()
	sim := 0.42
	err := writer.Persist(context.Background(), articleID, []*models.ScoredCandidate{
		{
			ArticleID:          articleID,
			CandidateID:        candidateID,
			SharedIndicators:   []string{"evil.com"},
			SemanticSimilarity: &sim,
			CompositeScore:     0.55,
		},
	}, cfg)
	require.NoError(t, err)

	stored, err := rels.GetByPair(context.Background(), articleID, candidateID)
	require.NoError(t, err)
	assert.True(t, bytes.Compare(stored.SourceArticleID[:], stored.RelatedArticleID[:]) < 0,
		"pairs are stored in byte order")
	assert.Equal(t, 7, stored.ConfigVersion)
	assert.Equal(t, 30, stored.LookbackDays)
	assert.Equal(t, 0.55, stored.CompositeScore)
	require.NotNil(t, stored.SemanticSimilarity)
	assert.Equal(t, 0.42, *stored.SemanticSimilarity)
	assert.False(t, stored.ComputedAt.IsZero())
}

func TestAssociationWriter_RerunReplacesPriorRows(t *testing.T) {
	rels := newMockRelationshipRepo()
	writer := NewAssociationWriter(rels, zap.NewNop())
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)

	articleID := uuid.New()
	oldCandidate := uuid.New()
	newCandidate := uuid.New()

	require.NoError(t, writer.Persist(context.Background(), articleID, []*models.ScoredCandidate{
		{ArticleID: articleID, CandidateID: oldCandidate, CompositeScore: 0.5},
	}, cfg))
	require.NoError(t, writer.Persist(context.Background(), articleID, []*models.ScoredCandidate{
		{ArticleID: articleID, CandidateID: newCandidate, CompositeScore: 0.7},
	}, cfg))

	listed, err := rels.ListForArticle(context.Background(), articleID)
	require.NoError(t, err)
	require.Len(t, listed, 1, "each analysis fully replaces the article's rows")
	_, err = rels.GetByPair(context.Background(), articleID, oldCandidate)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAssociationWriter_EmptySetClearsRelationships(t *testing.T) {
	rels := newMockRelationshipRepo()
	writer := NewAssociationWriter(rels, zap.NewNop())
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)
	articleID := uuid.New()

	require.NoError(t, writer.Persist(context.Background(), articleID, []*models.ScoredCandidate{
		{ArticleID: articleID, CandidateID: uuid.New(), CompositeScore: 0.5},
	}, cfg))
	require.NoError(t, writer.Persist(context.Background(), articleID, nil, cfg))

	listed, err := rels.ListForArticle(context.Background(), articleID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestAssociationWriter_DuplicatePairAborts(t *testing.T) {
	rels := newMockRelationshipRepo()
	writer := NewAssociationWriter(rels, zap.NewNop())
	cfg := activeConfig(0.4, 0.3, 0.2, 0.1, 0.3)

	articleID := uuid.New()
	candidateID := uuid.New()
	err := writer.Persist(context.Background(), articleID, []*models.ScoredCandidate{
		{ArticleID: articleID, CandidateID: candidateID, CompositeScore: 0.5},
		{ArticleID: candidateID, CandidateID: articleID, CompositeScore: 0.6},
	}, cfg)
	assert.ErrorIs(t, err, apperrors.ErrDuplicatePair,
		"mirrored duplicates indicate a writer bug and abort the transaction")
}
