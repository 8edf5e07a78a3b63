package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/apperrors"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

func newTestCanonicalizer(entities *mockEntityRepo, links *mockLinkRepo) Canonicalizer {
	matcher := NewActorMatcher(0.85, zap.NewNop())
	return NewCanonicalizer(entities, links, matcher, zap.NewNop())
}

func TestCanonicalizer_CreatesEntitiesAndLinks(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)
	articleID := uuid.New()

	written, stats, err := svc.Canonicalize(context.Background(), articleID, []models.RawEntity{
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeDomain, Value: "malicious-update[.]com", Confidence: 90, Evidence: "beacons to malicious-update[.]com", Source: models.TextSourceOriginal},
		{Kind: models.EntityKindTechnique, Value: "t1486", Confidence: 80, Source: models.TextSourceOriginal},
		{Kind: models.EntityKindThreatActor, Value: "Scattered Spider", Confidence: 75, Source: models.TextSourceExecutiveSummary},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 3, stats.FreshLinks)
	assert.Equal(t, 0, stats.Dropped)
	require.Len(t, written, 3)

	domain := entities.get(models.EntityKindIndicator, "malicious-update.com")
	require.NotNil(t, domain, "defanged domain should be stored refanged")
	assert.Equal(t, 1, domain.OccurrenceCount)
	assert.Equal(t, 90, domain.Confidence)
	require.NotNil(t, domain.IndicatorType)
	assert.Equal(t, models.IndicatorTypeDomain, *domain.IndicatorType)

	technique := entities.get(models.EntityKindTechnique, "T1486")
	require.NotNil(t, technique, "technique id should be upper-cased")
	assert.Equal(t, 1, technique.OccurrenceCount)

	actor := entities.get(models.EntityKindThreatActor, "Scattered Spider")
	require.NotNil(t, actor)
	assert.Equal(t, 1, actor.OccurrenceCount)

	stored, err := links.ListByArticle(context.Background(), articleID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestCanonicalizer_CollapsesDuplicatesWithinOnePass(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)
	articleID := uuid.New()

	_, stats, err := svc.Canonicalize(context.Background(), articleID, []models.RawEntity{
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeIP, Value: "185.220.101.45", Confidence: 60, Source: models.TextSourceOriginal},
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeIP, Value: " 185.220.101.45 ", Confidence: 85, Evidence: "C2 at 185.220.101.45", Source: models.TextSourceTechnicalSummary},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Entities)
	assert.Equal(t, 1, stats.FreshLinks)

	ip := entities.get(models.EntityKindIndicator, "185.220.101.45")
	require.NotNil(t, ip)
	assert.Equal(t, 1, ip.OccurrenceCount, "one article counts once no matter how often the value repeats")

	stored, err := links.ListByArticle(context.Background(), articleID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 85, stored[0].Confidence, "link keeps the highest confidence sighting")
	assert.Equal(t, "C2 at 185.220.101.45", stored[0].Evidence)
}

func TestCanonicalizer_RerunLeavesOccurrenceCountsUnchanged(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)
	articleID := uuid.New()

	candidates := []models.RawEntity{
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeHash, Value: "D41D8CD98F00B204E9800998ECF8427E", Confidence: 70, Source: models.TextSourceOriginal},
		{Kind: models.EntityKindTechnique, Value: "T1059.001", Confidence: 65, Source: models.TextSourceOriginal},
	}

	_, first, err := svc.Canonicalize(context.Background(), articleID, candidates)
	require.NoError(t, err)
	assert.Equal(t, 2, first.FreshLinks)

	_, second, err := svc.Canonicalize(context.Background(), articleID, candidates)
	require.NoError(t, err)
	assert.Equal(t, 0, second.FreshLinks, "re-running over the same article must not re-count")

	hash := entities.get(models.EntityKindIndicator, "d41d8cd98f00b204e9800998ecf8427e")
	require.NotNil(t, hash)
	assert.Equal(t, 1, hash.OccurrenceCount)
}

func TestCanonicalizer_SecondArticleIncrementsOccurrence(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)

	candidates := []models.RawEntity{
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeCVE, Value: "cve-2024-3094", Confidence: 95, Source: models.TextSourceOriginal},
	}

	_, _, err := svc.Canonicalize(context.Background(), uuid.New(), candidates)
	require.NoError(t, err)
	_, _, err = svc.Canonicalize(context.Background(), uuid.New(), candidates)
	require.NoError(t, err)

	cve := entities.get(models.EntityKindIndicator, "CVE-2024-3094")
	require.NotNil(t, cve)
	assert.Equal(t, 2, cve.OccurrenceCount, "distinct articles each count once")
}

func TestCanonicalizer_DropsMalformedCandidates(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)

	written, stats, err := svc.Canonicalize(context.Background(), uuid.New(), []models.RawEntity{
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeIP, Value: "999.1.2.3", Confidence: 50, Source: models.TextSourceOriginal},
		{Kind: models.EntityKindTechnique, Value: "Phishing", Confidence: 50, Source: models.TextSourceOriginal},
		{Kind: "malware_family", Value: "LockBit", Confidence: 50, Source: models.TextSourceOriginal},
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeDomain, Value: "evil.com", Confidence: 50, Source: models.TextSourceOriginal},
	})
	require.NoError(t, err, "malformed candidates are not fatal")

	assert.Equal(t, 3, stats.Dropped)
	assert.Equal(t, 1, stats.Entities)
	require.Len(t, written, 1)
	assert.NotNil(t, entities.get(models.EntityKindIndicator, "evil.com"))
}

func TestNormalizeCandidateWrapsMalformedCandidate(t *testing.T) {
	tests := []struct {
		name string
		raw  models.RawEntity
	}{
		{"invalid ip", models.RawEntity{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeIP, Value: "999.1.2.3"}},
		{"invalid technique", models.RawEntity{Kind: models.EntityKindTechnique, Value: "Phishing"}},
		{"unknown kind", models.RawEntity{Kind: "malware_family", Value: "LockBit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeCandidate(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrMalformedCandidate))
		})
	}
}

func TestCanonicalizer_EntityConfidenceKeepsMaximum(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)

	_, _, err := svc.Canonicalize(context.Background(), uuid.New(), []models.RawEntity{
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeDomain, Value: "evil.com", Confidence: 90, Source: models.TextSourceOriginal},
	})
	require.NoError(t, err)

	_, _, err = svc.Canonicalize(context.Background(), uuid.New(), []models.RawEntity{
		{Kind: models.EntityKindIndicator, IndicatorType: models.IndicatorTypeDomain, Value: "evil.com", Confidence: 40, Source: models.TextSourceOriginal},
	})
	require.NoError(t, err)

	domain := entities.get(models.EntityKindIndicator, "evil.com")
	require.NotNil(t, domain)
	assert.Equal(t, 90, domain.Confidence, "a low-confidence sighting never lowers stored confidence")
}

func TestCanonicalizer_ActorExactMatchRefreshes(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	existing := entities.add(&models.CanonicalEntity{
		Kind:       models.EntityKindThreatActor,
		Value:      "Scattered Spider",
		Aliases:    []string{"UNC3944"},
		Confidence: 60,
	})
	svc := newTestCanonicalizer(entities, links)

	_, stats, err := svc.Canonicalize(context.Background(), uuid.New(), []models.RawEntity{
		{Kind: models.EntityKindThreatActor, Value: "unc3944", Confidence: 85, Source: models.TextSourceOriginal},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Entities)
	assert.Equal(t, 0, stats.NewAliases, "exact alias match learns nothing new")
	assert.Equal(t, 85, existing.Confidence)
	assert.Len(t, existing.Aliases, 1)
	assert.Equal(t, 1, existing.OccurrenceCount)
}

func TestCanonicalizer_ActorFuzzyMatchLearnsAlias(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	existing := entities.add(&models.CanonicalEntity{
		Kind:       models.EntityKindThreatActor,
		Value:      "Scattered Spider",
		Confidence: 60,
	})
	svc := newTestCanonicalizer(entities, links)

	_, stats, err := svc.Canonicalize(context.Background(), uuid.New(), []models.RawEntity{
		{Kind: models.EntityKindThreatActor, Value: "Scattered  Spiders", Confidence: 70, Source: models.TextSourceOriginal},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NewAliases)
	require.Len(t, existing.Aliases, 1)
	assert.Equal(t, "Scattered Spiders", existing.Aliases[0], "alias stored whitespace-collapsed")
	assert.Equal(t, models.EntityKindThreatActor, existing.Kind)

	// No second actor row was created.
	actors, err := entities.ListByKind(context.Background(), models.EntityKindThreatActor)
	require.NoError(t, err)
	assert.Len(t, actors, 1)
}

func TestCanonicalizer_UnknownActorCreatedThenMatchedInSamePass(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)
	articleID := uuid.New()

	written, stats, err := svc.Canonicalize(context.Background(), articleID, []models.RawEntity{
		{Kind: models.EntityKindThreatActor, Value: "Muddled Libra", Confidence: 65, Source: models.TextSourceOriginal},
		{Kind: models.EntityKindThreatActor, Value: "Muddled Libras", Confidence: 80, Source: models.TextSourceTechnicalSummary},
	})
	require.NoError(t, err)

	actors, err := entities.ListByKind(context.Background(), models.EntityKindThreatActor)
	require.NoError(t, err)
	require.Len(t, actors, 1, "second spelling must resolve to the actor created moments earlier")

	assert.Equal(t, 1, stats.Entities)
	require.Len(t, written, 1)
	assert.Equal(t, 80, written[0].Confidence)
	assert.Equal(t, 1, actors[0].OccurrenceCount)
	assert.Equal(t, []string{"Muddled Libras"}, actors[0].Aliases)
}

func TestCanonicalizer_EmptyCandidates(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	svc := newTestCanonicalizer(entities, links)

	written, stats, err := svc.Canonicalize(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Nil(t, written)
	assert.Equal(t, CanonicalizeStats{}, stats)
	assert.Equal(t, 0, entities.ensureCalls)
}

func TestCanonicalizer_EntityStoreErrorIsFatal(t *testing.T) {
	entities := newMockEntityRepo()
	articles := newMockArticleRepo()
	links := newMockLinkRepo(entities, articles)
	entities.ensureErr = assert.AnError
	svc := newTestCanonicalizer(entities, links)

	_, _, err := svc.Canonicalize(context.Background(), uuid.New(), []models.RawEntity{
		{Kind: models.EntityKindTechnique, Value: "T1486", Confidence: 80, Source: models.TextSourceOriginal},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
