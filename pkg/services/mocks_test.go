package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/aegis-intel/aegis-engine/pkg/apperrors"
	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/repositories"
)

// In-memory repository fakes shared by the service tests. They mirror the
// SQL semantics the real repositories implement: upsert conflict handling,
// occurrence counting, full-replace writes.

var (
	_ repositories.EntityRepository           = (*mockEntityRepo)(nil)
	_ repositories.ArticleRepository          = (*mockArticleRepo)(nil)
	_ repositories.ArticleEntityRepository    = (*mockLinkRepo)(nil)
	_ repositories.ExtractionRunRepository    = (*mockRunRepo)(nil)
	_ repositories.RelationshipRepository     = (*mockRelationshipRepo)(nil)
	_ repositories.SimilarityConfigRepository = (*mockConfigRepo)(nil)
	_ repositories.CampaignRepository         = (*mockCampaignRepo)(nil)
)

type mockEntityRepo struct {
	entities map[string]*models.CanonicalEntity // kind + "\x00" + value
	byID     map[uuid.UUID]*models.CanonicalEntity

	ensureErr error
	listErr   error

	ensureCalls    int
	incrementCalls int
}

func newMockEntityRepo() *mockEntityRepo {
	return &mockEntityRepo{
		entities: make(map[string]*models.CanonicalEntity),
		byID:     make(map[uuid.UUID]*models.CanonicalEntity),
	}
}

func entityKey(kind, value string) string {
	return kind + "\x00" + value
}

func (m *mockEntityRepo) Ensure(_ context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error) {
	m.ensureCalls++
	if m.ensureErr != nil {
		return nil, m.ensureErr
	}

	key := entityKey(entity.Kind, entity.Value)
	if existing, ok := m.entities[key]; ok {
		if entity.LastSeen.After(existing.LastSeen) {
			existing.LastSeen = entity.LastSeen
		}
		if entity.Confidence > existing.Confidence {
			existing.Confidence = entity.Confidence
		}
		existing.UpdatedAt = time.Now()
		return existing, nil
	}

	stored := *entity
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	if stored.FirstSeen.IsZero() {
		stored.FirstSeen = now
	}
	if stored.LastSeen.IsZero() {
		stored.LastSeen = now
	}
	stored.OccurrenceCount = 0
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.entities[key] = &stored
	m.byID[stored.ID] = &stored
	return &stored, nil
}

func (m *mockEntityRepo) GetByID(_ context.Context, id uuid.UUID) (*models.CanonicalEntity, error) {
	if e, ok := m.byID[id]; ok {
		return e, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockEntityRepo) GetByKindValue(_ context.Context, kind, value string) (*models.CanonicalEntity, error) {
	if e, ok := m.entities[entityKey(kind, value)]; ok {
		return e, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockEntityRepo) ListByKind(_ context.Context, kind string) ([]*models.CanonicalEntity, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.CanonicalEntity
	for _, e := range m.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

func (m *mockEntityRepo) IncrementOccurrence(_ context.Context, id uuid.UUID, seenAt time.Time) error {
	m.incrementCalls++
	e, ok := m.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	e.OccurrenceCount++
	if seenAt.After(e.LastSeen) {
		e.LastSeen = seenAt
	}
	return nil
}

func (m *mockEntityRepo) AppendAlias(_ context.Context, id uuid.UUID, alias string) error {
	e, ok := m.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if e.Value == alias {
		return nil
	}
	for _, a := range e.Aliases {
		if a == alias {
			return nil
		}
	}
	e.Aliases = append(e.Aliases, alias)
	return nil
}

func (m *mockEntityRepo) SetFalsePositive(_ context.Context, id uuid.UUID, flag bool) error {
	e, ok := m.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	e.FalsePositive = flag
	return nil
}

// get returns the stored entity for assertions, or nil.
func (m *mockEntityRepo) get(kind, value string) *models.CanonicalEntity {
	return m.entities[entityKey(kind, value)]
}

// add seeds an entity and returns it.
func (m *mockEntityRepo) add(e *models.CanonicalEntity) *models.CanonicalEntity {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entities[entityKey(e.Kind, e.Value)] = e
	m.byID[e.ID] = e
	return e
}

type mockArticleRepo struct {
	articles map[uuid.UUID]*models.Article
	order    []uuid.UUID

	getErr    error
	updateErr error

	statusChanges []string
}

func newMockArticleRepo() *mockArticleRepo {
	return &mockArticleRepo{articles: make(map[uuid.UUID]*models.Article)}
}

func (m *mockArticleRepo) add(a *models.Article) *models.Article {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AnalysisStatus == "" {
		a.AnalysisStatus = models.AnalysisStatusPending
	}
	m.articles[a.ID] = a
	m.order = append(m.order, a.ID)
	return a
}

func (m *mockArticleRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Article, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if a, ok := m.articles[id]; ok {
		return a, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockArticleRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Article, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var articles []*models.Article
	for _, id := range ids {
		if a, ok := m.articles[id]; ok {
			articles = append(articles, a)
		}
	}
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].PublishedAt.Before(articles[j].PublishedAt)
	})
	return articles, nil
}

func (m *mockArticleRepo) ListIDsByStatus(_ context.Context, status string, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, id := range m.order {
		if m.articles[id].AnalysisStatus == status {
			ids = append(ids, id)
		}
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (m *mockArticleRepo) ClaimPending(_ context.Context, limit int) ([]uuid.UUID, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var ids []uuid.UUID
	for _, id := range m.order {
		if limit > 0 && len(ids) == limit {
			break
		}
		if a := m.articles[id]; a.AnalysisStatus == models.AnalysisStatusPending {
			a.AnalysisStatus = models.AnalysisStatusExtracting
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockArticleRepo) ResetAbandoned(_ context.Context) (int, error) {
	count := 0
	for _, a := range m.articles {
		switch a.AnalysisStatus {
		case models.AnalysisStatusExtracting, models.AnalysisStatusCanonicalizing, models.AnalysisStatusAssociating:
			a.AnalysisStatus = models.AnalysisStatusPending
			count++
		}
	}
	return count, nil
}

func (m *mockArticleRepo) UpdateAnalysisStatus(_ context.Context, id uuid.UUID, status string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	a, ok := m.articles[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	a.AnalysisStatus = status
	m.statusChanges = append(m.statusChanges, status)
	return nil
}

func (m *mockArticleRepo) MarkAnalyzed(_ context.Context, id uuid.UUID) error {
	a, ok := m.articles[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	now := time.Now()
	a.AnalysisStatus = models.AnalysisStatusDone
	a.AnalyzedAt = &now
	m.statusChanges = append(m.statusChanges, models.AnalysisStatusDone)
	return nil
}

type mockLinkRepo struct {
	links map[string]*models.ArticleEntityLink // article + entity
	order []string

	entities *mockEntityRepo
	articles *mockArticleRepo

	upsertErr error
	listErr   error

	// candidateErrFor poisons ListCandidateArticleIDs for one article only.
	candidateErrFor uuid.UUID
}

func newMockLinkRepo(entities *mockEntityRepo, articles *mockArticleRepo) *mockLinkRepo {
	return &mockLinkRepo{
		links:    make(map[string]*models.ArticleEntityLink),
		entities: entities,
		articles: articles,
	}
}

func linkKey(articleID, entityID uuid.UUID) string {
	return articleID.String() + "/" + entityID.String()
}

func (m *mockLinkRepo) Upsert(_ context.Context, link *models.ArticleEntityLink) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	key := linkKey(link.ArticleID, link.EntityID)
	if existing, ok := m.links[key]; ok {
		if link.Confidence > existing.Confidence {
			existing.Confidence = link.Confidence
		}
		existing.Evidence = link.Evidence
		existing.Source = link.Source
		existing.ExtractedAt = link.ExtractedAt
		return false, nil
	}
	stored := *link
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	m.links[key] = &stored
	m.order = append(m.order, key)
	return true, nil
}

func (m *mockLinkRepo) ListByArticle(_ context.Context, articleID uuid.UUID) ([]*models.ArticleEntityLink, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.ArticleEntityLink
	for _, key := range m.order {
		if link := m.links[key]; link.ArticleID == articleID {
			out = append(out, link)
		}
	}
	return out, nil
}

func (m *mockLinkRepo) ListOverlap(_ context.Context, articleID, otherID uuid.UUID) ([]models.EntityOverlap, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.EntityOverlap
	for _, key := range m.order {
		link := m.links[key]
		if link.ArticleID != articleID {
			continue
		}
		if _, ok := m.links[linkKey(otherID, link.EntityID)]; !ok {
			continue
		}
		e := m.entities.byID[link.EntityID]
		if e == nil || e.FalsePositive {
			continue
		}
		out = append(out, models.EntityOverlap{EntityID: e.ID, Kind: e.Kind, Value: e.Value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func (m *mockLinkRepo) CountsByKind(_ context.Context, articleID uuid.UUID) (map[string]int, error) {
	counts := make(map[string]int)
	for _, key := range m.order {
		link := m.links[key]
		if link.ArticleID != articleID {
			continue
		}
		e := m.entities.byID[link.EntityID]
		if e == nil || e.FalsePositive {
			continue
		}
		counts[e.Kind]++
	}
	return counts, nil
}

func (m *mockLinkRepo) ListCandidateArticleIDs(_ context.Context, articleID uuid.UUID, publishedAfter time.Time) ([]uuid.UUID, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.candidateErrFor != uuid.Nil && m.candidateErrFor == articleID {
		return nil, assert.AnError
	}
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, key := range m.order {
		link := m.links[key]
		if link.ArticleID != articleID {
			continue
		}
		e := m.entities.byID[link.EntityID]
		if e == nil || e.FalsePositive {
			continue
		}
		for _, otherKey := range m.order {
			other := m.links[otherKey]
			if other.EntityID != link.EntityID || other.ArticleID == articleID || seen[other.ArticleID] {
				continue
			}
			a := m.articles.articles[other.ArticleID]
			if a == nil || a.PublishedAt.Before(publishedAfter) {
				continue
			}
			seen[other.ArticleID] = true
			ids = append(ids, other.ArticleID)
		}
	}
	return ids, nil
}

// seedLink writes a link directly, bypassing upsert bookkeeping.
func (m *mockLinkRepo) seedLink(articleID, entityID uuid.UUID, confidence int) {
	key := linkKey(articleID, entityID)
	m.links[key] = &models.ArticleEntityLink{
		ID:          uuid.New(),
		ArticleID:   articleID,
		EntityID:    entityID,
		Confidence:  confidence,
		Source:      models.TextSourceOriginal,
		ExtractedAt: time.Now(),
	}
	m.order = append(m.order, key)
}

type mockRunRepo struct {
	runs map[uuid.UUID]*models.ExtractionRun

	createErr   error
	finalizeErr error
}

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[uuid.UUID]*models.ExtractionRun)}
}

func (m *mockRunRepo) Create(_ context.Context, run *models.ExtractionRun) error {
	if m.createErr != nil {
		return m.createErr
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *mockRunRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ExtractionRun, error) {
	if r, ok := m.runs[id]; ok {
		return r, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRunRepo) ListByArticle(_ context.Context, articleID uuid.UUID) ([]*models.ExtractionRun, error) {
	var out []*models.ExtractionRun
	for _, r := range m.runs {
		if r.ArticleID == articleID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *mockRunRepo) Finalize(_ context.Context, id uuid.UUID, outcome models.RunOutcome) error {
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	run, ok := m.runs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if run.Finalized() {
		return apperrors.ErrRunFinalized
	}
	now := time.Now()
	run.Status = outcome.Status
	run.FinishedAt = &now
	run.EntityCount = outcome.EntityCount
	run.DroppedCount = outcome.DroppedCount
	run.Sources = outcome.Sources
	run.ErrorCode = outcome.ErrorCode
	run.ErrorMessage = outcome.ErrorMessage
	return nil
}

type mockRelationshipRepo struct {
	rels map[string]*models.ArticleRelationship // source + "/" + related

	replaceErr error
	listErr    error

	replaceCalls int
}

func newMockRelationshipRepo() *mockRelationshipRepo {
	return &mockRelationshipRepo{rels: make(map[string]*models.ArticleRelationship)}
}

func pairKey(a, b uuid.UUID) string {
	source, related := models.OrderPair(a, b)
	return source.String() + "/" + related.String()
}

func (m *mockRelationshipRepo) ReplaceForArticle(_ context.Context, articleID uuid.UUID, rels []*models.ArticleRelationship) error {
	m.replaceCalls++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	for key, rel := range m.rels {
		if rel.SourceArticleID == articleID || rel.RelatedArticleID == articleID {
			delete(m.rels, key)
		}
	}
	fresh := make(map[string]bool)
	for _, rel := range rels {
		rel.SourceArticleID, rel.RelatedArticleID = models.OrderPair(rel.SourceArticleID, rel.RelatedArticleID)
		key := pairKey(rel.SourceArticleID, rel.RelatedArticleID)
		if fresh[key] {
			return apperrors.ErrDuplicatePair
		}
		fresh[key] = true
		if rel.ID == uuid.Nil {
			rel.ID = uuid.New()
		}
		if rel.ComputedAt.IsZero() {
			rel.ComputedAt = time.Now()
		}
		stored := *rel
		m.rels[key] = &stored
	}
	return nil
}

func (m *mockRelationshipRepo) ListForArticle(_ context.Context, articleID uuid.UUID) ([]*models.ArticleRelationship, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.ArticleRelationship
	for _, rel := range m.rels {
		if rel.SourceArticleID == articleID || rel.RelatedArticleID == articleID {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompositeScore > out[j].CompositeScore })
	return out, nil
}

func (m *mockRelationshipRepo) GetByPair(_ context.Context, a, b uuid.UUID) (*models.ArticleRelationship, error) {
	if rel, ok := m.rels[pairKey(a, b)]; ok {
		return rel, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRelationshipRepo) ListAboveScore(_ context.Context, minScore float64) ([]*models.ArticleRelationship, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.ArticleRelationship
	for _, rel := range m.rels {
		if rel.CompositeScore >= minScore {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(pairKey(out[i].SourceArticleID, out[i].RelatedArticleID),
			pairKey(out[j].SourceArticleID, out[j].RelatedArticleID)) < 0
	})
	return out, nil
}

type mockConfigRepo struct {
	configs []*models.SimilarityConfig

	getErr error
}

func (m *mockConfigRepo) GetActive(_ context.Context) (*models.SimilarityConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, cfg := range m.configs {
		if cfg.IsActive {
			return cfg, nil
		}
	}
	return nil, apperrors.ErrNoActiveConfig
}

func (m *mockConfigRepo) GetByVersion(_ context.Context, version int) (*models.SimilarityConfig, error) {
	for _, cfg := range m.configs {
		if cfg.Version == version {
			return cfg, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockConfigRepo) List(_ context.Context) ([]*models.SimilarityConfig, error) {
	return m.configs, nil
}

func (m *mockConfigRepo) Create(_ context.Context, cfg *models.SimilarityConfig) (*models.SimilarityConfig, error) {
	stored := *cfg
	stored.ID = uuid.New()
	stored.Version = len(m.configs) + 1
	stored.IsActive = false
	stored.CreatedAt = time.Now()
	m.configs = append(m.configs, &stored)
	return &stored, nil
}

func (m *mockConfigRepo) Activate(_ context.Context, version int) error {
	var target *models.SimilarityConfig
	for _, cfg := range m.configs {
		if cfg.Version == version {
			target = cfg
		}
	}
	if target == nil {
		return apperrors.ErrNotFound
	}
	now := time.Now()
	for _, cfg := range m.configs {
		cfg.IsActive = false
	}
	target.IsActive = true
	target.ActivatedAt = &now
	return nil
}

type mockCampaignRepo struct {
	campaigns []*models.Campaign

	replaceErr   error
	replaceCalls int
}

func (m *mockCampaignRepo) ReplaceAll(_ context.Context, campaigns []*models.Campaign) error {
	m.replaceCalls++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	for _, c := range campaigns {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = time.Now()
		}
	}
	m.campaigns = campaigns
	return nil
}

func (m *mockCampaignRepo) ListAll(_ context.Context) ([]*models.Campaign, error) {
	return m.campaigns, nil
}

func (m *mockCampaignRepo) GetForArticle(_ context.Context, articleID uuid.UUID) (*models.Campaign, error) {
	for _, c := range m.campaigns {
		for _, id := range c.ArticleIDs {
			if id == articleID {
				return c, nil
			}
		}
	}
	return nil, nil // Not in any campaign
}

// activeConfig builds a config with the given weights and thresholds, active.
func activeConfig(wIOC, wTTP, wActor, wSem, minScore float64) *models.SimilarityConfig {
	return &models.SimilarityConfig{
		ID:                uuid.New(),
		Version:           1,
		LookbackDays:      90,
		IndicatorWeight:   wIOC,
		TechniqueWeight:   wTTP,
		ActorWeight:       wActor,
		SemanticWeight:    wSem,
		MinCompositeScore: minScore,
		CampaignMinScore:  0.6,
		SemanticEnabled:   true,
		IsActive:          true,
		CreatedAt:         time.Now(),
	}
}
