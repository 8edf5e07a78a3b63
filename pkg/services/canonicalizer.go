package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/apperrors"
	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/repositories"
)

// Canonicalizer merges raw extracted candidates into the canonical entity
// store and links them to the article they came from.
type Canonicalizer interface {
	// Canonicalize normalizes each candidate, resolves it to a canonical
	// entity (creating one when unseen), and upserts one article-entity link
	// per resolved entity. Malformed candidates are dropped and counted, not
	// fatal. Duplicate values within one call collapse before touching the
	// store, so re-running over the same candidates leaves occurrence counts
	// unchanged once the links exist.
	Canonicalize(ctx context.Context, articleID uuid.UUID, candidates []models.RawEntity) ([]*models.ArticleEntityLink, CanonicalizeStats, error)
}

// CanonicalizeStats summarizes one canonicalization pass.
type CanonicalizeStats struct {
	Entities   int // distinct canonical entities resolved
	FreshLinks int // links that were new for this article
	Dropped    int // malformed candidates discarded
	NewAliases int // actor aliases learned from fuzzy matches
}

type canonicalizer struct {
	entityRepo repositories.EntityRepository
	linkRepo   repositories.ArticleEntityRepository
	matcher    ActorMatcher
	logger     *zap.Logger
}

// NewCanonicalizer creates a new Canonicalizer.
func NewCanonicalizer(
	entityRepo repositories.EntityRepository,
	linkRepo repositories.ArticleEntityRepository,
	matcher ActorMatcher,
	logger *zap.Logger,
) Canonicalizer {
	return &canonicalizer{
		entityRepo: entityRepo,
		linkRepo:   linkRepo,
		matcher:    matcher,
		logger:     logger.Named("canonicalizer"),
	}
}

var _ Canonicalizer = (*canonicalizer)(nil)

// candidate is one normalized extraction candidate awaiting resolution.
type candidate struct {
	kind          string
	value         string // canonical form
	indicatorType string // indicators only
	confidence    int
	evidence      string
	source        string
}

func (s *canonicalizer) Canonicalize(ctx context.Context, articleID uuid.UUID, candidates []models.RawEntity) ([]*models.ArticleEntityLink, CanonicalizeStats, error) {
	var stats CanonicalizeStats
	if len(candidates) == 0 {
		return nil, stats, nil
	}

	// 1. Normalize and collapse duplicate values so each canonical value is
	// resolved at most once per pass.
	merged := make(map[string]*candidate, len(candidates))
	keys := make([]string, 0, len(candidates))
	hasActors := false
	for _, raw := range candidates {
		cand, err := normalizeCandidate(raw)
		if err != nil {
			stats.Dropped++
			s.logger.Warn("Dropped malformed entity candidate",
				zap.String("article_id", articleID.String()),
				zap.String("kind", raw.Kind),
				zap.String("value", raw.Value),
				zap.Error(err))
			continue
		}

		key := cand.kind + "\x00" + strings.ToLower(cand.value)
		existing, ok := merged[key]
		if !ok {
			merged[key] = cand
			keys = append(keys, key)
			hasActors = hasActors || cand.kind == models.EntityKindThreatActor
			continue
		}
		if cand.confidence > existing.confidence {
			existing.confidence = cand.confidence
			existing.evidence = cand.evidence
			existing.source = cand.source
		}
	}

	// 2. Load the actor list once; fuzzy matching needs every canonical name
	// and alias. Entities created below join the in-memory list so later
	// candidates in the same pass resolve to them.
	var actors []*models.CanonicalEntity
	if hasActors {
		var err error
		actors, err = s.entityRepo.ListByKind(ctx, models.EntityKindThreatActor)
		if err != nil {
			return nil, stats, fmt.Errorf("failed to list threat actors: %w", err)
		}
	}

	// 3. Resolve each candidate to a canonical entity. Distinct candidates
	// can still land on the same actor, so links merge by entity ID.
	now := time.Now()
	links := make(map[uuid.UUID]*models.ArticleEntityLink, len(keys))
	entityOrder := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		cand := merged[key]

		var entity *models.CanonicalEntity
		var err error
		if cand.kind == models.EntityKindThreatActor {
			entity, err = s.resolveActor(ctx, cand, &actors, now, &stats)
		} else {
			entity, err = s.ensureEntity(ctx, cand, now)
		}
		if err != nil {
			return nil, stats, err
		}

		if link, ok := links[entity.ID]; ok {
			if cand.confidence > link.Confidence {
				link.Confidence = cand.confidence
				link.Evidence = cand.evidence
				link.Source = cand.source
			}
			continue
		}
		links[entity.ID] = &models.ArticleEntityLink{
			ArticleID:   articleID,
			EntityID:    entity.ID,
			Confidence:  cand.confidence,
			Evidence:    cand.evidence,
			Source:      cand.source,
			ExtractedAt: now,
		}
		entityOrder = append(entityOrder, entity.ID)
	}
	stats.Entities = len(entityOrder)

	// 4. Write links. A fresh insert means this article has not counted
	// toward the entity before, so its occurrence count moves.
	written := make([]*models.ArticleEntityLink, 0, len(entityOrder))
	for _, entityID := range entityOrder {
		link := links[entityID]
		inserted, err := s.linkRepo.Upsert(ctx, link)
		if err != nil {
			return nil, stats, fmt.Errorf("failed to upsert article entity link: %w", err)
		}
		if inserted {
			stats.FreshLinks++
			if err := s.entityRepo.IncrementOccurrence(ctx, entityID, now); err != nil {
				return nil, stats, fmt.Errorf("failed to increment entity occurrence: %w", err)
			}
		}
		written = append(written, link)
	}

	s.logger.Info("Canonicalized article entities",
		zap.String("article_id", articleID.String()),
		zap.Int("entities", stats.Entities),
		zap.Int("fresh_links", stats.FreshLinks),
		zap.Int("dropped", stats.Dropped),
		zap.Int("new_aliases", stats.NewAliases))

	return written, stats, nil
}

// ensureEntity upserts an indicator or technique on its (kind, value) key.
func (s *canonicalizer) ensureEntity(ctx context.Context, cand *candidate, now time.Time) (*models.CanonicalEntity, error) {
	entity := &models.CanonicalEntity{
		Kind:       cand.kind,
		Value:      cand.value,
		Confidence: cand.confidence,
		FirstSeen:  now,
		LastSeen:   now,
	}
	if cand.indicatorType != "" {
		entity.IndicatorType = &cand.indicatorType
	}

	stored, err := s.entityRepo.Ensure(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure %s %q: %w", cand.kind, cand.value, err)
	}
	return stored, nil
}

// resolveActor matches the name against known actors, learning a new alias on
// a fuzzy match and creating a new actor when nothing matches.
func (s *canonicalizer) resolveActor(ctx context.Context, cand *candidate, actors *[]*models.CanonicalEntity, now time.Time, stats *CanonicalizeStats) (*models.CanonicalEntity, error) {
	match := s.matcher.Match(cand.value, *actors)
	if match == nil {
		entity := &models.CanonicalEntity{
			Kind:       models.EntityKindThreatActor,
			Value:      cand.value,
			Confidence: cand.confidence,
			FirstSeen:  now,
			LastSeen:   now,
		}
		stored, err := s.entityRepo.Ensure(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("failed to create threat actor %q: %w", cand.value, err)
		}
		*actors = append(*actors, stored)
		s.logger.Info("New threat actor",
			zap.String("name", stored.Value),
			zap.String("entity_id", stored.ID.String()))
		return stored, nil
	}

	// Known actor: refresh last_seen and confidence on the canonical row.
	refresh := &models.CanonicalEntity{
		Kind:       models.EntityKindThreatActor,
		Value:      match.Entity.Value,
		Confidence: cand.confidence,
		FirstSeen:  match.Entity.FirstSeen,
		LastSeen:   now,
	}
	if _, err := s.entityRepo.Ensure(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to refresh threat actor %q: %w", match.Entity.Value, err)
	}

	if !match.Exact {
		stats.NewAliases++
		if err := s.entityRepo.AppendAlias(ctx, match.Entity.ID, cand.value); err != nil {
			return nil, fmt.Errorf("failed to append actor alias: %w", err)
		}
		// Keep the in-memory list current so the rest of the pass
		// exact-matches the new alias.
		if !match.Entity.HasAlias(cand.value) {
			match.Entity.Aliases = append(match.Entity.Aliases, cand.value)
		}
		s.logger.Info("Learned actor alias",
			zap.String("actor", match.Entity.Value),
			zap.String("alias", cand.value),
			zap.Float64("similarity", match.Similarity))
	}
	return match.Entity, nil
}

// normalizeCandidate validates a raw candidate and produces its canonical
// storage form. Failures wrap ErrMalformedCandidate.
func normalizeCandidate(raw models.RawEntity) (*candidate, error) {
	cand := &candidate{
		kind:       raw.Kind,
		confidence: raw.Confidence,
		evidence:   raw.Evidence,
		source:     raw.Source,
	}

	var err error
	switch raw.Kind {
	case models.EntityKindIndicator:
		cand.value, err = models.NormalizeIndicator(raw.IndicatorType, raw.Value)
		cand.indicatorType = raw.IndicatorType
	case models.EntityKindTechnique:
		cand.value, err = models.NormalizeTechniqueID(raw.Value)
	case models.EntityKindThreatActor:
		cand.value, err = models.NormalizeActorName(raw.Value)
	default:
		err = fmt.Errorf("unknown entity kind %q", raw.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedCandidate, err)
	}
	return cand, nil
}
