package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aegis-intel/aegis-engine/pkg/apperrors"
	"github.com/aegis-intel/aegis-engine/pkg/database"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// EntityRepository provides data access for canonical entities.
type EntityRepository interface {
	// Ensure inserts the entity or, when (kind, value) already exists,
	// refreshes last_seen and raises confidence to the max of both sightings.
	// The stored row is returned either way. Occurrence counts are not
	// touched here; they track distinct article links.
	Ensure(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalEntity, error)
	GetByKindValue(ctx context.Context, kind, value string) (*models.CanonicalEntity, error)
	ListByKind(ctx context.Context, kind string) ([]*models.CanonicalEntity, error)
	IncrementOccurrence(ctx context.Context, id uuid.UUID, seenAt time.Time) error
	AppendAlias(ctx context.Context, id uuid.UUID, alias string) error
	SetFalsePositive(ctx context.Context, id uuid.UUID, flag bool) error
}

type entityRepository struct {
	db *database.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *database.DB) EntityRepository {
	return &entityRepository{db: db}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `id, kind, value, indicator_type, aliases, first_seen, last_seen,
       occurrence_count, confidence, false_positive, created_at, updated_at`

func (r *entityRepository) Ensure(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error) {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	now := time.Now()
	if entity.FirstSeen.IsZero() {
		entity.FirstSeen = now
	}
	if entity.LastSeen.IsZero() {
		entity.LastSeen = now
	}

	query := `
		INSERT INTO intel_entities (
			id, kind, value, indicator_type, aliases, first_seen, last_seen,
			occurrence_count, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		ON CONFLICT (kind, value) DO UPDATE SET
			last_seen = GREATEST(intel_entities.last_seen, EXCLUDED.last_seen),
			confidence = GREATEST(intel_entities.confidence, EXCLUDED.confidence),
			updated_at = now()
		RETURNING ` + entityColumns

	row := r.db.QueryRow(ctx, query,
		entity.ID, entity.Kind, entity.Value, entity.IndicatorType, entity.Aliases,
		entity.FirstSeen, entity.LastSeen, entity.Confidence,
	)
	stored, err := scanEntity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure entity: %w", err)
	}
	return stored, nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM intel_entities WHERE id = $1`

	entity, err := scanEntity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return entity, nil
}

func (r *entityRepository) GetByKindValue(ctx context.Context, kind, value string) (*models.CanonicalEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM intel_entities WHERE kind = $1 AND value = $2`

	entity, err := scanEntity(r.db.QueryRow(ctx, query, kind, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return entity, nil
}

func (r *entityRepository) ListByKind(ctx context.Context, kind string) ([]*models.CanonicalEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM intel_entities WHERE kind = $1 ORDER BY value`

	rows, err := r.db.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities by kind: %w", err)
	}
	defer rows.Close()

	var entities []*models.CanonicalEntity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

func (r *entityRepository) IncrementOccurrence(ctx context.Context, id uuid.UUID, seenAt time.Time) error {
	query := `
		UPDATE intel_entities
		SET occurrence_count = occurrence_count + 1,
		    last_seen = GREATEST(last_seen, $2),
		    updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, seenAt)
	if err != nil {
		return fmt.Errorf("failed to increment entity occurrence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *entityRepository) AppendAlias(ctx context.Context, id uuid.UUID, alias string) error {
	// Guarded append keeps the alias list duplicate-free under concurrent
	// canonicalization of the same actor name.
	query := `
		UPDATE intel_entities
		SET aliases = array_append(aliases, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(aliases)) AND value <> $2`

	if _, err := r.db.Exec(ctx, query, id, alias); err != nil {
		return fmt.Errorf("failed to append entity alias: %w", err)
	}
	return nil
}

func (r *entityRepository) SetFalsePositive(ctx context.Context, id uuid.UUID, flag bool) error {
	query := `UPDATE intel_entities SET false_positive = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, flag)
	if err != nil {
		return fmt.Errorf("failed to set entity false positive flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanEntity(row pgx.Row) (*models.CanonicalEntity, error) {
	var entity models.CanonicalEntity

	err := row.Scan(
		&entity.ID, &entity.Kind, &entity.Value, &entity.IndicatorType, &entity.Aliases,
		&entity.FirstSeen, &entity.LastSeen, &entity.OccurrenceCount, &entity.Confidence,
		&entity.FalsePositive, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	return &entity, nil
}
