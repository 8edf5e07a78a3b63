package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aegis-intel/aegis-engine/pkg/apperrors"
	"github.com/aegis-intel/aegis-engine/pkg/database"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// SimilarityConfigRepository provides data access for versioned scoring
// configs.
type SimilarityConfigRepository interface {
	// GetActive returns the single active config, or ErrNoActiveConfig.
	GetActive(ctx context.Context) (*models.SimilarityConfig, error)
	GetByVersion(ctx context.Context, version int) (*models.SimilarityConfig, error)
	List(ctx context.Context) ([]*models.SimilarityConfig, error)
	// Create inserts a new inactive config with the next version number.
	Create(ctx context.Context, cfg *models.SimilarityConfig) (*models.SimilarityConfig, error)
	// Activate makes the given version the single active config.
	Activate(ctx context.Context, version int) error
}

type similarityConfigRepository struct {
	db *database.DB
}

// NewSimilarityConfigRepository creates a new SimilarityConfigRepository.
func NewSimilarityConfigRepository(db *database.DB) SimilarityConfigRepository {
	return &similarityConfigRepository{db: db}
}

var _ SimilarityConfigRepository = (*similarityConfigRepository)(nil)

const configColumns = `id, version, lookback_days, indicator_weight, technique_weight,
       actor_weight, semantic_weight, min_composite_score, require_entity_match,
       campaign_min_score, semantic_enabled, is_active, created_at, activated_at`

func (r *similarityConfigRepository) GetActive(ctx context.Context) (*models.SimilarityConfig, error) {
	query := `SELECT ` + configColumns + ` FROM intel_similarity_configs WHERE is_active`

	cfg, err := scanSimilarityConfig(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNoActiveConfig
		}
		return nil, err
	}
	return cfg, nil
}

func (r *similarityConfigRepository) GetByVersion(ctx context.Context, version int) (*models.SimilarityConfig, error) {
	query := `SELECT ` + configColumns + ` FROM intel_similarity_configs WHERE version = $1`

	cfg, err := scanSimilarityConfig(r.db.QueryRow(ctx, query, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (r *similarityConfigRepository) List(ctx context.Context) ([]*models.SimilarityConfig, error) {
	query := `SELECT ` + configColumns + ` FROM intel_similarity_configs ORDER BY version`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query similarity configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.SimilarityConfig
	for rows.Next() {
		cfg, err := scanSimilarityConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similarity configs: %w", err)
	}

	return configs, nil
}

func (r *similarityConfigRepository) Create(ctx context.Context, cfg *models.SimilarityConfig) (*models.SimilarityConfig, error) {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}

	// Version assignment and insert share a transaction so concurrent
	// creates cannot claim the same version.
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin config transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var version int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM intel_similarity_configs`,
	).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate config version: %w", err)
	}
	cfg.Version = version

	query := `
		INSERT INTO intel_similarity_configs (
			id, version, lookback_days, indicator_weight, technique_weight,
			actor_weight, semantic_weight, min_composite_score, require_entity_match,
			campaign_min_score, semantic_enabled, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
		RETURNING ` + configColumns

	stored, err := scanSimilarityConfig(tx.QueryRow(ctx, query,
		cfg.ID, cfg.Version, cfg.LookbackDays, cfg.IndicatorWeight, cfg.TechniqueWeight,
		cfg.ActorWeight, cfg.SemanticWeight, cfg.MinCompositeScore, cfg.RequireEntityMatch,
		cfg.CampaignMinScore, cfg.SemanticEnabled,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create similarity config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit config transaction: %w", err)
	}
	return stored, nil
}

func (r *similarityConfigRepository) Activate(ctx context.Context, version int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin config transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE intel_similarity_configs SET is_active = false WHERE is_active`,
	); err != nil {
		return fmt.Errorf("failed to deactivate similarity configs: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE intel_similarity_configs SET is_active = true, activated_at = now() WHERE version = $1`,
		version,
	)
	if err != nil {
		return fmt.Errorf("failed to activate similarity config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit config transaction: %w", err)
	}
	return nil
}

func scanSimilarityConfig(row pgx.Row) (*models.SimilarityConfig, error) {
	var cfg models.SimilarityConfig

	err := row.Scan(
		&cfg.ID, &cfg.Version, &cfg.LookbackDays, &cfg.IndicatorWeight, &cfg.TechniqueWeight,
		&cfg.ActorWeight, &cfg.SemanticWeight, &cfg.MinCompositeScore, &cfg.RequireEntityMatch,
		&cfg.CampaignMinScore, &cfg.SemanticEnabled, &cfg.IsActive, &cfg.CreatedAt, &cfg.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan similarity config: %w", err)
	}

	return &cfg, nil
}
