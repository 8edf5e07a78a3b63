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

// ExtractionRunRepository provides data access for extraction run audit
// records.
type ExtractionRunRepository interface {
	Create(ctx context.Context, run *models.ExtractionRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractionRun, error)
	ListByArticle(ctx context.Context, articleID uuid.UUID) ([]*models.ExtractionRun, error)
	// Finalize moves a running run to a terminal status exactly once.
	// Finalizing an already-terminal run returns ErrRunFinalized.
	Finalize(ctx context.Context, id uuid.UUID, outcome models.RunOutcome) error
}

type extractionRunRepository struct {
	db *database.DB
}

// NewExtractionRunRepository creates a new ExtractionRunRepository.
func NewExtractionRunRepository(db *database.DB) ExtractionRunRepository {
	return &extractionRunRepository{db: db}
}

var _ ExtractionRunRepository = (*extractionRunRepository)(nil)

const runColumns = `id, article_id, status, started_at, finished_at,
       entity_count, dropped_count, sources, error_code, error_message`

func (r *extractionRunRepository) Create(ctx context.Context, run *models.ExtractionRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO intel_extraction_runs (id, article_id, status, started_at, sources)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, run.ID, run.ArticleID, run.Status, run.StartedAt, run.Sources)
	if err != nil {
		return fmt.Errorf("failed to create extraction run: %w", err)
	}
	return nil
}

func (r *extractionRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractionRun, error) {
	query := `SELECT ` + runColumns + ` FROM intel_extraction_runs WHERE id = $1`

	run, err := scanExtractionRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (r *extractionRunRepository) ListByArticle(ctx context.Context, articleID uuid.UUID) ([]*models.ExtractionRun, error) {
	query := `SELECT ` + runColumns + ` FROM intel_extraction_runs WHERE article_id = $1 ORDER BY started_at DESC`

	rows, err := r.db.Query(ctx, query, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ExtractionRun
	for rows.Next() {
		run, err := scanExtractionRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extraction runs: %w", err)
	}

	return runs, nil
}

func (r *extractionRunRepository) Finalize(ctx context.Context, id uuid.UUID, outcome models.RunOutcome) error {
	// status = 'running' in the predicate makes finalization one-shot.
	query := `
		UPDATE intel_extraction_runs
		SET status = $2, finished_at = now(), entity_count = $3, dropped_count = $4,
		    sources = $5, error_code = $6, error_message = $7
		WHERE id = $1 AND status = $8`

	tag, err := r.db.Exec(ctx, query,
		id, outcome.Status, outcome.EntityCount, outcome.DroppedCount,
		outcome.Sources, outcome.ErrorCode, outcome.ErrorMessage,
		models.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize extraction run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrRunFinalized
	}
	return nil
}

func scanExtractionRun(row pgx.Row) (*models.ExtractionRun, error) {
	var run models.ExtractionRun

	err := row.Scan(
		&run.ID, &run.ArticleID, &run.Status, &run.StartedAt, &run.FinishedAt,
		&run.EntityCount, &run.DroppedCount, &run.Sources, &run.ErrorCode, &run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan extraction run: %w", err)
	}

	return &run, nil
}
