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

// ArticleRepository provides the pipeline's access to ingested articles.
// Ingestion itself happens upstream; the pipeline reads content and owns
// analysis_status and analyzed_at.
type ArticleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Article, error)
	ListIDsByStatus(ctx context.Context, status string, limit int) ([]uuid.UUID, error)
	// ClaimPending atomically moves up to limit pending articles to
	// extracting and returns their ids, oldest first. Rows locked by a
	// concurrent claimer are skipped, so multiple pollers never pick the
	// same article.
	ClaimPending(ctx context.Context, limit int) ([]uuid.UUID, error)
	// ResetAbandoned returns articles stuck in a working status to pending.
	// Only safe to call when no analysis is in flight (startup).
	ResetAbandoned(ctx context.Context) (int, error)
	UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, status string) error
	// MarkAnalyzed sets status done and stamps analyzed_at.
	MarkAnalyzed(ctx context.Context, id uuid.UUID) error
}

type articleRepository struct {
	db *database.DB
}

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(db *database.DB) ArticleRepository {
	return &articleRepository{db: db}
}

var _ ArticleRepository = (*articleRepository)(nil)

const articleColumns = `id, title, url, published_at, content, executive_summary,
       technical_summary, analysis_status, analyzed_at, created_at, updated_at`

func (r *articleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM intel_articles WHERE id = $1`

	article, err := scanArticle(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return article, nil
}

func (r *articleRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + articleColumns + ` FROM intel_articles WHERE id = ANY($1) ORDER BY published_at`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles by ids: %w", err)
	}
	defer rows.Close()

	var articles []*models.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, nil
}

func (r *articleRepository) ListIDsByStatus(ctx context.Context, status string, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM intel_articles
		WHERE analysis_status = $1
		ORDER BY published_at DESC`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query article ids by status: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan article id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article ids: %w", err)
	}

	return ids, nil
}

func (r *articleRepository) ClaimPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE intel_articles
		SET analysis_status = $1, updated_at = now()
		WHERE id IN (
			SELECT id FROM intel_articles
			WHERE analysis_status = $2
			ORDER BY published_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`

	rows, err := r.db.Query(ctx, query, models.AnalysisStatusExtracting, models.AnalysisStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending articles: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan claimed article id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed article ids: %w", err)
	}

	return ids, nil
}

func (r *articleRepository) ResetAbandoned(ctx context.Context) (int, error) {
	query := `
		UPDATE intel_articles
		SET analysis_status = $1, updated_at = now()
		WHERE analysis_status = ANY($2)`

	working := []string{
		models.AnalysisStatusExtracting,
		models.AnalysisStatusCanonicalizing,
		models.AnalysisStatusAssociating,
	}

	tag, err := r.db.Exec(ctx, query, models.AnalysisStatusPending, working)
	if err != nil {
		return 0, fmt.Errorf("failed to reset abandoned articles: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *articleRepository) UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE intel_articles SET analysis_status = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update article analysis status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *articleRepository) MarkAnalyzed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE intel_articles
		SET analysis_status = $2, analyzed_at = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, models.AnalysisStatusDone)
	if err != nil {
		return fmt.Errorf("failed to mark article analyzed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanArticle(row pgx.Row) (*models.Article, error) {
	var article models.Article

	err := row.Scan(
		&article.ID, &article.Title, &article.URL, &article.PublishedAt,
		&article.Content, &article.ExecutiveSummary, &article.TechnicalSummary,
		&article.AnalysisStatus, &article.AnalyzedAt, &article.CreatedAt, &article.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}

	return &article, nil
}
