package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aegis-intel/aegis-engine/pkg/database"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// ArticleEntityRepository provides data access for article-entity links.
// Only the canonicalizer writes links; everything downstream reads them.
type ArticleEntityRepository interface {
	// Upsert writes the link, keeping the higher confidence and the latest
	// evidence on conflict. Returns true when a new row was inserted, false
	// when an existing (article, entity) row was updated.
	Upsert(ctx context.Context, link *models.ArticleEntityLink) (bool, error)
	ListByArticle(ctx context.Context, articleID uuid.UUID) ([]*models.ArticleEntityLink, error)
	// ListOverlap returns the non-false-positive entities shared by two
	// articles.
	ListOverlap(ctx context.Context, articleID, otherID uuid.UUID) ([]models.EntityOverlap, error)
	// CountsByKind returns how many linked entities of each kind the article
	// has, excluding false positives.
	CountsByKind(ctx context.Context, articleID uuid.UUID) (map[string]int, error)
	// ListCandidateArticleIDs walks the entity index to find other articles
	// published at or after the cutoff that share at least one
	// non-false-positive entity with the given article.
	ListCandidateArticleIDs(ctx context.Context, articleID uuid.UUID, publishedAfter time.Time) ([]uuid.UUID, error)
}

type articleEntityRepository struct {
	db *database.DB
}

// NewArticleEntityRepository creates a new ArticleEntityRepository.
func NewArticleEntityRepository(db *database.DB) ArticleEntityRepository {
	return &articleEntityRepository{db: db}
}

var _ ArticleEntityRepository = (*articleEntityRepository)(nil)

func (r *articleEntityRepository) Upsert(ctx context.Context, link *models.ArticleEntityLink) (bool, error) {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.ExtractedAt.IsZero() {
		link.ExtractedAt = time.Now()
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	query := `
		INSERT INTO intel_article_entities (
			id, article_id, entity_id, confidence, evidence, source, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (article_id, entity_id) DO UPDATE SET
			confidence = GREATEST(intel_article_entities.confidence, EXCLUDED.confidence),
			evidence = EXCLUDED.evidence,
			source = EXCLUDED.source,
			extracted_at = EXCLUDED.extracted_at
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRow(ctx, query,
		link.ID, link.ArticleID, link.EntityID, link.Confidence,
		link.Evidence, link.Source, link.ExtractedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert article entity link: %w", err)
	}
	return inserted, nil
}

func (r *articleEntityRepository) ListByArticle(ctx context.Context, articleID uuid.UUID) ([]*models.ArticleEntityLink, error) {
	query := `
		SELECT id, article_id, entity_id, confidence, evidence, source, extracted_at
		FROM intel_article_entities
		WHERE article_id = $1
		ORDER BY extracted_at, entity_id`

	rows, err := r.db.Query(ctx, query, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query article entity links: %w", err)
	}
	defer rows.Close()

	var links []*models.ArticleEntityLink
	for rows.Next() {
		link, err := scanArticleEntityLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article entity links: %w", err)
	}

	return links, nil
}

func (r *articleEntityRepository) ListOverlap(ctx context.Context, articleID, otherID uuid.UUID) ([]models.EntityOverlap, error) {
	query := `
		SELECT e.id, e.kind, e.value
		FROM intel_article_entities l1
		JOIN intel_article_entities l2 ON l2.entity_id = l1.entity_id
		JOIN intel_entities e ON e.id = l1.entity_id
		WHERE l1.article_id = $1 AND l2.article_id = $2 AND NOT e.false_positive
		ORDER BY e.kind, e.value`

	rows, err := r.db.Query(ctx, query, articleID, otherID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity overlap: %w", err)
	}
	defer rows.Close()

	var overlaps []models.EntityOverlap
	for rows.Next() {
		var o models.EntityOverlap
		if err := rows.Scan(&o.EntityID, &o.Kind, &o.Value); err != nil {
			return nil, fmt.Errorf("failed to scan entity overlap: %w", err)
		}
		overlaps = append(overlaps, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity overlap: %w", err)
	}

	return overlaps, nil
}

func (r *articleEntityRepository) CountsByKind(ctx context.Context, articleID uuid.UUID) (map[string]int, error) {
	query := `
		SELECT e.kind, COUNT(*)
		FROM intel_article_entities l
		JOIN intel_entities e ON e.id = l.entity_id
		WHERE l.article_id = $1 AND NOT e.false_positive
		GROUP BY e.kind`

	rows, err := r.db.Query(ctx, query, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan entity count: %w", err)
		}
		counts[kind] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity counts: %w", err)
	}

	return counts, nil
}

func (r *articleEntityRepository) ListCandidateArticleIDs(ctx context.Context, articleID uuid.UUID, publishedAfter time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT l2.article_id
		FROM intel_article_entities l1
		JOIN intel_entities e ON e.id = l1.entity_id AND NOT e.false_positive
		JOIN intel_article_entities l2 ON l2.entity_id = l1.entity_id AND l2.article_id <> l1.article_id
		JOIN intel_articles a ON a.id = l2.article_id
		WHERE l1.article_id = $1 AND a.published_at >= $2`

	rows, err := r.db.Query(ctx, query, articleID, publishedAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate articles: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate article id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate articles: %w", err)
	}

	return ids, nil
}

func scanArticleEntityLink(row pgx.Row) (*models.ArticleEntityLink, error) {
	var link models.ArticleEntityLink

	err := row.Scan(
		&link.ID, &link.ArticleID, &link.EntityID, &link.Confidence,
		&link.Evidence, &link.Source, &link.ExtractedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan article entity link: %w", err)
	}

	return &link, nil
}
