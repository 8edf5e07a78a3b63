package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aegis-intel/aegis-engine/pkg/apperrors"
	"github.com/aegis-intel/aegis-engine/pkg/database"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// RelationshipRepository provides data access for scored article
// relationships.
type RelationshipRepository interface {
	// ReplaceForArticle atomically swaps the article's relationship set:
	// every row touching the article is deleted and the given rows are
	// inserted in one transaction. Pair ordering is normalized here so
	// callers cannot produce mirrored duplicates.
	ReplaceForArticle(ctx context.Context, articleID uuid.UUID, rels []*models.ArticleRelationship) error
	ListForArticle(ctx context.Context, articleID uuid.UUID) ([]*models.ArticleRelationship, error)
	GetByPair(ctx context.Context, a, b uuid.UUID) (*models.ArticleRelationship, error)
	// ListAboveScore returns all relationships at or above the score, for
	// campaign clustering.
	ListAboveScore(ctx context.Context, minScore float64) ([]*models.ArticleRelationship, error)
}

type relationshipRepository struct {
	db *database.DB
}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository(db *database.DB) RelationshipRepository {
	return &relationshipRepository{db: db}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

const relationshipColumns = `id, source_article_id, related_article_id, shared_indicators,
       shared_techniques, shared_actors, semantic_similarity, composite_score,
       config_version, lookback_days, computed_at`

func (r *relationshipRepository) ReplaceForArticle(ctx context.Context, articleID uuid.UUID, rels []*models.ArticleRelationship) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin relationship transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`DELETE FROM intel_article_relationships WHERE source_article_id = $1 OR related_article_id = $1`,
		articleID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear article relationships: %w", err)
	}

	insert := `
		INSERT INTO intel_article_relationships (
			id, source_article_id, related_article_id, shared_indicators,
			shared_techniques, shared_actors, semantic_similarity, composite_score,
			config_version, lookback_days, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for _, rel := range rels {
		if rel.ID == uuid.Nil {
			rel.ID = uuid.New()
		}
		if rel.ComputedAt.IsZero() {
			rel.ComputedAt = time.Now()
		}
		rel.SourceArticleID, rel.RelatedArticleID = models.OrderPair(rel.SourceArticleID, rel.RelatedArticleID)

		_, err := tx.Exec(ctx, insert,
			rel.ID, rel.SourceArticleID, rel.RelatedArticleID, rel.SharedIndicators,
			rel.SharedTechniques, rel.SharedActors, rel.SemanticSimilarity, rel.CompositeScore,
			rel.ConfigVersion, rel.LookbackDays, rel.ComputedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("relationship pair %s/%s: %w",
					rel.SourceArticleID, rel.RelatedArticleID, apperrors.ErrDuplicatePair)
			}
			return fmt.Errorf("failed to insert article relationship: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit relationship transaction: %w", err)
	}
	return nil
}

func (r *relationshipRepository) ListForArticle(ctx context.Context, articleID uuid.UUID) ([]*models.ArticleRelationship, error) {
	query := `
		SELECT ` + relationshipColumns + `
		FROM intel_article_relationships
		WHERE source_article_id = $1 OR related_article_id = $1
		ORDER BY composite_score DESC`

	return r.queryRelationships(ctx, query, articleID)
}

func (r *relationshipRepository) GetByPair(ctx context.Context, a, b uuid.UUID) (*models.ArticleRelationship, error) {
	source, related := models.OrderPair(a, b)

	query := `
		SELECT ` + relationshipColumns + `
		FROM intel_article_relationships
		WHERE source_article_id = $1 AND related_article_id = $2`

	rel, err := scanRelationship(r.db.QueryRow(ctx, query, source, related))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return rel, nil
}

func (r *relationshipRepository) ListAboveScore(ctx context.Context, minScore float64) ([]*models.ArticleRelationship, error) {
	query := `
		SELECT ` + relationshipColumns + `
		FROM intel_article_relationships
		WHERE composite_score >= $1
		ORDER BY computed_at`

	return r.queryRelationships(ctx, query, minScore)
}

func (r *relationshipRepository) queryRelationships(ctx context.Context, query string, args ...any) ([]*models.ArticleRelationship, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query article relationships: %w", err)
	}
	defer rows.Close()

	var rels []*models.ArticleRelationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article relationships: %w", err)
	}

	return rels, nil
}

func scanRelationship(row pgx.Row) (*models.ArticleRelationship, error) {
	var rel models.ArticleRelationship

	err := row.Scan(
		&rel.ID, &rel.SourceArticleID, &rel.RelatedArticleID, &rel.SharedIndicators,
		&rel.SharedTechniques, &rel.SharedActors, &rel.SemanticSimilarity, &rel.CompositeScore,
		&rel.ConfigVersion, &rel.LookbackDays, &rel.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan article relationship: %w", err)
	}

	return &rel, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
