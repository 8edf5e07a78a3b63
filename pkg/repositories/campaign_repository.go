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

// CampaignRepository provides data access for campaign clusters. Clustering
// recomputes everything, so writes are whole-table swaps.
type CampaignRepository interface {
	// ReplaceAll deletes every campaign and membership, then inserts the
	// given clusters, all in one transaction. Readers see either the old
	// clustering or the new one, never a mix.
	ReplaceAll(ctx context.Context, campaigns []*models.Campaign) error
	ListAll(ctx context.Context) ([]*models.Campaign, error)
	GetForArticle(ctx context.Context, articleID uuid.UUID) (*models.Campaign, error)
}

type campaignRepository struct {
	db *database.DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *database.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

var _ CampaignRepository = (*campaignRepository)(nil)

const campaignColumns = `id, name, article_count, top_entities, first_article_at,
       last_article_at, detected_at`

func (r *campaignRepository) ReplaceAll(ctx context.Context, campaigns []*models.Campaign) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin campaign transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM intel_campaign_members`); err != nil {
		return fmt.Errorf("failed to clear campaign members: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM intel_campaigns`); err != nil {
		return fmt.Errorf("failed to clear campaigns: %w", err)
	}

	insertCampaign := `
		INSERT INTO intel_campaigns (
			id, name, article_count, top_entities, first_article_at, last_article_at, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	insertMember := `
		INSERT INTO intel_campaign_members (campaign_id, article_id) VALUES ($1, $2)`

	for _, c := range campaigns {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = time.Now()
		}
		c.ArticleCount = len(c.ArticleIDs)

		_, err := tx.Exec(ctx, insertCampaign,
			c.ID, c.Name, c.ArticleCount, c.TopEntities,
			c.FirstArticleAt, c.LastArticleAt, c.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert campaign: %w", err)
		}

		for _, articleID := range c.ArticleIDs {
			if _, err := tx.Exec(ctx, insertMember, c.ID, articleID); err != nil {
				// Components are disjoint; an article in two campaigns trips
				// the unique member index.
				if isUniqueViolation(err) {
					return fmt.Errorf("article %s clustered twice: %w", articleID, apperrors.ErrConflict)
				}
				return fmt.Errorf("failed to insert campaign member: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit campaign transaction: %w", err)
	}
	return nil
}

func (r *campaignRepository) ListAll(ctx context.Context) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM intel_campaigns ORDER BY last_article_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	byID := make(map[uuid.UUID]*models.Campaign)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}

	memberRows, err := r.db.Query(ctx,
		`SELECT campaign_id, article_id FROM intel_campaign_members ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var campaignID, articleID uuid.UUID
		if err := memberRows.Scan(&campaignID, &articleID); err != nil {
			return nil, fmt.Errorf("failed to scan campaign member: %w", err)
		}
		if c, ok := byID[campaignID]; ok {
			c.ArticleIDs = append(c.ArticleIDs, articleID)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign members: %w", err)
	}

	return campaigns, nil
}

func (r *campaignRepository) GetForArticle(ctx context.Context, articleID uuid.UUID) (*models.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM intel_campaigns c
		JOIN intel_campaign_members m ON m.campaign_id = c.id
		WHERE m.article_id = $1`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, articleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not in any campaign
		}
		return nil, err
	}
	return c, nil
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign

	err := row.Scan(
		&c.ID, &c.Name, &c.ArticleCount, &c.TopEntities,
		&c.FirstArticleAt, &c.LastArticleAt, &c.DetectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}

	return &c, nil
}
