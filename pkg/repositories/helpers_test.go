//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-intel/aegis-engine/pkg/models"
	"github.com/aegis-intel/aegis-engine/pkg/testhelpers"
)

// insertTestArticle creates an article row directly. Ingestion is owned by
// the surrounding product, so the repositories expose no Create for articles.
func insertTestArticle(t *testing.T, engineDB *testhelpers.EngineDB, title string, publishedAt time.Time) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := engineDB.Pool().Exec(context.Background(), `
		INSERT INTO intel_articles (id, title, published_at, content)
		VALUES ($1, $2, $3, 'test content')
	`, id, title, publishedAt)
	if err != nil {
		t.Fatalf("failed to insert test article: %v", err)
	}
	return id
}

// insertTestEntity creates a canonical entity row with a unique value.
func insertTestEntity(t *testing.T, engineDB *testhelpers.EngineDB, kind string) *models.CanonicalEntity {
	t.Helper()

	entity := &models.CanonicalEntity{
		ID:         uuid.New(),
		Kind:       kind,
		Value:      "test-" + uuid.NewString(),
		Confidence: 80,
	}
	_, err := engineDB.Pool().Exec(context.Background(), `
		INSERT INTO intel_entities (id, kind, value, confidence)
		VALUES ($1, $2, $3, $4)
	`, entity.ID, entity.Kind, entity.Value, entity.Confidence)
	if err != nil {
		t.Fatalf("failed to insert test entity: %v", err)
	}
	return entity
}

// linkArticleEntity joins an article to an entity directly.
func linkArticleEntity(t *testing.T, engineDB *testhelpers.EngineDB, articleID, entityID uuid.UUID) {
	t.Helper()

	_, err := engineDB.Pool().Exec(context.Background(), `
		INSERT INTO intel_article_entities (article_id, entity_id, confidence)
		VALUES ($1, $2, 70)
	`, articleID, entityID)
	if err != nil {
		t.Fatalf("failed to link test article entity: %v", err)
	}
}
