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

func TestArticleRepository_ClaimPending(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewArticleRepository(engineDB.DB)
	ctx := context.Background()

	older := insertTestArticle(t, engineDB, "claim older", time.Now().Add(-2*time.Hour))
	newer := insertTestArticle(t, engineDB, "claim newer", time.Now().Add(-1*time.Hour))

	claimed, err := repo.ClaimPending(ctx, 500)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	indexOf := func(id uuid.UUID) int {
		for i, c := range claimed {
			if c == id {
				return i
			}
		}
		return -1
	}
	oi, ni := indexOf(older), indexOf(newer)
	if oi < 0 || ni < 0 {
		t.Fatalf("expected both articles claimed, got indices %d and %d", oi, ni)
	}
	if oi > ni {
		t.Error("expected oldest-first claim order")
	}

	// Claimed articles moved to extracting and cannot be claimed twice.
	article, err := repo.GetByID(ctx, older)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if article.AnalysisStatus != models.AnalysisStatusExtracting {
		t.Errorf("expected extracting, got %s", article.AnalysisStatus)
	}

	again, err := repo.ClaimPending(ctx, 500)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if indexOf2 := func() int {
		for i, c := range again {
			if c == older {
				return i
			}
		}
		return -1
	}(); indexOf2 >= 0 {
		t.Error("article claimed twice")
	}

	// Cleanup: release claimed test articles so later tests see a clean slate.
	for _, id := range claimed {
		if err := repo.MarkAnalyzed(ctx, id); err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}
	}
}

func TestArticleRepository_ResetAbandoned(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewArticleRepository(engineDB.DB)
	ctx := context.Background()

	stuck := insertTestArticle(t, engineDB, "abandoned", time.Now())
	if err := repo.UpdateAnalysisStatus(ctx, stuck, models.AnalysisStatusCanonicalizing); err != nil {
		t.Fatalf("status update failed: %v", err)
	}
	done := insertTestArticle(t, engineDB, "not abandoned", time.Now())
	if err := repo.MarkAnalyzed(ctx, done); err != nil {
		t.Fatalf("mark analyzed failed: %v", err)
	}

	n, err := repo.ResetAbandoned(ctx)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least one article reset, got %d", n)
	}

	article, err := repo.GetByID(ctx, stuck)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if article.AnalysisStatus != models.AnalysisStatusPending {
		t.Errorf("expected stuck article back to pending, got %s", article.AnalysisStatus)
	}

	// Terminal statuses are untouched.
	article, err = repo.GetByID(ctx, done)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if article.AnalysisStatus != models.AnalysisStatusDone {
		t.Errorf("expected done article untouched, got %s", article.AnalysisStatus)
	}

	// Cleanup the reset article.
	if err := repo.MarkAnalyzed(ctx, stuck); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
}

func TestArticleRepository_MarkAnalyzed(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewArticleRepository(engineDB.DB)
	ctx := context.Background()

	id := insertTestArticle(t, engineDB, "analyzed stamp", time.Now())
	if err := repo.MarkAnalyzed(ctx, id); err != nil {
		t.Fatalf("mark analyzed failed: %v", err)
	}

	article, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if article.AnalysisStatus != models.AnalysisStatusDone {
		t.Errorf("expected done, got %s", article.AnalysisStatus)
	}
	if article.AnalyzedAt == nil {
		t.Error("expected analyzed_at stamped")
	}
}
