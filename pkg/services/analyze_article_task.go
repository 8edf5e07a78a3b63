package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/services/workqueue"
)

// AnalyzeArticleTask runs the full analysis pipeline for one article through
// the work queue's model lane. Transient extraction or store errors are
// retried by the queue; a persistent failure stays recorded on the article's
// extraction run.
type AnalyzeArticleTask struct {
	workqueue.BaseTask
	orchestrator Orchestrator
	articleID    uuid.UUID
	onSuccess    func()
	logger       *zap.Logger
}

// NewAnalyzeArticleTask creates a new analysis task. onSuccess may be nil;
// when set it is invoked after a successful run (the dispatcher uses it to
// schedule campaign refreshes).
func NewAnalyzeArticleTask(orchestrator Orchestrator, articleID uuid.UUID, onSuccess func(), logger *zap.Logger) *AnalyzeArticleTask {
	return &AnalyzeArticleTask{
		BaseTask:     workqueue.NewBaseTask("Analyze article "+articleID.String(), true),
		orchestrator: orchestrator,
		articleID:    articleID,
		onSuccess:    onSuccess,
		logger:       logger,
	}
}

// Execute implements workqueue.Task.
func (t *AnalyzeArticleTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	result, err := t.orchestrator.Analyze(ctx, t.articleID)
	if err != nil {
		return err
	}

	t.logger.Debug("Queued analysis finished",
		zap.String("article_id", t.articleID.String()),
		zap.Int("entities", result.EntityCount),
		zap.Int("relationships", result.RelationshipCount),
		zap.Duration("duration", result.Duration))

	if t.onSuccess != nil {
		t.onSuccess()
	}
	return nil
}
