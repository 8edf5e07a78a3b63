package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/services/workqueue"
)

// RescoreTask rewrites every stored association under the active similarity
// config and refreshes campaign clusters. It runs in the queue's maintenance
// lane so it never interleaves with another store-wide rewrite.
type RescoreTask struct {
	workqueue.BaseTask
	rebuild RebuildService
	logger  *zap.Logger
}

// NewRescoreTask creates a new rescore task.
func NewRescoreTask(rebuild RebuildService, logger *zap.Logger) *RescoreTask {
	return &RescoreTask{
		BaseTask: workqueue.NewBaseTask("Rescore stored associations", false),
		rebuild:  rebuild,
		logger:   logger,
	}
}

// Execute implements workqueue.Task.
func (t *RescoreTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	stats, err := t.rebuild.RescoreAll(ctx)
	if err != nil {
		return err
	}

	t.logger.Info("Rescore task finished",
		zap.Int("config_version", stats.ConfigVersion),
		zap.Int("articles", stats.Articles),
		zap.Int("failed", stats.Failed),
		zap.Int("relationships", stats.Relationships),
		zap.Int("campaigns", stats.Campaigns),
		zap.Duration("duration", stats.Duration))
	return nil
}
