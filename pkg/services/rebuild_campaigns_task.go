package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/observability"
	"github.com/aegis-intel/aegis-engine/pkg/services/workqueue"
)

// RebuildCampaignsTask refreshes the derived campaign set. It runs in the
// queue's maintenance lane, so at most one rebuild is in flight at a time
// even when analyses and the periodic timer both request one.
type RebuildCampaignsTask struct {
	workqueue.BaseTask
	clusterer CampaignClusterer
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewRebuildCampaignsTask creates a new campaign rebuild task. metrics may
// be nil.
func NewRebuildCampaignsTask(clusterer CampaignClusterer, metrics *observability.Metrics, logger *zap.Logger) *RebuildCampaignsTask {
	return &RebuildCampaignsTask{
		BaseTask:  workqueue.NewBaseTask("Rebuild campaign clusters", false),
		clusterer: clusterer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Execute implements workqueue.Task.
func (t *RebuildCampaignsTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	campaigns, err := t.clusterer.Rebuild(ctx)
	if err != nil {
		return err
	}

	t.metrics.SetCampaignCount(len(campaigns))
	t.logger.Debug("Campaign rebuild finished", zap.Int("campaigns", len(campaigns)))
	return nil
}
