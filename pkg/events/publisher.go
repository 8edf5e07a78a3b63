package events

import (
	"context"

	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// Publisher sends pipeline events to the surrounding product. Implementations
// must be safe for concurrent use by multiple workers.
type Publisher interface {
	PublishAnalysisCompleted(ctx context.Context, event *models.AnalysisCompletedEvent) error
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

// NewNoopPublisher creates a Publisher that discards everything.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

var _ Publisher = (*NoopPublisher)(nil)

func (*NoopPublisher) PublishAnalysisCompleted(context.Context, *models.AnalysisCompletedEvent) error {
	return nil
}
