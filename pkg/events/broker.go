package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/aegis-intel/aegis-engine/pkg/config"
	"github.com/aegis-intel/aegis-engine/pkg/logging"
	"github.com/aegis-intel/aegis-engine/pkg/models"
)

// ErrStreamClosed is returned by Consume when the broker drops the delivery
// stream. Callers redial after the configured delay.
var ErrStreamClosed = errors.New("ingest queue stream closed")

// maxLoggedBody caps how much of a discarded message payload goes to the log.
const maxLoggedBody = 512

// Broker wraps one AMQP connection with the pipeline's queues declared: the
// inbound ingest queue and the outbound completion queue. Messages survive a
// broker restart; both queues are durable and publishes are persistent.
type Broker struct {
	cfg    config.EventsConfig
	conn   *amqp.Connection
	logger *zap.Logger
}

// Connect dials the broker and declares both queues. Callers own the returned
// Broker and must Close it.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to message broker at %s: %w",
			logging.SanitizeConnectionString(cfg.URL), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}
	defer ch.Close()

	for _, queue := range []string{cfg.IngestQueue, cfg.CompletedQueue} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	return &Broker{cfg: cfg, conn: conn, logger: logger.Named("events")}, nil
}

// Close shuts the underlying connection, ending any active consume loop.
func (b *Broker) Close() error {
	return b.conn.Close()
}

// Publisher returns a Publisher that writes completion events to the
// completed queue over this broker's connection.
func (b *Broker) Publisher() Publisher {
	return &amqpPublisher{broker: b}
}

type amqpPublisher struct {
	broker *Broker
}

var _ Publisher = (*amqpPublisher)(nil)

func (p *amqpPublisher) PublishAnalysisCompleted(ctx context.Context, event *models.AnalysisCompletedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis completed event: %w", err)
	}

	ch, err := p.broker.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open broker channel: %w", err)
	}
	defer ch.Close()

	err = ch.Publish(
		"",                          // default exchange
		p.broker.cfg.CompletedQueue, // routing key
		false,                       // mandatory
		false,                       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish analysis completed event: %w", err)
	}
	return nil
}

// Consume delivers pending-article messages to handler until ctx is done or
// the connection drops. Returns nil on cancellation and ErrStreamClosed when
// the broker closes the stream. Malformed payloads are acked away with a
// warning; handler failures are dropped too, since the failed run row is the
// retry surface, except on shutdown where the message is requeued for the
// next worker.
func (b *Broker) Consume(ctx context.Context, handler func(ctx context.Context, event models.ArticlePendingEvent) error) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open broker channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(b.cfg.IngestQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume ingest queue: %w", err)
	}

	b.logger.Info("Consuming ingest queue",
		zap.String("queue", b.cfg.IngestQueue),
		zap.Int("prefetch", b.cfg.PrefetchCount))

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, open := <-deliveries:
			if !open {
				return ErrStreamClosed
			}

			var event models.ArticlePendingEvent
			if err := json.Unmarshal(delivery.Body, &event); err != nil || event.ArticleID == uuid.Nil {
				b.logger.Warn("Discarding malformed ingest message",
					zap.String("body", logging.TruncateString(string(delivery.Body), maxLoggedBody)),
					zap.Error(err))
				_ = delivery.Ack(false)
				continue
			}

			if err := handler(ctx, event); err != nil {
				requeue := ctx.Err() != nil
				b.logger.Error("Ingest handler failed",
					zap.String("article_id", event.ArticleID.String()),
					zap.Bool("requeue", requeue),
					zap.Error(err))
				_ = delivery.Nack(false, requeue)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}
