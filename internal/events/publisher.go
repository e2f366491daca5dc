// Package events relays committed escrow domain events from the transactional
// outbox to Kafka. Delivery is at-least-once: consumers key on escrow id and
// event type for deduplication.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/traingrid/escrow-service/internal/domain/outbox"
	"github.com/traingrid/escrow-service/internal/domain/shared"
	"github.com/traingrid/escrow-service/internal/platform/messaging/producers"
)

// EventPublisher publishes one outbox message and marks it processed
type EventPublisher interface {
	PublishEvent(ctx context.Context, message *outbox.Message) error
}

// EventPublisherImpl implements EventPublisher on Kafka
type EventPublisherImpl struct {
	outboxRepo outbox.Repository
	producer   producers.MessagePublisher
	logger     *slog.Logger
}

// NewEventPublisher creates a new publisher
func NewEventPublisher(
	outboxRepo outbox.Repository,
	producer producers.MessagePublisher,
	logger *slog.Logger,
) EventPublisher {
	return &EventPublisherImpl{
		outboxRepo: outboxRepo,
		producer:   producer,
		logger:     logger,
	}
}

// PublishEvent writes the event to Kafka keyed by escrow id, then marks the
// outbox message processed. A poison payload is marked FAILED_TO_PUBLISH
// immediately instead of burning retries.
func (p *EventPublisherImpl) PublishEvent(ctx context.Context, message *outbox.Message) error {
	event, err := message.GetEvent()
	if err != nil {
		p.logger.Error("Failed to unmarshal escrow event from outbox payload",
			"outbox_id", message.ID, "escrow_id", message.EscrowID, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status to FAILED_TO_PUBLISH after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	p.logger.Info("Attempting to publish escrow event",
		"outbox_id", message.ID,
		"escrow_id", message.EscrowID,
		"event_type", string(event.EventType),
	)

	if err := p.producer.Publish(ctx, event.EscrowID.String(), event); err != nil {
		return fmt.Errorf("failed to publish event for outbox %d: %w", message.ID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		p.logger.Error("Failed to update outbox message status to PROCESSED",
			"outbox_id", message.ID, "escrow_id", message.EscrowID, "error", err,
		)
		return fmt.Errorf("event for escrow %s published OK, but failed to mark outbox %d as PROCESSED: %w", message.EscrowID, message.ID, err)
	}

	p.logger.Info("Outbox message successfully published and marked as PROCESSED", "outbox_id", message.ID, "escrow_id", message.EscrowID)
	return nil
}
