// Package outbox implements the transactional outbox for escrow domain
// events. Events are written in the same database transaction as the state
// transition that caused them, then published to Kafka by a poller with
// at-least-once semantics.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

// EscrowEvent is the payload published for notification/email collaborators.
type EscrowEvent struct {
	EventType     shared.EventType    `json:"event_type"`
	EscrowID      uuid.UUID           `json:"escrow_id"`
	BookingID     uuid.UUID           `json:"booking_id"`
	TrainerID     uuid.UUID           `json:"trainer_id"`
	ParentID      uuid.UUID           `json:"parent_id"`
	Status        shared.EscrowStatus `json:"status"`
	TotalAmount   int64               `json:"total_amount"`
	TrainerAmount int64               `json:"trainer_amount"`
	RefundAmount  int64               `json:"refund_amount"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Message stores an escrow event for reliable publishing
type Message struct {
	ID            int64               `json:"id"`
	EscrowID      uuid.UUID           `json:"escrow_id"`
	EventType     shared.EventType    `json:"event_type"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(event *EscrowEvent) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &Message{
		EscrowID:  event.EscrowID,
		EventType: event.EventType,
		Payload:   payload,
		Status:    shared.OutboxStatusPending,
		Attempts:  0,
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailedToPublish
	now := time.Now()
	m.LastAttemptAt = &now
}

// GetEvent extracts the escrow event from the payload
func (m *Message) GetEvent() (*EscrowEvent, error) {
	var event EscrowEvent
	if err := json.Unmarshal(m.Payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
