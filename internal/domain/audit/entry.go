// Package audit defines the append-only event log for escrow transitions.
// Entries are never updated or deleted; ordering by created_at reconstructs
// the full history of a record.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one appended audit event for an escrow record. ActorUserID is nil
// for system-driven transitions such as the auto-release sweep.
type Entry struct {
	ID          uuid.UUID  `json:"id" bson:"id"`
	EscrowID    uuid.UUID  `json:"escrow_id" bson:"escrow_id"`
	EventType   string     `json:"event_type" bson:"event_type"`
	Message     string     `json:"message" bson:"message"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty" bson:"actor_user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
}

// NewEntry builds an audit entry stamped with the current time.
func NewEntry(escrowID uuid.UUID, eventType, message string, actorUserID *uuid.UUID) *Entry {
	return &Entry{
		ID:          uuid.New(),
		EscrowID:    escrowID,
		EventType:   eventType,
		Message:     message,
		ActorUserID: actorUserID,
		CreatedAt:   time.Now(),
	}
}
