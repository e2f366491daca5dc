package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/traingrid/escrow-service/internal/domain/escrow"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

// TxRunner runs a function inside one database transaction, rolling back on
// error or panic. Satisfied by persistence.PostgresDB.
type TxRunner interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// EscrowLedger defines the transactional escrow operations. Every call that
// moves the state machine commits the transition atomically before any
// payout gateway call is made.
type EscrowLedger interface {
	// CreateEscrow opens a holding record for a captured booking payment
	// Returns ErrDuplicateBooking if the booking already has a record
	CreateEscrow(ctx context.Context, params escrow.NewRecordParams) (*escrow.Record, error)

	// GetEscrow retrieves an escrow record by its ID
	// Returns ErrRecordNotFound if the record doesn't exist
	GetEscrow(ctx context.Context, id uuid.UUID) (*escrow.Record, error)

	// GetEscrowByBookingID retrieves the record attached to a booking
	GetEscrowByBookingID(ctx context.Context, bookingID uuid.UUID) (*escrow.Record, error)

	// MarkSessionComplete records the trainer's completion claim and fixes
	// the auto-release deadline
	MarkSessionComplete(ctx context.Context, id, trainerID uuid.UUID) (*escrow.Record, error)

	// Confirm records the parent's confirmation and immediately releases
	// funds to the trainer
	Confirm(ctx context.Context, id, parentID uuid.UUID) (*Outcome, error)

	// RaiseDispute freezes the record in disputed until an admin resolves it
	RaiseDispute(ctx context.Context, id, parentID uuid.UUID, reason string) (*escrow.Record, error)

	// Release finalizes the record as released and pays the trainer
	Release(ctx context.Context, id uuid.UUID, method shared.ReleaseMethod, actor *uuid.UUID, notes string) (*Outcome, error)

	// Refund finalizes the record as refunded and returns the full captured
	// amount to the parent
	Refund(ctx context.Context, id uuid.UUID, actor *uuid.UUID, notes string) (*Outcome, error)
}
