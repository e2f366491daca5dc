package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

// Repository defines escrow record persistence operations. Only the ledger
// service may use the mutating methods; everything else reads.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*Record, error)

	// LockForUpdate acquires a row lock for the duration of the enclosing
	// transaction so a transition can read-verify-commit atomically.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Record, error)

	// UpdateTransition persists the record's mutated fields conditionally on
	// the row still holding expectedStatus. Zero rows affected means a
	// concurrent caller won the transition; ErrConcurrentModification is
	// returned and nothing was written.
	UpdateTransition(ctx context.Context, record *Record, expectedStatus shared.EscrowStatus) error

	// SetTransferReference records the gateway transfer id after a release
	// has committed. It never touches status.
	SetTransferReference(ctx context.Context, id uuid.UUID, reference string) error

	// SetRefundReference records the gateway refund id after a refund has
	// committed. It never touches status.
	SetRefundReference(ctx context.Context, id uuid.UUID, reference string) error

	// SelectDueForRelease returns records in session_complete whose
	// release_eligible_at deadline has passed, oldest deadline first.
	SelectDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	WithTx(tx pgx.Tx) Repository
}
