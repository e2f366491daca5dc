// Package booking exposes the single write-back the escrow core makes against
// the externally owned booking record: its payout_status field. The ledger
// flips it to paid in the same transaction as a release so the two records
// can never be observed out of step.
package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

// Repository writes the payout_status back-reference on bookings
type Repository interface {
	SetPayoutStatus(ctx context.Context, bookingID uuid.UUID, status shared.PayoutStatus) error
	WithTx(tx pgx.Tx) Repository
}

// ErrBookingNotFound indicates a missing booking row
type ErrBookingNotFound struct {
	BookingID uuid.UUID
}

func (e ErrBookingNotFound) Error() string {
	return "booking not found: " + e.BookingID.String()
}
