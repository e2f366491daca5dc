package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/traingrid/escrow-service/internal/domain/booking"
	"github.com/traingrid/escrow-service/internal/domain/shared"
	"github.com/traingrid/escrow-service/internal/platform/persistence"
)

// BookingRepository implements the booking.Repository interface for PostgreSQL
type BookingRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewBookingRepository creates a new PostgreSQL booking repository
func NewBookingRepository(logger *slog.Logger, db *persistence.PostgresDB) booking.Repository {
	return &BookingRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *BookingRepository) WithTx(tx pgx.Tx) booking.Repository {
	return &BookingRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// SetPayoutStatus updates the payout_status back-reference on a booking
func (r *BookingRepository) SetPayoutStatus(ctx context.Context, bookingID uuid.UUID, status shared.PayoutStatus) error {
	query := `
		UPDATE bookings
		SET payout_status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, status, bookingID)
	if err != nil {
		r.logger.Error("Failed to set booking payout status", "booking_id", bookingID.String(), "error", err)
		return fmt.Errorf("failed to set booking payout status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return booking.ErrBookingNotFound{BookingID: bookingID}
	}

	return nil
}
