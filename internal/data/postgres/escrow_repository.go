// Package postgres provides PostgreSQL implementations of the domain
// repositories. It handles all database operations while maintaining
// transaction safety and proper error handling for the escrow service.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/traingrid/escrow-service/internal/domain/escrow"
	"github.com/traingrid/escrow-service/internal/domain/shared"
	"github.com/traingrid/escrow-service/internal/platform/persistence"
)

const escrowColumns = `
	id, booking_id, trainer_id, parent_id,
	total_amount, platform_fee, trainer_amount, refund_amount,
	payment_reference, payout_destination, status,
	session_date, session_start, session_end,
	trainer_completed_at, parent_confirmed_at, release_eligible_at, released_at, refunded_at,
	auto_confirmed, transfer_reference, refund_reference, release_method, release_notes,
	disputed_at, dispute_reason, dispute_resolution, dispute_resolved_at, dispute_resolved_by, resolution_notes,
	created_at, updated_at`

// EscrowRepository implements the escrow.Repository interface for PostgreSQL
type EscrowRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewEscrowRepository creates a new PostgreSQL escrow repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewEscrowRepository(logger *slog.Logger, db *persistence.PostgresDB) escrow.Repository {
	return &EscrowRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic
// operations across multiple repository calls.
func (r *EscrowRepository) WithTx(tx pgx.Tx) escrow.Repository {
	return &EscrowRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new escrow record. The unique index on booking_id enforces
// the one-record-per-booking rule; a violation maps to ErrDuplicateBooking.
func (r *EscrowRepository) Create(ctx context.Context, rec *escrow.Record) error {
	query := `
		INSERT INTO escrow_records (
			id, booking_id, trainer_id, parent_id,
			total_amount, platform_fee, trainer_amount, refund_amount,
			payment_reference, payout_destination, status,
			session_date, session_start, session_end,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.querier.Exec(ctx, query,
		rec.ID,
		rec.BookingID,
		rec.TrainerID,
		rec.ParentID,
		rec.TotalAmount,
		rec.PlatformFee,
		rec.TrainerAmount,
		rec.RefundAmount,
		rec.PaymentReference,
		rec.PayoutDestination,
		rec.Status,
		rec.SessionDate,
		rec.SessionStart,
		rec.SessionEnd,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return escrow.ErrDuplicateBooking{BookingID: rec.BookingID}
		}
		r.logger.Error("Failed to create escrow record", "error", err)
		return fmt.Errorf("failed to create escrow record: %w", err)
	}

	return nil
}

// GetByID retrieves an escrow record by its ID
func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_records WHERE id = $1`

	rec, err := r.scanRecord(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrRecordNotFound{EscrowID: id}
		}
		r.logger.Error("Failed to get escrow record", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get escrow record: %w", err)
	}

	return rec, nil
}

// GetByBookingID retrieves the escrow record attached to a booking
func (r *EscrowRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*escrow.Record, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_records WHERE booking_id = $1`

	rec, err := r.scanRecord(r.querier.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrRecordNotFound{}
		}
		r.logger.Error("Failed to get escrow record by booking", "booking_id", bookingID.String(), "error", err)
		return nil, fmt.Errorf("failed to get escrow record by booking: %w", err)
	}

	return rec, nil
}

// LockForUpdate obtains a pessimistic lock on the escrow record and returns
// its current state. Must be used within a transaction.
func (r *EscrowRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_records WHERE id = $1 FOR UPDATE`

	rec, err := r.scanRecord(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrRecordNotFound{EscrowID: id}
		}
		r.logger.Error("Failed to lock escrow record for update", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock escrow record for update: %w", err)
	}

	return rec, nil
}

// UpdateTransition persists all mutable transition fields conditionally on
// the row still holding expectedStatus. Zero rows affected means a concurrent
// caller already moved the record.
func (r *EscrowRepository) UpdateTransition(ctx context.Context, rec *escrow.Record, expectedStatus shared.EscrowStatus) error {
	query := `
		UPDATE escrow_records
		SET status = $1,
			trainer_amount = $2,
			refund_amount = $3,
			trainer_completed_at = $4,
			parent_confirmed_at = $5,
			release_eligible_at = $6,
			released_at = $7,
			refunded_at = $8,
			auto_confirmed = $9,
			release_method = $10,
			release_notes = $11,
			disputed_at = $12,
			dispute_reason = $13,
			dispute_resolution = $14,
			dispute_resolved_at = $15,
			dispute_resolved_by = $16,
			resolution_notes = $17,
			updated_at = $18
		WHERE id = $19 AND status = $20
	`

	result, err := r.querier.Exec(ctx, query,
		rec.Status,
		rec.TrainerAmount,
		rec.RefundAmount,
		rec.TrainerCompletedAt,
		rec.ParentConfirmedAt,
		rec.ReleaseEligibleAt,
		rec.ReleasedAt,
		rec.RefundedAt,
		rec.AutoConfirmed,
		rec.ReleaseMethod,
		rec.ReleaseNotes,
		rec.DisputedAt,
		rec.DisputeReason,
		rec.DisputeResolution,
		rec.DisputeResolvedAt,
		rec.DisputeResolvedBy,
		rec.ResolutionNotes,
		rec.UpdatedAt,
		rec.ID,
		expectedStatus,
	)
	if err != nil {
		r.logger.Error("Failed to update escrow transition", "id", rec.ID.String(), "error", err)
		return fmt.Errorf("failed to update escrow transition: %w", err)
	}

	if result.RowsAffected() == 0 {
		return escrow.ErrConcurrentModification{EscrowID: rec.ID}
	}

	return nil
}

// SetTransferReference records the gateway transfer id after a release has
// committed. It deliberately leaves status alone.
func (r *EscrowRepository) SetTransferReference(ctx context.Context, id uuid.UUID, reference string) error {
	query := `
		UPDATE escrow_records
		SET transfer_reference = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, reference, id)
	if err != nil {
		r.logger.Error("Failed to set transfer reference", "id", id.String(), "error", err)
		return fmt.Errorf("failed to set transfer reference: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escrow.ErrRecordNotFound{EscrowID: id}
	}

	return nil
}

// SetRefundReference records the gateway refund id after a refund has
// committed. It deliberately leaves status alone.
func (r *EscrowRepository) SetRefundReference(ctx context.Context, id uuid.UUID, reference string) error {
	query := `
		UPDATE escrow_records
		SET refund_reference = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, reference, id)
	if err != nil {
		r.logger.Error("Failed to set refund reference", "id", id.String(), "error", err)
		return fmt.Errorf("failed to set refund reference: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escrow.ErrRecordNotFound{EscrowID: id}
	}

	return nil
}

// SelectDueForRelease returns records whose confirmation window has lapsed,
// oldest deadline first. Records disputed after selection are filtered out by
// the conditional status check at release time, not here.
func (r *EscrowRepository) SelectDueForRelease(ctx context.Context, now time.Time, limit int) ([]*escrow.Record, error) {
	query := `SELECT ` + escrowColumns + `
		FROM escrow_records
		WHERE status = $1 AND release_eligible_at <= $2
		ORDER BY release_eligible_at ASC
		LIMIT $3`

	rows, err := r.querier.Query(ctx, query, shared.EscrowStatusSessionComplete, now, limit)
	if err != nil {
		r.logger.Error("Failed to select escrow records due for release", "error", err)
		return nil, fmt.Errorf("failed to select escrow records due for release: %w", err)
	}
	defer rows.Close()

	var records []*escrow.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			r.logger.Error("Failed to scan escrow record", "error", err)
			return nil, fmt.Errorf("failed to scan escrow record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escrow records: %w", err)
	}

	return records, nil
}

// scanRecord reads one escrow row in escrowColumns order.
func (r *EscrowRepository) scanRecord(row pgx.Row) (*escrow.Record, error) {
	var rec escrow.Record
	err := row.Scan(
		&rec.ID,
		&rec.BookingID,
		&rec.TrainerID,
		&rec.ParentID,
		&rec.TotalAmount,
		&rec.PlatformFee,
		&rec.TrainerAmount,
		&rec.RefundAmount,
		&rec.PaymentReference,
		&rec.PayoutDestination,
		&rec.Status,
		&rec.SessionDate,
		&rec.SessionStart,
		&rec.SessionEnd,
		&rec.TrainerCompletedAt,
		&rec.ParentConfirmedAt,
		&rec.ReleaseEligibleAt,
		&rec.ReleasedAt,
		&rec.RefundedAt,
		&rec.AutoConfirmed,
		&rec.TransferReference,
		&rec.RefundReference,
		&rec.ReleaseMethod,
		&rec.ReleaseNotes,
		&rec.DisputedAt,
		&rec.DisputeReason,
		&rec.DisputeResolution,
		&rec.DisputeResolvedAt,
		&rec.DisputeResolvedBy,
		&rec.ResolutionNotes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
