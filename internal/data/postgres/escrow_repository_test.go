package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traingrid/escrow-service/internal/domain/escrow"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var escrowRowColumns = []string{
	"id", "booking_id", "trainer_id", "parent_id",
	"total_amount", "platform_fee", "trainer_amount", "refund_amount",
	"payment_reference", "payout_destination", "status",
	"session_date", "session_start", "session_end",
	"trainer_completed_at", "parent_confirmed_at", "release_eligible_at", "released_at", "refunded_at",
	"auto_confirmed", "transfer_reference", "refund_reference", "release_method", "release_notes",
	"disputed_at", "dispute_reason", "dispute_resolution", "dispute_resolved_at", "dispute_resolved_by", "resolution_notes",
	"created_at", "updated_at",
}

func newStoredRecord() *escrow.Record {
	now := time.Now().Truncate(time.Second)
	return &escrow.Record{
		ID:                uuid.New(),
		BookingID:         uuid.New(),
		TrainerID:         uuid.New(),
		ParentID:          uuid.New(),
		TotalAmount:       10000,
		PlatformFee:       5000,
		TrainerAmount:     5000,
		PaymentReference:  "pi_test_123",
		PayoutDestination: "acct_test_456",
		Status:            shared.EscrowStatusHolding,
		SessionDate:       now,
		SessionStart:      now,
		SessionEnd:        now.Add(time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func escrowRows(rec *escrow.Record) *pgxmock.Rows {
	return pgxmock.NewRows(escrowRowColumns).AddRow(
		rec.ID, rec.BookingID, rec.TrainerID, rec.ParentID,
		rec.TotalAmount, rec.PlatformFee, rec.TrainerAmount, rec.RefundAmount,
		rec.PaymentReference, rec.PayoutDestination, rec.Status,
		rec.SessionDate, rec.SessionStart, rec.SessionEnd,
		rec.TrainerCompletedAt, rec.ParentConfirmedAt, rec.ReleaseEligibleAt, rec.ReleasedAt, rec.RefundedAt,
		rec.AutoConfirmed, rec.TransferReference, rec.RefundReference, rec.ReleaseMethod, rec.ReleaseNotes,
		rec.DisputedAt, rec.DisputeReason, rec.DisputeResolution, rec.DisputeResolvedAt, rec.DisputeResolvedBy, rec.ResolutionNotes,
		rec.CreatedAt, rec.UpdatedAt,
	)
}

func TestEscrowRepository_Create(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}
	rec := newStoredRecord()

	query := `INSERT INTO escrow_records`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(rec.ID, rec.BookingID, rec.TrainerID, rec.ParentID,
				rec.TotalAmount, rec.PlatformFee, rec.TrainerAmount, rec.RefundAmount,
				rec.PaymentReference, rec.PayoutDestination, rec.Status,
				rec.SessionDate, rec.SessionStart, rec.SessionEnd,
				rec.CreatedAt, rec.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Create(ctx, rec)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate booking", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(rec.ID, rec.BookingID, rec.TrainerID, rec.ParentID,
				rec.TotalAmount, rec.PlatformFee, rec.TrainerAmount, rec.RefundAmount,
				rec.PaymentReference, rec.PayoutDestination, rec.Status,
				rec.SessionDate, rec.SessionStart, rec.SessionEnd,
				rec.CreatedAt, rec.UpdatedAt).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "escrow_records_booking_id_key"})

		err := repo.Create(ctx, rec)
		assert.Error(t, err)
		var dupErr escrow.ErrDuplicateBooking
		assert.ErrorAs(t, err, &dupErr)
		assert.Equal(t, rec.BookingID, dupErr.BookingID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectExec(query).
			WithArgs(rec.ID, rec.BookingID, rec.TrainerID, rec.ParentID,
				rec.TotalAmount, rec.PlatformFee, rec.TrainerAmount, rec.RefundAmount,
				rec.PaymentReference, rec.PayoutDestination, rec.Status,
				rec.SessionDate, rec.SessionStart, rec.SessionEnd,
				rec.CreatedAt, rec.UpdatedAt).
			WillReturnError(dbErr)

		err := repo.Create(ctx, rec)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create escrow record")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}
	expected := newStoredRecord()

	query := `SELECT (.+) FROM escrow_records WHERE id = \$1`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnRows(escrowRows(expected))

		rec, err := repo.GetByID(ctx, expected.ID)
		assert.NoError(t, err)
		assert.Equal(t, expected, rec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnError(pgx.ErrNoRows)

		rec, err := repo.GetByID(ctx, expected.ID)
		assert.Error(t, err)
		assert.Nil(t, rec)
		var notFoundErr escrow.ErrRecordNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.Equal(t, expected.ID, notFoundErr.EscrowID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("some db error")
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnError(dbErr)

		rec, err := repo.GetByID(ctx, expected.ID)
		assert.Error(t, err)
		assert.Nil(t, rec)
		assert.Contains(t, err.Error(), "failed to get escrow record")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_GetByBookingID(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}
	expected := newStoredRecord()

	query := `SELECT (.+) FROM escrow_records WHERE booking_id = \$1`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.BookingID).WillReturnRows(escrowRows(expected))

		rec, err := repo.GetByBookingID(ctx, expected.BookingID)
		assert.NoError(t, err)
		assert.Equal(t, expected, rec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.BookingID).WillReturnError(pgx.ErrNoRows)

		rec, err := repo.GetByBookingID(ctx, expected.BookingID)
		assert.Error(t, err)
		assert.Nil(t, rec)
		var notFoundErr escrow.ErrRecordNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_LockForUpdate(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}
	expected := newStoredRecord()

	query := `SELECT (.+) FROM escrow_records WHERE id = \$1 FOR UPDATE`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnRows(escrowRows(expected))

		rec, err := repo.LockForUpdate(ctx, expected.ID)
		assert.NoError(t, err)
		assert.Equal(t, expected, rec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnError(pgx.ErrNoRows)

		rec, err := repo.LockForUpdate(ctx, expected.ID)
		assert.Error(t, err)
		assert.Nil(t, rec)
		var notFoundErr escrow.ErrRecordNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.Equal(t, expected.ID, notFoundErr.EscrowID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_UpdateTransition(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}

	rec := newStoredRecord()
	require.NoError(t, rec.MarkSessionComplete(rec.TrainerID, 24*time.Hour, time.Now()))

	query := `UPDATE escrow_records\s+SET status = \$1`

	args := []interface{}{
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
		shared.EscrowStatusHolding,
	}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(args...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.UpdateTransition(ctx, rec, shared.EscrowStatusHolding)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent caller won", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(args...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdateTransition(ctx, rec, shared.EscrowStatusHolding)
		assert.Error(t, err)
		var concurrentErr escrow.ErrConcurrentModification
		assert.ErrorAs(t, err, &concurrentErr)
		assert.Equal(t, rec.ID, concurrentErr.EscrowID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("update db error")
		mock.ExpectExec(query).WithArgs(args...).WillReturnError(dbErr)

		err := repo.UpdateTransition(ctx, rec, shared.EscrowStatusHolding)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to update escrow transition")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_SetTransferReference(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}
	id := uuid.New()

	query := `UPDATE escrow_records\s+SET transfer_reference = \$1, updated_at = NOW\(\)\s+WHERE id = \$2`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs("tr_123", id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.SetTransferReference(ctx, id, "tr_123")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs("tr_123", id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.SetTransferReference(ctx, id, "tr_123")
		assert.Error(t, err)
		var notFoundErr escrow.ErrRecordNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_SetRefundReference(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}
	id := uuid.New()

	query := `UPDATE escrow_records\s+SET refund_reference = \$1, updated_at = NOW\(\)\s+WHERE id = \$2`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs("re_123", id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.SetRefundReference(ctx, id, "re_123")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_SelectDueForRelease(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &EscrowRepository{querier: mock, logger: logger}
	now := time.Now()

	due := newStoredRecord()
	require.NoError(t, due.MarkSessionComplete(due.TrainerID, time.Minute, now.Add(-2*time.Hour)))

	query := `SELECT (.+)\s+FROM escrow_records\s+WHERE status = \$1 AND release_eligible_at <= \$2`

	t.Run("returns due records", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(shared.EscrowStatusSessionComplete, now, 100).
			WillReturnRows(escrowRows(due))

		records, err := repo.SelectDueForRelease(ctx, now, 100)
		assert.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, due.ID, records[0].ID)
		assert.Equal(t, shared.EscrowStatusSessionComplete, records[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no due records", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(shared.EscrowStatusSessionComplete, now, 100).
			WillReturnRows(pgxmock.NewRows(escrowRowColumns))

		records, err := repo.SelectDueForRelease(ctx, now, 100)
		assert.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("query db error")
		mock.ExpectQuery(query).
			WithArgs(shared.EscrowStatusSessionComplete, now, 100).
			WillReturnError(dbErr)

		records, err := repo.SelectDueForRelease(ctx, now, 100)
		assert.Error(t, err)
		assert.Nil(t, records)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowRepository_WithTx(t *testing.T) {
	logger := newTestLogger()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	originalRepo := &EscrowRepository{querier: mockPool, logger: logger}

	mockPool.ExpectBegin()
	pgxTx, err := mockPool.Begin(context.Background())
	require.NoError(t, err)

	txRepo := originalRepo.WithTx(pgxTx)

	assert.NotNil(t, txRepo)
	assert.Equal(t, originalRepo.logger, txRepo.(*EscrowRepository).logger)
	assert.Equal(t, pgxTx, txRepo.(*EscrowRepository).querier, "Querier in new repo should be the transaction")

	assert.NoError(t, mockPool.ExpectationsWereMet())
}
