package disputes

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/traingrid/escrow-service/internal/domain/audit"
	"github.com/traingrid/escrow-service/internal/domain/booking"
	"github.com/traingrid/escrow-service/internal/domain/escrow"
	"github.com/traingrid/escrow-service/internal/domain/outbox"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

type fakeTxRunner struct{}

func (f *fakeTxRunner) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type MockEscrowRepository struct {
	mock.Mock
}

func (m *MockEscrowRepository) Create(ctx context.Context, rec *escrow.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockEscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Record), args.Error(1)
}

func (m *MockEscrowRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*escrow.Record, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Record), args.Error(1)
}

func (m *MockEscrowRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Record), args.Error(1)
}

func (m *MockEscrowRepository) UpdateTransition(ctx context.Context, rec *escrow.Record, expectedStatus shared.EscrowStatus) error {
	args := m.Called(ctx, rec, expectedStatus)
	return args.Error(0)
}

func (m *MockEscrowRepository) SetTransferReference(ctx context.Context, id uuid.UUID, reference string) error {
	args := m.Called(ctx, id, reference)
	return args.Error(0)
}

func (m *MockEscrowRepository) SetRefundReference(ctx context.Context, id uuid.UUID, reference string) error {
	args := m.Called(ctx, id, reference)
	return args.Error(0)
}

func (m *MockEscrowRepository) SelectDueForRelease(ctx context.Context, now time.Time, limit int) ([]*escrow.Record, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*escrow.Record), args.Error(1)
}

func (m *MockEscrowRepository) WithTx(tx pgx.Tx) escrow.Repository {
	m.Called(tx)
	return m
}

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) SetPayoutStatus(ctx context.Context, bookingID uuid.UUID, status shared.PayoutStatus) error {
	args := m.Called(ctx, bookingID, status)
	return args.Error(0)
}

func (m *MockBookingRepository) WithTx(tx pgx.Tx) booking.Repository {
	m.Called(tx)
	return m
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepository) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepository) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	m.Called(tx)
	return m
}

type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByEscrowID(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]*audit.Entry, error) {
	args := m.Called(ctx, escrowID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Entry), args.Error(1)
}

func (m *MockAuditRepository) CountByEscrowID(ctx context.Context, escrowID uuid.UUID) (int64, error) {
	args := m.Called(ctx, escrowID)
	return args.Get(0).(int64), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateTransfer(ctx context.Context, amount int64, destination, description string) (string, error) {
	args := m.Called(ctx, amount, destination, description)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CreateRefund(ctx context.Context, paymentReference string, amount int64) (string, error) {
	args := m.Called(ctx, paymentReference, amount)
	return args.String(0), args.Error(1)
}

type resolverFixture struct {
	escrows  *MockEscrowRepository
	bookings *MockBookingRepository
	outbox   *MockOutboxRepository
	auditLog *MockAuditRepository
	gateway  *MockGateway
	resolver Resolver
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	f := &resolverFixture{
		escrows:  &MockEscrowRepository{},
		bookings: &MockBookingRepository{},
		outbox:   &MockOutboxRepository{},
		auditLog: &MockAuditRepository{},
		gateway:  &MockGateway{},
	}
	f.escrows.On("WithTx", mock.Anything).Return().Maybe()
	f.bookings.On("WithTx", mock.Anything).Return().Maybe()
	f.outbox.On("WithTx", mock.Anything).Return().Maybe()
	f.auditLog.On("Append", mock.Anything, mock.Anything).Return(nil).Maybe()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.resolver = NewResolver(&fakeTxRunner{}, f.escrows, f.bookings, f.outbox, f.auditLog, f.gateway, logger)
	return f
}

// disputedRecord builds a repeat-session record (25/75 split) frozen in
// disputed: total 10000, platform fee 2500, trainer amount 7500.
func disputedRecord(t *testing.T) *escrow.Record {
	t.Helper()
	sessionStart := time.Now().Add(-3 * time.Hour)
	rec, err := escrow.NewRecord(escrow.NewRecordParams{
		BookingID:         uuid.New(),
		TrainerID:         uuid.New(),
		ParentID:          uuid.New(),
		TotalAmount:       10000,
		RepeatSession:     true,
		PaymentReference:  "pi_disputed",
		PayoutDestination: "acct_trainer",
		SessionDate:       sessionStart,
		SessionStart:      sessionStart,
		SessionEnd:        sessionStart.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, rec.MarkSessionComplete(rec.TrainerID, 24*time.Hour, time.Now()))
	require.NoError(t, rec.Dispute(rec.ParentID, "session cut short", time.Now()))
	return rec
}

func TestResolver_Resolve_TrainerFull(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	rec := disputedRecord(t)
	adminID := uuid.New()

	f.escrows.On("LockForUpdate", mock.Anything, rec.ID).Return(rec, nil)
	f.escrows.On("UpdateTransition", mock.Anything, rec, shared.EscrowStatusDisputed).Return(nil)
	f.bookings.On("SetPayoutStatus", mock.Anything, rec.BookingID, shared.PayoutStatusPaid).Return(nil)
	f.outbox.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreateTransfer", mock.Anything, int64(7500), "acct_trainer", mock.Anything).Return("tr_full", nil)
	f.escrows.On("SetTransferReference", mock.Anything, rec.ID, "tr_full").Return(nil)

	result, err := f.resolver.Resolve(ctx, rec.ID, shared.DisputeResolutionTrainerFull, adminID, "evidence favors trainer")
	require.NoError(t, err)

	assert.NoError(t, result.TransferErr)
	assert.NoError(t, result.RefundErr)
	assert.Equal(t, shared.EscrowStatusReleased, result.Record.Status)
	assert.Equal(t, shared.ReleaseMethodDispute, result.Record.ReleaseMethod)
	assert.Equal(t, int64(7500), result.Record.TrainerAmount)
	assert.Equal(t, int64(0), result.Record.RefundAmount)
	assert.Equal(t, shared.DisputeResolutionTrainerFull, result.Record.DisputeResolution)
	assert.Equal(t, &adminID, result.Record.DisputeResolvedBy)
	f.gateway.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_Resolve_ParentFull(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	rec := disputedRecord(t)
	adminID := uuid.New()

	f.escrows.On("LockForUpdate", mock.Anything, rec.ID).Return(rec, nil)
	f.escrows.On("UpdateTransition", mock.Anything, rec, shared.EscrowStatusDisputed).Return(nil)
	f.outbox.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreateRefund", mock.Anything, "pi_disputed", int64(10000)).Return("re_full", nil)
	f.escrows.On("SetRefundReference", mock.Anything, rec.ID, "re_full").Return(nil)

	result, err := f.resolver.Resolve(ctx, rec.ID, shared.DisputeResolutionParentFull, adminID, "no-show confirmed")
	require.NoError(t, err)

	assert.Equal(t, shared.EscrowStatusRefunded, result.Record.Status)
	assert.Equal(t, int64(10000), result.Record.RefundAmount)
	f.gateway.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.bookings.AssertNotCalled(t, "SetPayoutStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_Resolve_Split(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	rec := disputedRecord(t)
	adminID := uuid.New()

	f.escrows.On("LockForUpdate", mock.Anything, rec.ID).Return(rec, nil)
	f.escrows.On("UpdateTransition", mock.Anything, rec, shared.EscrowStatusDisputed).Return(nil)
	f.bookings.On("SetPayoutStatus", mock.Anything, rec.BookingID, shared.PayoutStatusPaid).Return(nil)
	f.outbox.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreateTransfer", mock.Anything, int64(3750), "acct_trainer", mock.Anything).Return("tr_half", nil)
	f.gateway.On("CreateRefund", mock.Anything, "pi_disputed", int64(6250)).Return("re_half", nil)
	f.escrows.On("SetTransferReference", mock.Anything, rec.ID, "tr_half").Return(nil)
	f.escrows.On("SetRefundReference", mock.Anything, rec.ID, "re_half").Return(nil)

	result, err := f.resolver.Resolve(ctx, rec.ID, shared.DisputeResolutionSplit, adminID, "shared responsibility")
	require.NoError(t, err)

	assert.Equal(t, shared.EscrowStatusReleased, result.Record.Status)
	assert.Equal(t, int64(3750), result.Record.TrainerAmount)
	assert.Equal(t, int64(6250), result.Record.RefundAmount)
	assert.Equal(t, int64(10000), result.Record.TrainerAmount+result.Record.RefundAmount)
	assert.NoError(t, result.TransferErr)
	assert.NoError(t, result.RefundErr)
	f.gateway.AssertExpectations(t)
}

func TestResolver_Resolve_SplitSecondLegFails(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	rec := disputedRecord(t)
	refundErr := errors.New("refund rejected")

	f.escrows.On("LockForUpdate", mock.Anything, rec.ID).Return(rec, nil)
	f.escrows.On("UpdateTransition", mock.Anything, rec, shared.EscrowStatusDisputed).Return(nil)
	f.bookings.On("SetPayoutStatus", mock.Anything, rec.BookingID, shared.PayoutStatusPaid).Return(nil)
	f.outbox.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreateTransfer", mock.Anything, int64(3750), "acct_trainer", mock.Anything).Return("tr_half", nil)
	f.gateway.On("CreateRefund", mock.Anything, "pi_disputed", int64(6250)).Return("", refundErr)
	f.escrows.On("SetTransferReference", mock.Anything, rec.ID, "tr_half").Return(nil)

	result, err := f.resolver.Resolve(ctx, rec.ID, shared.DisputeResolutionSplit, uuid.New(), "")
	require.NoError(t, err)

	assert.NoError(t, result.TransferErr)
	assert.ErrorIs(t, result.RefundErr, refundErr)
	assert.Equal(t, shared.EscrowStatusReleased, result.Record.Status)
	assert.Equal(t, "tr_half", result.Record.TransferReference)
	assert.Empty(t, result.Record.RefundReference)
}

func TestResolver_Resolve_SplitFirstLegFailsStillRefunds(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	rec := disputedRecord(t)
	transferErr := errors.New("destination account frozen")

	f.escrows.On("LockForUpdate", mock.Anything, rec.ID).Return(rec, nil)
	f.escrows.On("UpdateTransition", mock.Anything, rec, shared.EscrowStatusDisputed).Return(nil)
	f.bookings.On("SetPayoutStatus", mock.Anything, rec.BookingID, shared.PayoutStatusPaid).Return(nil)
	f.outbox.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreateTransfer", mock.Anything, int64(3750), "acct_trainer", mock.Anything).Return("", transferErr)
	f.gateway.On("CreateRefund", mock.Anything, "pi_disputed", int64(6250)).Return("re_half", nil)
	f.escrows.On("SetRefundReference", mock.Anything, rec.ID, "re_half").Return(nil)

	result, err := f.resolver.Resolve(ctx, rec.ID, shared.DisputeResolutionSplit, uuid.New(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, result.TransferErr, transferErr)
	assert.NoError(t, result.RefundErr)
	f.gateway.AssertExpectations(t)
}

func TestResolver_Resolve_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid resolution", func(t *testing.T) {
		f := newResolverFixture(t)

		result, err := f.resolver.Resolve(ctx, uuid.New(), shared.DisputeResolution("mediation"), uuid.New(), "")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, escrow.ErrInvalidResolution)
		f.escrows.AssertNotCalled(t, "LockForUpdate", mock.Anything, mock.Anything)
	})

	t.Run("record not disputed", func(t *testing.T) {
		f := newResolverFixture(t)
		sessionStart := time.Now().Add(-2 * time.Hour)
		rec, err := escrow.NewRecord(escrow.NewRecordParams{
			BookingID:         uuid.New(),
			TrainerID:         uuid.New(),
			ParentID:          uuid.New(),
			TotalAmount:       10000,
			PaymentReference:  "pi_x",
			PayoutDestination: "acct_x",
			SessionDate:       sessionStart,
			SessionStart:      sessionStart,
			SessionEnd:        sessionStart.Add(time.Hour),
		})
		require.NoError(t, err)

		f.escrows.On("LockForUpdate", mock.Anything, rec.ID).Return(rec, nil)

		result, err := f.resolver.Resolve(ctx, rec.ID, shared.DisputeResolutionSplit, uuid.New(), "")
		assert.Nil(t, result)
		var precondition escrow.ErrPreconditionFailed
		assert.ErrorAs(t, err, &precondition)
		f.gateway.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("already resolved record is absorbing", func(t *testing.T) {
		f := newResolverFixture(t)
		rec := disputedRecord(t)
		require.NoError(t, rec.Refund(time.Now()))

		f.escrows.On("LockForUpdate", mock.Anything, rec.ID).Return(rec, nil)

		result, err := f.resolver.Resolve(ctx, rec.ID, shared.DisputeResolutionParentFull, uuid.New(), "")
		assert.Nil(t, result)
		var finalized escrow.ErrAlreadyFinalized
		assert.ErrorAs(t, err, &finalized)
		f.gateway.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything, mock.Anything)
	})
}
