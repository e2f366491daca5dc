package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/traingrid/escrow-service/internal/config"
	"github.com/traingrid/escrow-service/internal/domain/outbox"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	m.Called(tx)
	return m
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishEvent(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func pendingMessage(t *testing.T, id int64, attempts int) *outbox.Message {
	t.Helper()
	event := &outbox.EscrowEvent{
		EventType:     shared.EventEscrowReleased,
		EscrowID:      uuid.New(),
		BookingID:     uuid.New(),
		TrainerID:     uuid.New(),
		ParentID:      uuid.New(),
		Status:        shared.EscrowStatusReleased,
		TotalAmount:   10000,
		TrainerAmount: 5000,
		OccurredAt:    time.Now(),
	}
	message, err := outbox.NewMessage(event)
	require.NoError(t, err)
	message.ID = id
	message.Attempts = attempts
	return message
}

func TestPoller_ProcessPendingMessages(t *testing.T) {
	logger := slog.Default()

	cfg := &config.OutboxConfig{
		PollingInterval:  time.Second,
		BatchSize:        10,
		MaxRetryAttempts: 3,
	}

	t.Run("successful processing of pending messages", func(t *testing.T) {
		mockOutboxRepo := &MockOutboxRepo{}
		mockPublisher := &MockEventPublisher{}
		poller := NewPoller(cfg, mockOutboxRepo, mockPublisher, logger)

		message1 := pendingMessage(t, 1, 0)
		message2 := pendingMessage(t, 2, 0)

		mockOutboxRepo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{message1, message2}, nil).Once()
		mockPublisher.On("PublishEvent", mock.Anything, message1).Return(nil).Once()
		mockPublisher.On("PublishEvent", mock.Anything, message2).Return(nil).Once()

		err := poller.ProcessPendingMessages(context.Background())
		assert.NoError(t, err)
		mockOutboxRepo.AssertExpectations(t)
		mockPublisher.AssertExpectations(t)
	})

	t.Run("error getting pending messages", func(t *testing.T) {
		mockOutboxRepo := &MockOutboxRepo{}
		mockPublisher := &MockEventPublisher{}
		poller := NewPoller(cfg, mockOutboxRepo, mockPublisher, logger)

		mockOutboxRepo.On("GetPending", mock.Anything, 10).Return(nil, errors.New("db error")).Once()

		err := poller.ProcessPendingMessages(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get pending outbox messages")
	})

	t.Run("no pending messages", func(t *testing.T) {
		mockOutboxRepo := &MockOutboxRepo{}
		mockPublisher := &MockEventPublisher{}
		poller := NewPoller(cfg, mockOutboxRepo, mockPublisher, logger)

		mockOutboxRepo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{}, nil).Once()

		err := poller.ProcessPendingMessages(context.Background())
		assert.NoError(t, err)
		mockPublisher.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything)
	})

	t.Run("error publishing one message increments attempts and continues", func(t *testing.T) {
		mockOutboxRepo := &MockOutboxRepo{}
		mockPublisher := &MockEventPublisher{}
		poller := NewPoller(cfg, mockOutboxRepo, mockPublisher, logger)

		message1 := pendingMessage(t, 1, 0)
		message2 := pendingMessage(t, 2, 0)

		mockOutboxRepo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{message1, message2}, nil).Once()
		mockPublisher.On("PublishEvent", mock.Anything, message1).Return(errors.New("publish error")).Once()
		mockOutboxRepo.On("IncrementAttempts", mock.Anything, int64(1)).Return(nil).Once()
		mockPublisher.On("PublishEvent", mock.Anything, message2).Return(nil).Once()

		err := poller.ProcessPendingMessages(context.Background())
		assert.NoError(t, err)
		mockOutboxRepo.AssertExpectations(t)
		mockPublisher.AssertExpectations(t)
	})

	t.Run("max retry attempts reached marks message failed", func(t *testing.T) {
		mockOutboxRepo := &MockOutboxRepo{}
		mockPublisher := &MockEventPublisher{}
		poller := NewPoller(cfg, mockOutboxRepo, mockPublisher, logger)

		exhausted := pendingMessage(t, 3, 2)

		mockOutboxRepo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{exhausted}, nil).Once()
		mockPublisher.On("PublishEvent", mock.Anything, exhausted).Return(errors.New("publish error")).Once()
		mockOutboxRepo.On("IncrementAttempts", mock.Anything, int64(3)).Return(nil).Once()
		mockOutboxRepo.On("UpdateStatus", mock.Anything, int64(3), shared.OutboxStatusFailedToPublish).Return(nil).Once()

		err := poller.ProcessPendingMessages(context.Background())
		assert.NoError(t, err)
		mockOutboxRepo.AssertExpectations(t)
	})
}
