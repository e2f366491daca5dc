// Package ledger implements the transactional core of the escrow service.
// A transition is committed in one database transaction: row lock, state
// machine check, conditional status update, booking write-back and outbox
// event. Gateway calls happen strictly after commit; a gateway failure is
// reported as a warning on the outcome and never rolls the transition back.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/traingrid/escrow-service/internal/domain/audit"
	"github.com/traingrid/escrow-service/internal/domain/booking"
	"github.com/traingrid/escrow-service/internal/domain/escrow"
	"github.com/traingrid/escrow-service/internal/domain/outbox"
	"github.com/traingrid/escrow-service/internal/domain/shared"
	"github.com/traingrid/escrow-service/internal/platform/payout"
)

// Outcome reports a finalizing transition. GatewayErr is non-nil when the
// status committed but the money movement failed; callers surface it as a
// warning and reconciliation picks the transfer up later.
type Outcome struct {
	Record     *escrow.Record
	GatewayErr error
}

// LedgerService implements EscrowLedger on PostgreSQL, MongoDB and the
// payout gateway.
type LedgerService struct {
	pg       TxRunner
	escrows  escrow.Repository
	bookings booking.Repository
	outbox   outbox.Repository
	auditLog audit.Repository
	gateway  payout.Gateway
	window   time.Duration
	logger   *slog.Logger
}

// NewLedgerService creates the escrow ledger. window is the confirmation
// window added to session end when the trainer marks a session complete.
func NewLedgerService(
	pg TxRunner,
	escrows escrow.Repository,
	bookings booking.Repository,
	outboxRepo outbox.Repository,
	auditLog audit.Repository,
	gateway payout.Gateway,
	window time.Duration,
	logger *slog.Logger,
) EscrowLedger {
	return &LedgerService{
		pg:       pg,
		escrows:  escrows,
		bookings: bookings,
		outbox:   outboxRepo,
		auditLog: auditLog,
		gateway:  gateway,
		window:   window,
		logger:   logger,
	}
}

// CreateEscrow opens a holding record for a captured booking payment
func (s *LedgerService) CreateEscrow(ctx context.Context, params escrow.NewRecordParams) (*escrow.Record, error) {
	rec, err := escrow.NewRecord(params)
	if err != nil {
		return nil, err
	}

	if err := s.escrows.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("Escrow record created",
		"escrow_id", rec.ID.String(),
		"booking_id", rec.BookingID.String(),
		"total_amount", rec.TotalAmount,
		"platform_fee", rec.PlatformFee,
	)
	s.appendAudit(ctx, rec.ID, audit.EventCreated,
		fmt.Sprintf("escrow created holding %d cents for booking %s", rec.TotalAmount, rec.BookingID), nil)

	return rec, nil
}

// GetEscrow retrieves an escrow record by its ID
func (s *LedgerService) GetEscrow(ctx context.Context, id uuid.UUID) (*escrow.Record, error) {
	return s.escrows.GetByID(ctx, id)
}

// GetEscrowByBookingID retrieves the record attached to a booking
func (s *LedgerService) GetEscrowByBookingID(ctx context.Context, bookingID uuid.UUID) (*escrow.Record, error) {
	return s.escrows.GetByBookingID(ctx, bookingID)
}

// MarkSessionComplete records the trainer's completion claim. The release
// deadline becomes session end plus the confirmation window and is fixed
// from here on.
func (s *LedgerService) MarkSessionComplete(ctx context.Context, id, trainerID uuid.UUID) (*escrow.Record, error) {
	var rec *escrow.Record
	err := s.pg.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.escrows.WithTx(tx)

		r, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}

		expected := r.Status
		if err := r.MarkSessionComplete(trainerID, s.window, time.Now()); err != nil {
			return err
		}
		if err := repo.UpdateTransition(ctx, r, expected); err != nil {
			return err
		}
		if err := s.createOutboxEvent(ctx, tx, r, shared.EventEscrowSessionComplete); err != nil {
			return err
		}

		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Session marked complete",
		"escrow_id", rec.ID.String(),
		"release_eligible_at", rec.ReleaseEligibleAt,
	)
	s.appendAudit(ctx, rec.ID, audit.EventSessionComplete,
		fmt.Sprintf("trainer marked session complete, auto-release at %s", rec.ReleaseEligibleAt.Format(time.RFC3339)), &trainerID)

	return rec, nil
}

// Confirm records the parent's confirmation and releases funds in the same
// transaction. The parent only ever observes confirmed-and-released.
func (s *LedgerService) Confirm(ctx context.Context, id, parentID uuid.UUID) (*Outcome, error) {
	var rec *escrow.Record
	err := s.pg.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.escrows.WithTx(tx)

		r, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}

		expected := r.Status
		now := time.Now()
		if err := r.Confirm(parentID, now); err != nil {
			return err
		}
		if err := r.Release(shared.ReleaseMethodManualConfirm, now); err != nil {
			return err
		}
		if err := repo.UpdateTransition(ctx, r, expected); err != nil {
			return err
		}
		if err := s.bookings.WithTx(tx).SetPayoutStatus(ctx, r.BookingID, shared.PayoutStatusPaid); err != nil {
			return err
		}
		if err := s.createOutboxEvent(ctx, tx, r, shared.EventEscrowReleased); err != nil {
			return err
		}

		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, rec.ID, audit.EventConfirmed, "parent confirmed session", &parentID)
	gatewayErr := s.payTrainer(ctx, rec, &parentID)

	return &Outcome{Record: rec, GatewayErr: gatewayErr}, nil
}

// RaiseDispute freezes the record in disputed. Any pending auto-release is
// neutralized by the conditional status check, not by cancellation.
func (s *LedgerService) RaiseDispute(ctx context.Context, id, parentID uuid.UUID, reason string) (*escrow.Record, error) {
	var rec *escrow.Record
	err := s.pg.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.escrows.WithTx(tx)

		r, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}

		expected := r.Status
		if err := r.Dispute(parentID, reason, time.Now()); err != nil {
			return err
		}
		if err := repo.UpdateTransition(ctx, r, expected); err != nil {
			return err
		}
		if err := s.createOutboxEvent(ctx, tx, r, shared.EventEscrowDisputed); err != nil {
			return err
		}

		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute raised", "escrow_id", rec.ID.String(), "reason", reason)
	s.appendAudit(ctx, rec.ID, audit.EventDisputed, "parent raised dispute: "+reason, &parentID)

	return rec, nil
}

// Release finalizes the record as released and pays the trainer. For the
// auto method the release deadline is re-checked under the row lock so a
// stale scheduler selection cannot release early.
func (s *LedgerService) Release(ctx context.Context, id uuid.UUID, method shared.ReleaseMethod, actor *uuid.UUID, notes string) (*Outcome, error) {
	var rec *escrow.Record
	err := s.pg.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.escrows.WithTx(tx)

		r, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}

		now := time.Now()
		if method == shared.ReleaseMethodAuto && !r.ReleaseEligible(now) {
			return escrow.ErrPreconditionFailed{EscrowID: r.ID, Status: r.Status, Operation: "auto_release"}
		}

		expected := r.Status
		if err := r.Release(method, now); err != nil {
			return err
		}
		r.ReleaseNotes = notes
		if err := repo.UpdateTransition(ctx, r, expected); err != nil {
			return err
		}
		if err := s.bookings.WithTx(tx).SetPayoutStatus(ctx, r.BookingID, shared.PayoutStatusPaid); err != nil {
			return err
		}
		if err := s.createOutboxEvent(ctx, tx, r, shared.EventEscrowReleased); err != nil {
			return err
		}

		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	gatewayErr := s.payTrainer(ctx, rec, actor)

	return &Outcome{Record: rec, GatewayErr: gatewayErr}, nil
}

// Refund finalizes the record as refunded and returns the full captured
// amount to the parent.
func (s *LedgerService) Refund(ctx context.Context, id uuid.UUID, actor *uuid.UUID, notes string) (*Outcome, error) {
	var rec *escrow.Record
	err := s.pg.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.escrows.WithTx(tx)

		r, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}

		expected := r.Status
		if err := r.Refund(time.Now()); err != nil {
			return err
		}
		r.ReleaseNotes = notes
		if err := repo.UpdateTransition(ctx, r, expected); err != nil {
			return err
		}
		if err := s.createOutboxEvent(ctx, tx, r, shared.EventEscrowRefunded); err != nil {
			return err
		}

		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	gatewayErr := s.refundParent(ctx, rec, actor)

	return &Outcome{Record: rec, GatewayErr: gatewayErr}, nil
}

// payTrainer sends the transfer after the release committed. On failure the
// record keeps a blank transfer reference for later reconciliation.
func (s *LedgerService) payTrainer(ctx context.Context, rec *escrow.Record, actor *uuid.UUID) error {
	s.appendAudit(ctx, rec.ID, audit.EventReleased,
		fmt.Sprintf("escrow released, %d cents due to trainer via %s", rec.TrainerAmount, rec.ReleaseMethod), actor)

	description := fmt.Sprintf("escrow %s payout for booking %s", rec.ID, rec.BookingID)
	reference, err := s.gateway.CreateTransfer(ctx, rec.TrainerAmount, rec.PayoutDestination, description)
	if err != nil {
		s.logger.Warn("Payout transfer failed after release committed",
			"escrow_id", rec.ID.String(),
			"trainer_amount", rec.TrainerAmount,
			"error", err,
		)
		s.appendAudit(ctx, rec.ID, audit.EventPayoutFailed, "payout transfer failed: "+err.Error(), nil)
		return err
	}

	rec.TransferReference = reference
	if err := s.escrows.SetTransferReference(ctx, rec.ID, reference); err != nil {
		s.logger.Error("Failed to persist transfer reference",
			"escrow_id", rec.ID.String(),
			"transfer_reference", reference,
			"error", err,
		)
	}

	s.logger.Info("Payout transfer succeeded",
		"escrow_id", rec.ID.String(),
		"transfer_reference", reference,
	)
	return nil
}

// refundParent sends the refund after the refund transition committed.
func (s *LedgerService) refundParent(ctx context.Context, rec *escrow.Record, actor *uuid.UUID) error {
	s.appendAudit(ctx, rec.ID, audit.EventRefunded,
		fmt.Sprintf("escrow refunded, %d cents due back to parent", rec.RefundAmount), actor)

	reference, err := s.gateway.CreateRefund(ctx, rec.PaymentReference, rec.RefundAmount)
	if err != nil {
		s.logger.Warn("Refund failed after transition committed",
			"escrow_id", rec.ID.String(),
			"refund_amount", rec.RefundAmount,
			"error", err,
		)
		s.appendAudit(ctx, rec.ID, audit.EventRefundFailed, "refund failed: "+err.Error(), nil)
		return err
	}

	rec.RefundReference = reference
	if err := s.escrows.SetRefundReference(ctx, rec.ID, reference); err != nil {
		s.logger.Error("Failed to persist refund reference",
			"escrow_id", rec.ID.String(),
			"refund_reference", reference,
			"error", err,
		)
	}

	s.logger.Info("Refund succeeded",
		"escrow_id", rec.ID.String(),
		"refund_reference", reference,
	)
	return nil
}

// createOutboxEvent writes the domain event in the same transaction as the
// transition it describes.
func (s *LedgerService) createOutboxEvent(ctx context.Context, tx pgx.Tx, rec *escrow.Record, eventType shared.EventType) error {
	event := &outbox.EscrowEvent{
		EventType:     eventType,
		EscrowID:      rec.ID,
		BookingID:     rec.BookingID,
		TrainerID:     rec.TrainerID,
		ParentID:      rec.ParentID,
		Status:        rec.Status,
		TotalAmount:   rec.TotalAmount,
		TrainerAmount: rec.TrainerAmount,
		RefundAmount:  rec.RefundAmount,
		OccurredAt:    rec.UpdatedAt,
	}

	message, err := outbox.NewMessage(event)
	if err != nil {
		return fmt.Errorf("failed to build outbox message: %w", err)
	}

	return s.outbox.WithTx(tx).Create(ctx, message)
}

// appendAudit records history outside the transition transaction. Audit
// failures are logged, never propagated.
func (s *LedgerService) appendAudit(ctx context.Context, escrowID uuid.UUID, eventType, message string, actor *uuid.UUID) {
	entry := audit.NewEntry(escrowID, eventType, message, actor)
	if err := s.auditLog.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to append audit entry",
			"escrow_id", escrowID.String(),
			"event_type", eventType,
			"error", err,
		)
	}
}
