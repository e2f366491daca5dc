// Package disputes implements admin dispute resolution. A resolution is a
// terminal transition out of disputed: full release, full refund, or a split
// that pays the trainer half the escrowed payout and refunds the rest. The
// split is a two-leg money movement; both legs run after the terminal state
// has committed and neither failure rolls it back.
package disputes

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
	"github.com/traingrid/escrow-service/internal/ledger"
	"github.com/traingrid/escrow-service/internal/platform/payout"
)

// Resolution reports the outcome of a resolved dispute. TransferErr and
// RefundErr carry gateway leg failures that did not roll back the terminal
// transition.
type Resolution struct {
	Record      *escrow.Record
	TransferErr error
	RefundErr   error
}

// Resolver applies admin dispute outcomes to escrow records.
type Resolver interface {
	Resolve(ctx context.Context, id uuid.UUID, resolution shared.DisputeResolution, adminID uuid.UUID, notes string) (*Resolution, error)
}

type resolver struct {
	pg       ledger.TxRunner
	escrows  escrow.Repository
	bookings booking.Repository
	outbox   outbox.Repository
	auditLog audit.Repository
	gateway  payout.Gateway
	logger   *slog.Logger
}

// NewResolver creates the dispute resolver
func NewResolver(
	pg ledger.TxRunner,
	escrows escrow.Repository,
	bookings booking.Repository,
	outboxRepo outbox.Repository,
	auditLog audit.Repository,
	gateway payout.Gateway,
	logger *slog.Logger,
) Resolver {
	return &resolver{
		pg:       pg,
		escrows:  escrows,
		bookings: bookings,
		outbox:   outboxRepo,
		auditLog: auditLog,
		gateway:  gateway,
		logger:   logger,
	}
}

// Resolve applies an admin ruling to a disputed escrow record. The terminal
// transition commits first; gateway legs follow and report failures on the
// returned Resolution.
func (r *resolver) Resolve(ctx context.Context, id uuid.UUID, resolution shared.DisputeResolution, adminID uuid.UUID, notes string) (*Resolution, error) {
	if !resolution.Valid() {
		return nil, escrow.ErrInvalidResolution
	}

	var rec *escrow.Record
	err := r.pg.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := r.escrows.WithTx(tx)

		locked, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := locked.RecordResolution(resolution, adminID, notes, now); err != nil {
			return err
		}

		var eventType shared.EventType
		switch resolution {
		case shared.DisputeResolutionTrainerFull:
			if err := locked.Release(shared.ReleaseMethodDispute, now); err != nil {
				return err
			}
			eventType = shared.EventEscrowReleased

		case shared.DisputeResolutionParentFull:
			if err := locked.Refund(now); err != nil {
				return err
			}
			eventType = shared.EventEscrowRefunded

		case shared.DisputeResolutionSplit:
			if err := locked.ApplySplit(now); err != nil {
				return err
			}
			if err := locked.Release(shared.ReleaseMethodDispute, now); err != nil {
				return err
			}
			eventType = shared.EventEscrowReleased
		}

		if err := repo.UpdateTransition(ctx, locked, shared.EscrowStatusDisputed); err != nil {
			return err
		}

		if locked.Status == shared.EscrowStatusReleased {
			if err := r.bookings.WithTx(tx).SetPayoutStatus(ctx, locked.BookingID, shared.PayoutStatusPaid); err != nil {
				return err
			}
		}

		event := &outbox.EscrowEvent{
			EventType:     eventType,
			EscrowID:      locked.ID,
			BookingID:     locked.BookingID,
			TrainerID:     locked.TrainerID,
			ParentID:      locked.ParentID,
			Status:        locked.Status,
			TotalAmount:   locked.TotalAmount,
			TrainerAmount: locked.TrainerAmount,
			RefundAmount:  locked.RefundAmount,
			OccurredAt:    locked.UpdatedAt,
		}
		message, err := outbox.NewMessage(event)
		if err != nil {
			return fmt.Errorf("failed to build outbox message: %w", err)
		}
		if err := r.outbox.WithTx(tx).Create(ctx, message); err != nil {
			return err
		}

		rec = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Dispute resolved",
		"escrow_id", rec.ID.String(),
		"resolution", string(resolution),
		"trainer_amount", rec.TrainerAmount,
		"refund_amount", rec.RefundAmount,
	)
	r.appendAudit(ctx, rec.ID, audit.EventDisputeResolved,
		fmt.Sprintf("dispute resolved as %s: trainer %d cents, refund %d cents", resolution, rec.TrainerAmount, rec.RefundAmount), &adminID)

	result := &Resolution{Record: rec}

	if rec.TrainerAmount > 0 && rec.Status == shared.EscrowStatusReleased {
		result.TransferErr = r.payTrainer(ctx, rec)
	}
	if rec.RefundAmount > 0 {
		result.RefundErr = r.refundParent(ctx, rec)
	}

	return result, nil
}

func (r *resolver) payTrainer(ctx context.Context, rec *escrow.Record) error {
	description := fmt.Sprintf("escrow %s dispute payout for booking %s", rec.ID, rec.BookingID)
	reference, err := r.gateway.CreateTransfer(ctx, rec.TrainerAmount, rec.PayoutDestination, description)
	if err != nil {
		r.logger.Warn("Dispute payout transfer failed after resolution committed",
			"escrow_id", rec.ID.String(),
			"trainer_amount", rec.TrainerAmount,
			"error", err,
		)
		r.appendAudit(ctx, rec.ID, audit.EventPayoutFailed, "dispute payout transfer failed: "+err.Error(), nil)
		return err
	}

	rec.TransferReference = reference
	if err := r.escrows.SetTransferReference(ctx, rec.ID, reference); err != nil {
		r.logger.Error("Failed to persist transfer reference",
			"escrow_id", rec.ID.String(),
			"transfer_reference", reference,
			"error", err,
		)
	}
	return nil
}

func (r *resolver) refundParent(ctx context.Context, rec *escrow.Record) error {
	reference, err := r.gateway.CreateRefund(ctx, rec.PaymentReference, rec.RefundAmount)
	if err != nil {
		r.logger.Warn("Dispute refund failed after resolution committed",
			"escrow_id", rec.ID.String(),
			"refund_amount", rec.RefundAmount,
			"error", err,
		)
		r.appendAudit(ctx, rec.ID, audit.EventRefundFailed, "dispute refund failed: "+err.Error(), nil)
		return err
	}

	rec.RefundReference = reference
	if err := r.escrows.SetRefundReference(ctx, rec.ID, reference); err != nil {
		r.logger.Error("Failed to persist refund reference",
			"escrow_id", rec.ID.String(),
			"refund_reference", reference,
			"error", err,
		)
	}
	return nil
}

func (r *resolver) appendAudit(ctx context.Context, escrowID uuid.UUID, eventType, message string, actor *uuid.UUID) {
	entry := audit.NewEntry(escrowID, eventType, message, actor)
	if err := r.auditLog.Append(ctx, entry); err != nil {
		r.logger.Error("Failed to append audit entry",
			"escrow_id", escrowID.String(),
			"event_type", eventType,
			"error", err,
		)
	}
}
