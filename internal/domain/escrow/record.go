// Package escrow defines the escrow record aggregate and its state machine.
// A record holds a parent's captured payment for one booking until the
// session is confirmed, then releases it to the trainer or refunds it.
// All transition rules live here; persistence-level atomicity lives in the
// repository implementation.
package escrow

import (
	"time"

	"github.com/google/uuid"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

// Record represents the escrowed funds for a single booking (1:1, immutable
// booking reference). Money amounts are stored in cents.
type Record struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	TrainerID uuid.UUID `json:"trainer_id"`
	ParentID  uuid.UUID `json:"parent_id"`

	TotalAmount   int64 `json:"total_amount"`
	PlatformFee   int64 `json:"platform_fee"`
	TrainerAmount int64 `json:"trainer_amount"`
	RefundAmount  int64 `json:"refund_amount"`

	// PaymentReference is the opaque handle to the captured payment, required
	// to issue refunds against it.
	PaymentReference string `json:"payment_reference"`
	// PayoutDestination is the trainer's account handle at the payout gateway.
	PayoutDestination string `json:"payout_destination"`

	Status shared.EscrowStatus `json:"status"`

	SessionDate  time.Time `json:"session_date"`
	SessionStart time.Time `json:"session_start"`
	SessionEnd   time.Time `json:"session_end"`

	TrainerCompletedAt *time.Time `json:"trainer_completed_at,omitempty"`
	ParentConfirmedAt  *time.Time `json:"parent_confirmed_at,omitempty"`
	ReleaseEligibleAt  *time.Time `json:"release_eligible_at,omitempty"`
	ReleasedAt         *time.Time `json:"released_at,omitempty"`
	RefundedAt         *time.Time `json:"refunded_at,omitempty"`

	AutoConfirmed     bool                 `json:"auto_confirmed"`
	TransferReference string               `json:"transfer_reference,omitempty"`
	RefundReference   string               `json:"refund_reference,omitempty"`
	ReleaseMethod     shared.ReleaseMethod `json:"release_method,omitempty"`
	ReleaseNotes      string               `json:"release_notes,omitempty"`

	DisputedAt        *time.Time               `json:"disputed_at,omitempty"`
	DisputeReason     string                   `json:"dispute_reason,omitempty"`
	DisputeResolution shared.DisputeResolution `json:"dispute_resolution,omitempty"`
	DisputeResolvedAt *time.Time               `json:"dispute_resolved_at,omitempty"`
	DisputeResolvedBy *uuid.UUID               `json:"dispute_resolved_by,omitempty"`
	ResolutionNotes   string                   `json:"resolution_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecordParams carries everything the booking collaborator supplies when a
// payment capture succeeds.
type NewRecordParams struct {
	BookingID         uuid.UUID
	TrainerID         uuid.UUID
	ParentID          uuid.UUID
	TotalAmount       int64
	RepeatSession     bool
	PaymentReference  string
	PayoutDestination string
	SessionDate       time.Time
	SessionStart      time.Time
	SessionEnd        time.Time
}

// NewRecord creates a holding escrow record with the commission split applied.
func NewRecord(p NewRecordParams) (*Record, error) {
	if p.TotalAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.PaymentReference == "" {
		return nil, ErrMissingPaymentReference
	}
	if p.PayoutDestination == "" {
		return nil, ErrMissingPayoutDestination
	}
	if p.BookingID == uuid.Nil || p.TrainerID == uuid.Nil || p.ParentID == uuid.Nil {
		return nil, ErrMissingParty
	}
	if p.SessionEnd.Before(p.SessionStart) {
		return nil, ErrInvalidSessionWindow
	}

	platformFee, trainerAmount := CommissionSplit(p.TotalAmount, p.RepeatSession)

	now := time.Now()
	return &Record{
		ID:                uuid.New(),
		BookingID:         p.BookingID,
		TrainerID:         p.TrainerID,
		ParentID:          p.ParentID,
		TotalAmount:       p.TotalAmount,
		PlatformFee:       platformFee,
		TrainerAmount:     trainerAmount,
		PaymentReference:  p.PaymentReference,
		PayoutDestination: p.PayoutDestination,
		Status:            shared.EscrowStatusHolding,
		SessionDate:       p.SessionDate,
		SessionStart:      p.SessionStart,
		SessionEnd:        p.SessionEnd,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// MarkSessionComplete transitions holding -> session_complete and fixes the
// auto-release deadline. The deadline is computed exactly once; it is never
// recomputed on later transitions.
func (r *Record) MarkSessionComplete(trainerID uuid.UUID, confirmationWindow time.Duration, now time.Time) error {
	if err := r.checkTransition("mark_session_complete", shared.EscrowStatusHolding); err != nil {
		return err
	}
	if trainerID != r.TrainerID {
		return ErrActorMismatch{EscrowID: r.ID, Operation: "mark_session_complete"}
	}

	completedAt := now
	eligibleAt := r.SessionEnd.Add(confirmationWindow)

	r.Status = shared.EscrowStatusSessionComplete
	r.TrainerCompletedAt = &completedAt
	r.ReleaseEligibleAt = &eligibleAt
	r.UpdatedAt = now
	return nil
}

// Confirm transitions session_complete -> confirmed. The caller is expected
// to follow up with an immediate release.
func (r *Record) Confirm(parentID uuid.UUID, now time.Time) error {
	if err := r.checkTransition("confirm", shared.EscrowStatusSessionComplete); err != nil {
		return err
	}
	if parentID != r.ParentID {
		return ErrActorMismatch{EscrowID: r.ID, Operation: "confirm"}
	}

	confirmedAt := now
	r.Status = shared.EscrowStatusConfirmed
	r.ParentConfirmedAt = &confirmedAt
	r.UpdatedAt = now
	return nil
}

// Dispute transitions session_complete|confirmed -> disputed. No cancel token
// is needed for the pending auto-release: the scheduler re-checks status
// atomically before acting.
func (r *Record) Dispute(parentID uuid.UUID, reason string, now time.Time) error {
	if err := r.checkTransition("raise_dispute", shared.EscrowStatusSessionComplete, shared.EscrowStatusConfirmed); err != nil {
		return err
	}
	if parentID != r.ParentID {
		return ErrActorMismatch{EscrowID: r.ID, Operation: "raise_dispute"}
	}
	if reason == "" {
		return ErrEmptyDisputeReason
	}

	disputedAt := now
	r.Status = shared.EscrowStatusDisputed
	r.DisputedAt = &disputedAt
	r.DisputeReason = reason
	r.UpdatedAt = now
	return nil
}

// Release transitions to the released terminal state. Releasing from disputed
// is reserved for the dispute resolver.
func (r *Record) Release(method shared.ReleaseMethod, now time.Time) error {
	allowed := []shared.EscrowStatus{
		shared.EscrowStatusHolding,
		shared.EscrowStatusSessionComplete,
		shared.EscrowStatusConfirmed,
	}
	if method == shared.ReleaseMethodDispute {
		allowed = append(allowed, shared.EscrowStatusDisputed)
	}
	if err := r.checkTransition("release", allowed...); err != nil {
		return err
	}

	releasedAt := now
	r.Status = shared.EscrowStatusReleased
	r.ReleasedAt = &releasedAt
	r.ReleaseMethod = method
	r.AutoConfirmed = method == shared.ReleaseMethodAuto
	r.UpdatedAt = now
	return nil
}

// Refund transitions any non-terminal state to refunded and returns the whole
// captured amount to the parent.
func (r *Record) Refund(now time.Time) error {
	if err := r.checkTransition("refund",
		shared.EscrowStatusHolding,
		shared.EscrowStatusSessionComplete,
		shared.EscrowStatusConfirmed,
		shared.EscrowStatusDisputed,
	); err != nil {
		return err
	}

	refundedAt := now
	r.Status = shared.EscrowStatusRefunded
	r.RefundedAt = &refundedAt
	r.RefundAmount = r.TotalAmount
	r.UpdatedAt = now
	return nil
}

// RecordResolution stamps the dispute outcome fields. It does not transition
// status; the resolver follows up with Release, Refund or ApplySplit.
func (r *Record) RecordResolution(resolution shared.DisputeResolution, adminID uuid.UUID, notes string, now time.Time) error {
	if err := r.checkTransition("resolve", shared.EscrowStatusDisputed); err != nil {
		return err
	}
	if !resolution.Valid() {
		return ErrInvalidResolution
	}

	resolvedAt := now
	r.DisputeResolution = resolution
	r.DisputeResolvedAt = &resolvedAt
	r.DisputeResolvedBy = &adminID
	r.ResolutionNotes = notes
	r.UpdatedAt = now
	return nil
}

// ApplySplit halves the trainer amount (round half-up) and assigns the rest
// to the refund, preserving trainer_amount + refund_amount == total_amount.
// Must only be called on a disputed record, before Release.
func (r *Record) ApplySplit(now time.Time) error {
	if r.Status != shared.EscrowStatusDisputed {
		return ErrPreconditionFailed{EscrowID: r.ID, Status: r.Status, Operation: "split"}
	}

	r.TrainerAmount = SplitTrainerAmount(r.TrainerAmount)
	r.RefundAmount = r.TotalAmount - r.TrainerAmount
	r.UpdatedAt = now
	return nil
}

// ReleaseEligible reports whether the auto-release deadline has passed.
func (r *Record) ReleaseEligible(now time.Time) bool {
	return r.Status == shared.EscrowStatusSessionComplete &&
		r.ReleaseEligibleAt != nil &&
		!r.ReleaseEligibleAt.After(now)
}

// checkTransition verifies the record is in one of the allowed source states.
// Terminal records always fail with ErrAlreadyFinalized.
func (r *Record) checkTransition(operation string, allowed ...shared.EscrowStatus) error {
	if r.Status.IsTerminal() {
		return ErrAlreadyFinalized{EscrowID: r.ID, Status: r.Status}
	}
	for _, s := range allowed {
		if r.Status == s {
			return nil
		}
	}
	return ErrPreconditionFailed{EscrowID: r.ID, Status: r.Status, Operation: operation}
}
