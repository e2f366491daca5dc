package escrow

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/traingrid/escrow-service/internal/domain/shared"
)

// Validation errors
var (
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrMissingPaymentReference  = errors.New("payment reference is required")
	ErrMissingPayoutDestination = errors.New("payout destination is required")
	ErrMissingParty             = errors.New("booking, trainer and parent ids are required")
	ErrInvalidSessionWindow     = errors.New("session end must not precede session start")
	ErrEmptyDisputeReason       = errors.New("dispute reason cannot be empty")
	ErrInvalidResolution        = errors.New("unknown dispute resolution")
)

// ErrRecordNotFound indicates a missing escrow record
type ErrRecordNotFound struct {
	EscrowID uuid.UUID
}

func (e ErrRecordNotFound) Error() string {
	return "escrow record not found: " + e.EscrowID.String()
}

// Is matches any ErrRecordNotFound when the target carries a nil id
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	return t.EscrowID == uuid.Nil || e.EscrowID == t.EscrowID
}

// ErrDuplicateBooking indicates the 1:1 booking/escrow constraint was violated
type ErrDuplicateBooking struct {
	BookingID uuid.UUID
}

func (e ErrDuplicateBooking) Error() string {
	return "escrow record already exists for booking: " + e.BookingID.String()
}

// Is matches any ErrDuplicateBooking when the target carries a nil id
func (e ErrDuplicateBooking) Is(target error) bool {
	t, ok := target.(ErrDuplicateBooking)
	if !ok {
		return false
	}
	return t.BookingID == uuid.Nil || e.BookingID == t.BookingID
}

// ErrAlreadyFinalized indicates an operation against a terminal record.
// Terminal states are absorbing; the operation had no side effect.
type ErrAlreadyFinalized struct {
	EscrowID uuid.UUID
	Status   shared.EscrowStatus
}

func (e ErrAlreadyFinalized) Error() string {
	return fmt.Sprintf("escrow %s already finalized as %s", e.EscrowID, e.Status)
}

// Is matches any ErrAlreadyFinalized when the target carries a nil id
func (e ErrAlreadyFinalized) Is(target error) bool {
	t, ok := target.(ErrAlreadyFinalized)
	if !ok {
		return false
	}
	return t.EscrowID == uuid.Nil || e.EscrowID == t.EscrowID
}

// ErrPreconditionFailed indicates an operation attempted from an illegal
// non-terminal status. A losing concurrent caller observes this rather than
// double-executing a money movement.
type ErrPreconditionFailed struct {
	EscrowID  uuid.UUID
	Status    shared.EscrowStatus
	Operation string
}

func (e ErrPreconditionFailed) Error() string {
	return fmt.Sprintf("operation %s not allowed for escrow %s in status %s", e.Operation, e.EscrowID, e.Status)
}

// Is matches any ErrPreconditionFailed when the target carries a nil id
func (e ErrPreconditionFailed) Is(target error) bool {
	t, ok := target.(ErrPreconditionFailed)
	if !ok {
		return false
	}
	return t.EscrowID == uuid.Nil || e.EscrowID == t.EscrowID
}

// ErrActorMismatch indicates the acting trainer/parent does not belong to the
// escrow record.
type ErrActorMismatch struct {
	EscrowID  uuid.UUID
	Operation string
}

func (e ErrActorMismatch) Error() string {
	return fmt.Sprintf("actor not a party to escrow %s for operation %s", e.EscrowID, e.Operation)
}

// ErrConcurrentModification indicates the conditional status update matched no
// row: another caller transitioned the record first.
type ErrConcurrentModification struct {
	EscrowID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for escrow: " + e.EscrowID.String()
}
