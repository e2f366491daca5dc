// Package shared holds the closed status and classification types used across
// the escrow domain. Every transition site switches exhaustively over these
// types so that adding a status is a compile-visible change.
package shared

// EscrowStatus defines the escrow state machine states
type EscrowStatus string

const (
	EscrowStatusHolding         EscrowStatus = "holding"
	EscrowStatusSessionComplete EscrowStatus = "session_complete"
	EscrowStatusConfirmed       EscrowStatus = "confirmed"
	EscrowStatusDisputed        EscrowStatus = "disputed"
	EscrowStatusReleased        EscrowStatus = "released"
	EscrowStatusRefunded        EscrowStatus = "refunded"
)

// IsTerminal reports whether the status is absorbing. Terminal records never
// transition again; operations against them fail with ErrAlreadyFinalized.
func (s EscrowStatus) IsTerminal() bool {
	switch s {
	case EscrowStatusReleased, EscrowStatusRefunded:
		return true
	case EscrowStatusHolding, EscrowStatusSessionComplete, EscrowStatusConfirmed, EscrowStatusDisputed:
		return false
	}
	return false
}

// Valid reports whether s is one of the defined states.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowStatusHolding, EscrowStatusSessionComplete, EscrowStatusConfirmed,
		EscrowStatusDisputed, EscrowStatusReleased, EscrowStatusRefunded:
		return true
	}
	return false
}

// ReleaseMethod records how a release came about
type ReleaseMethod string

const (
	ReleaseMethodAdminManual   ReleaseMethod = "admin_manual"
	ReleaseMethodManualConfirm ReleaseMethod = "manual_confirm"
	ReleaseMethodAuto          ReleaseMethod = "auto"
	ReleaseMethodDispute       ReleaseMethod = "dispute_resolution"
)

// DisputeResolution defines the three admissible dispute outcomes
type DisputeResolution string

const (
	DisputeResolutionTrainerFull DisputeResolution = "trainer_full"
	DisputeResolutionParentFull  DisputeResolution = "parent_full"
	DisputeResolutionSplit       DisputeResolution = "split"
)

// Valid reports whether r is one of the defined resolutions.
func (r DisputeResolution) Valid() bool {
	switch r {
	case DisputeResolutionTrainerFull, DisputeResolutionParentFull, DisputeResolutionSplit:
		return true
	}
	return false
}

// PayoutStatus is the write-back field on the booking record
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
)

// EventType classifies domain events emitted for notification collaborators
type EventType string

const (
	EventEscrowSessionComplete EventType = "escrow.session_complete"
	EventEscrowDisputed        EventType = "escrow.disputed"
	EventEscrowReleased        EventType = "escrow.released"
	EventEscrowRefunded        EventType = "escrow.refunded"
)

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)
