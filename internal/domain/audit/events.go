package audit

// Audit event type names. These classify entries in the history of one
// escrow record; gateway failures get their own entries because the status
// transition commits even when the money movement fails.
const (
	EventCreated         = "created"
	EventSessionComplete = "session_complete"
	EventConfirmed       = "confirmed"
	EventDisputed        = "disputed"
	EventReleased        = "released"
	EventRefunded        = "refunded"
	EventDisputeResolved = "dispute_resolved"
	EventPayoutFailed    = "payout_failed"
	EventRefundFailed    = "refund_failed"
)
