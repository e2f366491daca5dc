package handler

import "time"

// CreateEscrowRequest represents a request to open escrow for a captured
// booking payment. Amounts are in cents; session timestamps are RFC 3339.
type CreateEscrowRequest struct {
	BookingID         string    `json:"booking_id" binding:"required,uuid"`
	TrainerID         string    `json:"trainer_id" binding:"required,uuid"`
	ParentID          string    `json:"parent_id" binding:"required,uuid"`
	TotalAmount       int64     `json:"total_amount" binding:"required,gt=0"`
	RepeatSession     bool      `json:"repeat_session"`
	PaymentReference  string    `json:"payment_reference" binding:"required"`
	PayoutDestination string    `json:"payout_destination" binding:"required"`
	SessionDate       time.Time `json:"session_date" binding:"required"`
	SessionStart      time.Time `json:"session_start" binding:"required"`
	SessionEnd        time.Time `json:"session_end" binding:"required"`
}

// SessionCompleteRequest identifies the trainer claiming completion
type SessionCompleteRequest struct {
	TrainerID string `json:"trainer_id" binding:"required,uuid"`
}

// ConfirmRequest identifies the parent confirming the session
type ConfirmRequest struct {
	ParentID string `json:"parent_id" binding:"required,uuid"`
}

// DisputeRequest identifies the parent raising a dispute and why
type DisputeRequest struct {
	ParentID string `json:"parent_id" binding:"required,uuid"`
	Reason   string `json:"reason" binding:"required"`
}

// ReleaseRequest carries an admin-initiated manual release
type ReleaseRequest struct {
	AdminID string `json:"admin_id" binding:"required,uuid"`
	Notes   string `json:"notes,omitempty"`
}

// RefundRequest carries an admin-initiated refund
type RefundRequest struct {
	AdminID string `json:"admin_id" binding:"required,uuid"`
	Notes   string `json:"notes,omitempty"`
}

// ResolveDisputeRequest carries an admin dispute ruling
type ResolveDisputeRequest struct {
	AdminID    string `json:"admin_id" binding:"required,uuid"`
	Resolution string `json:"resolution" binding:"required,oneof=trainer_full parent_full split"`
	Notes      string `json:"notes,omitempty"`
}

// EscrowResponse represents an escrow record in API responses
type EscrowResponse struct {
	ID        string `json:"id"`
	BookingID string `json:"booking_id"`
	TrainerID string `json:"trainer_id"`
	ParentID  string `json:"parent_id"`

	TotalAmount   int64 `json:"total_amount"`
	PlatformFee   int64 `json:"platform_fee"`
	TrainerAmount int64 `json:"trainer_amount"`
	RefundAmount  int64 `json:"refund_amount"`

	Status string `json:"status"`

	SessionDate  string `json:"session_date"`
	SessionStart string `json:"session_start"`
	SessionEnd   string `json:"session_end"`

	TrainerCompletedAt string `json:"trainer_completed_at,omitempty"`
	ParentConfirmedAt  string `json:"parent_confirmed_at,omitempty"`
	ReleaseEligibleAt  string `json:"release_eligible_at,omitempty"`
	ReleasedAt         string `json:"released_at,omitempty"`
	RefundedAt         string `json:"refunded_at,omitempty"`

	AutoConfirmed     bool   `json:"auto_confirmed"`
	TransferReference string `json:"transfer_reference,omitempty"`
	RefundReference   string `json:"refund_reference,omitempty"`
	ReleaseMethod     string `json:"release_method,omitempty"`
	ReleaseNotes      string `json:"release_notes,omitempty"`

	DisputedAt        string `json:"disputed_at,omitempty"`
	DisputeReason     string `json:"dispute_reason,omitempty"`
	DisputeResolution string `json:"dispute_resolution,omitempty"`
	DisputeResolvedAt string `json:"dispute_resolved_at,omitempty"`
	DisputeResolvedBy string `json:"dispute_resolved_by,omitempty"`
	ResolutionNotes   string `json:"resolution_notes,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AuditEntryResponse represents one audit log entry in API responses
type AuditEntryResponse struct {
	ID          string `json:"id"`
	EscrowID    string `json:"escrow_id"`
	EventType   string `json:"event_type"`
	Message     string `json:"message"`
	ActorUserID string `json:"actor_user_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// AuditListResponse represents a page of audit entries in API responses
type AuditListResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}
