package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/traingrid/escrow-service/internal/disputes"
	"github.com/traingrid/escrow-service/internal/domain/audit"
	"github.com/traingrid/escrow-service/internal/domain/booking"
	"github.com/traingrid/escrow-service/internal/domain/escrow"
	"github.com/traingrid/escrow-service/internal/domain/shared"
	"github.com/traingrid/escrow-service/internal/ledger"
)

// EscrowHandler handles HTTP requests for escrow operations
type EscrowHandler struct {
	logger   *slog.Logger
	ledger   ledger.EscrowLedger
	resolver disputes.Resolver
	auditLog audit.Repository
}

// NewEscrowHandler creates a new escrow handler
func NewEscrowHandler(logger *slog.Logger, escrowLedger ledger.EscrowLedger, resolver disputes.Resolver, auditLog audit.Repository) *EscrowHandler {
	return &EscrowHandler{
		logger:   logger,
		ledger:   escrowLedger,
		resolver: resolver,
		auditLog: auditLog,
	}
}

// Create handles POST /api/v1/escrows
func (h *EscrowHandler) Create(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	params := escrow.NewRecordParams{
		BookingID:         uuid.MustParse(req.BookingID),
		TrainerID:         uuid.MustParse(req.TrainerID),
		ParentID:          uuid.MustParse(req.ParentID),
		TotalAmount:       req.TotalAmount,
		RepeatSession:     req.RepeatSession,
		PaymentReference:  req.PaymentReference,
		PayoutDestination: req.PayoutDestination,
		SessionDate:       req.SessionDate,
		SessionStart:      req.SessionStart,
		SessionEnd:        req.SessionEnd,
	}

	rec, err := h.ledger.CreateEscrow(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, err)
		return
	}

	RespondCreated(c, mapRecordToResponse(rec))
}

// GetByID handles GET /api/v1/escrows/:id
func (h *EscrowHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	rec, err := h.ledger.GetEscrow(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	RespondOK(c, mapRecordToResponse(rec))
}

// GetByBookingID handles GET /api/v1/bookings/:bookingID/escrow
func (h *EscrowHandler) GetByBookingID(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("bookingID"))
	if err != nil {
		RespondBadRequest(c, "Invalid booking ID format")
		return
	}

	rec, err := h.ledger.GetEscrowByBookingID(c.Request.Context(), bookingID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	RespondOK(c, mapRecordToResponse(rec))
}

// SessionComplete handles POST /api/v1/escrows/:id/session-complete
func (h *EscrowHandler) SessionComplete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	var req SessionCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	rec, err := h.ledger.MarkSessionComplete(c.Request.Context(), id, uuid.MustParse(req.TrainerID))
	if err != nil {
		h.respondError(c, err)
		return
	}

	RespondOK(c, mapRecordToResponse(rec))
}

// Confirm handles POST /api/v1/escrows/:id/confirm
func (h *EscrowHandler) Confirm(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	outcome, err := h.ledger.Confirm(c.Request.Context(), id, uuid.MustParse(req.ParentID))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOutcome(c, outcome)
}

// Dispute handles POST /api/v1/escrows/:id/dispute
func (h *EscrowHandler) Dispute(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	rec, err := h.ledger.RaiseDispute(c.Request.Context(), id, uuid.MustParse(req.ParentID), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	RespondOK(c, mapRecordToResponse(rec))
}

// Release handles POST /api/v1/escrows/:id/release
func (h *EscrowHandler) Release(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	adminID := uuid.MustParse(req.AdminID)
	outcome, err := h.ledger.Release(c.Request.Context(), id, shared.ReleaseMethodAdminManual, &adminID, req.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOutcome(c, outcome)
}

// Refund handles POST /api/v1/escrows/:id/refund
func (h *EscrowHandler) Refund(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	adminID := uuid.MustParse(req.AdminID)
	outcome, err := h.ledger.Refund(c.Request.Context(), id, &adminID, req.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOutcome(c, outcome)
}

// Resolve handles POST /api/v1/escrows/:id/resolve
func (h *EscrowHandler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	resolution, err := h.resolver.Resolve(
		c.Request.Context(),
		id,
		shared.DisputeResolution(req.Resolution),
		uuid.MustParse(req.AdminID),
		req.Notes,
	)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var warnings []string
	if resolution.TransferErr != nil {
		warnings = append(warnings, "trainer payout failed and is pending reconciliation: "+resolution.TransferErr.Error())
	}
	if resolution.RefundErr != nil {
		warnings = append(warnings, "parent refund failed and is pending reconciliation: "+resolution.RefundErr.Error())
	}

	if len(warnings) > 0 {
		RespondWithWarnings(c, http.StatusOK, mapRecordToResponse(resolution.Record), warnings)
		return
	}
	RespondOK(c, mapRecordToResponse(resolution.Record))
}

// ListAudit handles GET /api/v1/escrows/:id/audit
func (h *EscrowHandler) ListAudit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID format")
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	offset := (pagination.Page - 1) * pagination.PerPage
	entries, err := h.auditLog.ListByEscrowID(c.Request.Context(), id, pagination.PerPage, offset)
	if err != nil {
		h.logger.Error("Failed to list audit entries", "error", err, "escrow_id", id)
		RespondInternalError(c)
		return
	}

	total, err := h.auditLog.CountByEscrowID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to count audit entries", "error", err, "escrow_id", id)
		RespondInternalError(c)
		return
	}

	response := AuditListResponse{Entries: make([]AuditEntryResponse, 0, len(entries))}
	for _, e := range entries {
		response.Entries = append(response.Entries, mapAuditEntryToResponse(e))
	}

	RespondWithPaginatedData(c, http.StatusOK, response, pagination.Page, pagination.PerPage, int(total))
}

// respondOutcome maps a committed transition to a 200; a gateway failure
// surfaces as a warning, never as an error status, because the state change
// already committed.
func (h *EscrowHandler) respondOutcome(c *gin.Context, outcome *ledger.Outcome) {
	if outcome.GatewayErr != nil {
		RespondWithWarnings(c, http.StatusOK, mapRecordToResponse(outcome.Record), []string{
			"payout gateway call failed and is pending reconciliation: " + outcome.GatewayErr.Error(),
		})
		return
	}
	RespondOK(c, mapRecordToResponse(outcome.Record))
}

// respondError maps domain errors to HTTP status codes
func (h *EscrowHandler) respondError(c *gin.Context, err error) {
	var (
		notFound        escrow.ErrRecordNotFound
		bookingNotFound booking.ErrBookingNotFound
		duplicate       escrow.ErrDuplicateBooking
		finalized       escrow.ErrAlreadyFinalized
		precond         escrow.ErrPreconditionFailed
		mismatch        escrow.ErrActorMismatch
		concurrent      escrow.ErrConcurrentModification
	)

	switch {
	case errors.As(err, &notFound):
		RespondNotFound(c, err.Error())
	case errors.As(err, &bookingNotFound):
		RespondNotFound(c, err.Error())
	case errors.As(err, &duplicate):
		RespondConflict(c, err.Error())
	case errors.As(err, &finalized):
		RespondConflict(c, err.Error())
	case errors.As(err, &precond):
		RespondConflict(c, err.Error())
	case errors.As(err, &concurrent):
		RespondConflict(c, err.Error())
	case errors.As(err, &mismatch):
		RespondForbidden(c, err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrMissingPaymentReference),
		errors.Is(err, escrow.ErrMissingPayoutDestination),
		errors.Is(err, escrow.ErrMissingParty),
		errors.Is(err, escrow.ErrInvalidSessionWindow),
		errors.Is(err, escrow.ErrEmptyDisputeReason),
		errors.Is(err, escrow.ErrInvalidResolution):
		RespondBadRequest(c, err.Error())
	default:
		h.logger.Error("Unhandled escrow operation error", "error", err)
		RespondInternalError(c)
	}
}

// mapRecordToResponse converts an escrow record to its API representation
func mapRecordToResponse(rec *escrow.Record) EscrowResponse {
	resp := EscrowResponse{
		ID:                rec.ID.String(),
		BookingID:         rec.BookingID.String(),
		TrainerID:         rec.TrainerID.String(),
		ParentID:          rec.ParentID.String(),
		TotalAmount:       rec.TotalAmount,
		PlatformFee:       rec.PlatformFee,
		TrainerAmount:     rec.TrainerAmount,
		RefundAmount:      rec.RefundAmount,
		Status:            string(rec.Status),
		SessionDate:       rec.SessionDate.Format(time.RFC3339),
		SessionStart:      rec.SessionStart.Format(time.RFC3339),
		SessionEnd:        rec.SessionEnd.Format(time.RFC3339),
		AutoConfirmed:     rec.AutoConfirmed,
		TransferReference: rec.TransferReference,
		RefundReference:   rec.RefundReference,
		ReleaseMethod:     string(rec.ReleaseMethod),
		ReleaseNotes:      rec.ReleaseNotes,
		DisputeReason:     rec.DisputeReason,
		DisputeResolution: string(rec.DisputeResolution),
		ResolutionNotes:   rec.ResolutionNotes,
		CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         rec.UpdatedAt.Format(time.RFC3339),
	}

	if rec.TrainerCompletedAt != nil {
		resp.TrainerCompletedAt = rec.TrainerCompletedAt.Format(time.RFC3339)
	}
	if rec.ParentConfirmedAt != nil {
		resp.ParentConfirmedAt = rec.ParentConfirmedAt.Format(time.RFC3339)
	}
	if rec.ReleaseEligibleAt != nil {
		resp.ReleaseEligibleAt = rec.ReleaseEligibleAt.Format(time.RFC3339)
	}
	if rec.ReleasedAt != nil {
		resp.ReleasedAt = rec.ReleasedAt.Format(time.RFC3339)
	}
	if rec.RefundedAt != nil {
		resp.RefundedAt = rec.RefundedAt.Format(time.RFC3339)
	}
	if rec.DisputedAt != nil {
		resp.DisputedAt = rec.DisputedAt.Format(time.RFC3339)
	}
	if rec.DisputeResolvedAt != nil {
		resp.DisputeResolvedAt = rec.DisputeResolvedAt.Format(time.RFC3339)
	}
	if rec.DisputeResolvedBy != nil {
		resp.DisputeResolvedBy = rec.DisputeResolvedBy.String()
	}

	return resp
}

// mapAuditEntryToResponse converts an audit entry to its API representation
func mapAuditEntryToResponse(e *audit.Entry) AuditEntryResponse {
	resp := AuditEntryResponse{
		ID:        e.ID.String(),
		EscrowID:  e.EscrowID.String(),
		EventType: e.EventType,
		Message:   e.Message,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
	if e.ActorUserID != nil {
		resp.ActorUserID = e.ActorUserID.String()
	}
	return resp
}
