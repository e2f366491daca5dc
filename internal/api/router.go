package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/traingrid/escrow-service/internal/api/handler"
	"github.com/traingrid/escrow-service/internal/api/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, escrowHandler *handler.EscrowHandler) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Escrow lifecycle operations
		escrows := v1.Group("/escrows")
		{
			escrows.POST("", escrowHandler.Create)
			escrows.GET("/:id", escrowHandler.GetByID)
			escrows.GET("/:id/audit", escrowHandler.ListAudit)
			escrows.POST("/:id/session-complete", escrowHandler.SessionComplete)
			escrows.POST("/:id/confirm", escrowHandler.Confirm)
			escrows.POST("/:id/dispute", escrowHandler.Dispute)
			escrows.POST("/:id/release", escrowHandler.Release)
			escrows.POST("/:id/refund", escrowHandler.Refund)
			escrows.POST("/:id/resolve", escrowHandler.Resolve)
		}

		// Booking-side lookup
		bookings := v1.Group("/bookings")
		{
			bookings.GET("/:bookingID/escrow", escrowHandler.GetByBookingID)
		}
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
