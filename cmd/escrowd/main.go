package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/traingrid/escrow-service/internal/api"
	"github.com/traingrid/escrow-service/internal/config"
	"github.com/traingrid/escrow-service/internal/data/mongo"
	"github.com/traingrid/escrow-service/internal/data/postgres"
	"github.com/traingrid/escrow-service/internal/disputes"
	"github.com/traingrid/escrow-service/internal/events"
	"github.com/traingrid/escrow-service/internal/ledger"
	"github.com/traingrid/escrow-service/internal/logger"
	"github.com/traingrid/escrow-service/internal/platform/messaging/producers"
	"github.com/traingrid/escrow-service/internal/platform/payout"
	"github.com/traingrid/escrow-service/internal/platform/persistence"
	"github.com/traingrid/escrow-service/internal/scheduler"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("escrowd")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producer for escrow domain events
	kafkaProducer, err := producers.NewEscrowEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize Kafka producer", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	escrowRepo := postgres.NewEscrowRepository(log, postgresDB)
	bookingRepo := postgres.NewBookingRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())

	// Initialize payout gateway
	gateway := payout.NewStripeGateway(log, &cfg.Stripe)

	// Initialize services
	escrowLedger := ledger.NewLedgerService(
		postgresDB, escrowRepo, bookingRepo, outboxRepo, auditRepo,
		gateway, cfg.Escrow.ConfirmationWindow, log,
	)
	resolver := disputes.NewResolver(
		postgresDB, escrowRepo, bookingRepo, outboxRepo, auditRepo, gateway, log,
	)

	// Initialize outbox poller
	eventPublisher := events.NewEventPublisher(outboxRepo, kafkaProducer, log)
	outboxPoller := events.NewPoller(&cfg.Outbox, outboxRepo, eventPublisher, log)

	// Initialize auto-release scheduler
	autoRelease, err := scheduler.NewAutoReleaseScheduler(&cfg.Scheduler, escrowRepo, escrowLedger, log)
	if err != nil {
		log.Error("Failed to initialize auto-release scheduler", "error", err)
		os.Exit(1)
	}

	// Initialize REST server
	server := api.NewServer(log, cfg, escrowLedger, resolver, auditRepo)
	log.Info("REST server initialized")

	// Start background loops
	go outboxPoller.Start(appCtx)
	go autoRelease.Start(appCtx)

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context to stop the poller and scheduler
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first so no new transitions arrive
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Drain the scheduler worker pool
	autoRelease.Shutdown()

	// Shutdown postgres connection pool
	postgresDB.Close()

	if err = kafkaProducer.Close(); err != nil {
		log.Error("Error closing Kafka producer", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
