// Package scheduler runs the periodic auto-release sweep. Records whose
// confirmation window lapsed without a parent response are released to the
// trainer. The sweep holds no cancellation state: a dispute raised between
// selection and release makes the release fail its precondition check, which
// the sweep treats as a quiet skip.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/traingrid/escrow-service/internal/config"
	"github.com/traingrid/escrow-service/internal/domain/escrow"
	"github.com/traingrid/escrow-service/internal/domain/shared"
	"github.com/traingrid/escrow-service/internal/ledger"
)

// AutoReleaseScheduler sweeps due escrow records and releases them through
// the ledger on a worker pool.
type AutoReleaseScheduler struct {
	escrows       escrow.Repository
	ledger        ledger.EscrowLedger
	pool          *ants.Pool
	logger        *slog.Logger
	sweepInterval time.Duration
	batchSize     int
}

// NewAutoReleaseScheduler creates the scheduler with its worker pool
func NewAutoReleaseScheduler(
	cfg *config.SchedulerConfig,
	escrows escrow.Repository,
	escrowLedger ledger.EscrowLedger,
	logger *slog.Logger,
) (*AutoReleaseScheduler, error) {
	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, err
	}

	return &AutoReleaseScheduler{
		escrows:       escrows,
		ledger:        escrowLedger,
		pool:          pool,
		logger:        logger,
		sweepInterval: cfg.SweepInterval,
		batchSize:     cfg.BatchSize,
	}, nil
}

// Start runs sweeps until the context is canceled
func (s *AutoReleaseScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting auto-release scheduler",
		"sweep_interval", s.sweepInterval.String(),
		"batch_size", s.batchSize,
		"worker_pool_size", s.pool.Cap(),
	)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Auto-release scheduler stopping due to context cancellation.")
			return
		case <-ticker.C:
			s.logger.Debug("Auto-release sweep tick")
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("Error during auto-release sweep", "error", err)
			}
		}
	}
}

// Sweep selects due records and releases them in parallel. One failing
// record never blocks the rest of the batch.
func (s *AutoReleaseScheduler) Sweep(ctx context.Context) error {
	due, err := s.escrows.SelectDueForRelease(ctx, time.Now(), s.batchSize)
	if err != nil {
		return err
	}

	if len(due) == 0 {
		s.logger.Debug("No escrow records due for auto-release.")
		return nil
	}

	s.logger.Info("Auto-release sweep selected due records", "count", len(due))

	var wg sync.WaitGroup
	for _, rec := range due {
		rec := rec
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			s.releaseOne(ctx, rec)
		}); err != nil {
			wg.Done()
			s.logger.Error("Failed to submit record to auto-release pool",
				"escrow_id", rec.ID.String(),
				"error", err,
			)
		}
	}
	wg.Wait()

	return nil
}

// releaseOne releases a single due record. Records that changed state since
// selection lose the precondition check inside the ledger and are skipped.
func (s *AutoReleaseScheduler) releaseOne(ctx context.Context, rec *escrow.Record) {
	outcome, err := s.ledger.Release(ctx, rec.ID, shared.ReleaseMethodAuto, nil, "")
	if err != nil {
		if errors.Is(err, escrow.ErrPreconditionFailed{}) ||
			errors.Is(err, escrow.ErrAlreadyFinalized{}) ||
			errors.Is(err, escrow.ErrConcurrentModification{EscrowID: rec.ID}) {
			s.logger.Debug("Skipping auto-release, record no longer eligible",
				"escrow_id", rec.ID.String(),
				"error", err,
			)
			return
		}
		s.logger.Error("Auto-release failed",
			"escrow_id", rec.ID.String(),
			"error", err,
		)
		return
	}

	s.logger.Info("Auto-released escrow record",
		"escrow_id", outcome.Record.ID.String(),
		"trainer_amount", outcome.Record.TrainerAmount,
		"payout_ok", outcome.GatewayErr == nil,
	)
}

// Shutdown releases the worker pool
func (s *AutoReleaseScheduler) Shutdown() {
	s.logger.Info("Shutting down auto-release scheduler", "running_workers", s.pool.Running())
	s.pool.Release()
}
