package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pushfleet/pushfleet/internal/domain"
)

// StuckReason is written onto notifications that the reconciliation sweep
// force-fails.
const StuckReason = "stuck in sending state"

// Store is the slice of persistence the scheduler needs.
type Store interface {
	ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	FailNotification(ctx context.Context, id, reason string) error
	FailStuckNotifications(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	DeleteExpiredNotifications(ctx context.Context, cutoff time.Time) (int64, error)
}

// Dispatcher fans out one claimed notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *domain.Notification) error
}

// Config holds sweep timing and sizing.
type Config struct {
	DispatchInterval  time.Duration
	ReconcileInterval time.Duration
	CleanupInterval   time.Duration
	DispatchBatchSize int
	StuckThreshold    time.Duration
	RetentionWindow   time.Duration
}

// Scheduler drives the three periodic sweeps: due-notification dispatch,
// stuck-job reconciliation and retention cleanup. Each sweep runs on its
// own ticker; a tick always runs to completion before the next one for the
// same sweep fires, while the three sweeps are free to overlap each other
// (they touch disjoint status predicates).
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        Config

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store Store, dispatcher Dispatcher, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Minute
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = 100
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 10 * time.Minute
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 90 * 24 * time.Hour
	}

	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start launches the three sweep loops. Call Stop to drain them.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.runLoop(ctx, "dispatch", s.cfg.DispatchInterval, s.RunDispatchSweep)
	s.runLoop(ctx, "reconcile", s.cfg.ReconcileInterval, s.RunReconcileSweep)
	s.runLoop(ctx, "cleanup", s.cfg.CleanupInterval, s.RunCleanupSweep)

	s.logger.Info("scheduler started",
		"dispatch_interval", s.cfg.DispatchInterval,
		"reconcile_interval", s.cfg.ReconcileInterval,
		"cleanup_interval", s.cfg.CleanupInterval,
	)
}

// Stop cancels all sweep loops and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// runLoop drives one sweep: each tick runs the sweep to completion and logs
// its outcome before the loop waits for the next tick. The sweep also runs
// once immediately — after a restart, due notifications and old rows should
// not wait out a full interval.
func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, sweep func(ctx context.Context, now time.Time) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.runSweep(ctx, name, sweep)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sweep loop stopping", "sweep", name)
				return
			case <-ticker.C:
				s.runSweep(ctx, name, sweep)
			}
		}
	}()
}

func (s *Scheduler) runSweep(ctx context.Context, name string, sweep func(ctx context.Context, now time.Time) error) {
	start := s.now()
	if err := sweep(ctx, start); err != nil {
		s.logger.Error("sweep failed", "sweep", name, "error", err)
		return
	}
	s.logger.Debug("sweep complete",
		"sweep", name,
		"elapsed_ms", s.now().Sub(start).Milliseconds(),
	)
}

// RunDispatchSweep claims due notifications and fans each one out. A claim
// that fails is not an error — another instance simply got there first; the
// conditional update hands each row to exactly one caller. A dispatch
// failure for one notification marks that notification failed and moves on
// to the next; nothing aborts the batch.
func (s *Scheduler) RunDispatchSweep(ctx context.Context, now time.Time) error {
	claimed, err := s.store.ClaimDueNotifications(ctx, now, s.cfg.DispatchBatchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	s.logger.Info("claimed due notifications", "count", len(claimed))

	for i := range claimed {
		n := claimed[i]
		if err := s.dispatcher.Dispatch(ctx, &n); err != nil {
			s.logger.Error("dispatch failed",
				"notification_id", n.ID,
				"client_id", n.ClientID,
				"error", err,
			)
			if failErr := s.store.FailNotification(ctx, n.ID, err.Error()); failErr != nil {
				s.logger.Error("failed to mark notification failed",
					"notification_id", n.ID,
					"error", failErr,
				)
			}
		}
	}

	return nil
}

// RunReconcileSweep force-fails notifications that have been sitting in
// "sending" past the staleness threshold — the process that claimed them
// died mid-dispatch. There is no automatic re-dispatch; recovery is an
// explicit re-send by an operator.
func (s *Scheduler) RunReconcileSweep(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.StuckThreshold)

	count, err := s.store.FailStuckNotifications(ctx, cutoff, StuckReason)
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.Warn("reconciled stuck notifications", "count", count, "cutoff", cutoff)
	}
	return nil
}

// RunCleanupSweep deletes terminal notifications older than the retention
// window. Cascades take the delivery ledger and click rows with them.
func (s *Scheduler) RunCleanupSweep(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.RetentionWindow)

	count, err := s.store.DeleteExpiredNotifications(ctx, cutoff)
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info("cleaned up expired notifications", "count", count, "cutoff", cutoff)
	}
	return nil
}
