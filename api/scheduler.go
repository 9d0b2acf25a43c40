/*
scheduler.go - Automated voucher expiry

PURPOSE:
  Periodically moves active vouchers that are past their expiry to expired.
  Listing vouchers already expires the caller's own lazily; the sweep keeps
  vouchers of customers who never look from staying active in reports and
  at the counter.

DESIGN:
  - One gocron duration job running Engine.ExpireAll
  - Singleton mode: a slow sweep is never overlapped by the next one
  - Expiry forfeits points; nothing is written to the ledger

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled: Whether the scheduler runs at all

USAGE:
  scheduler, err := NewExpiryScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - transactions.go: ExpireVouchers endpoint (manual sweep)
  - rewards/engine.go: ExpireAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/rewards"
)

// ExpiryScheduler runs the voucher expiry sweep in the background.
type ExpiryScheduler struct {
	Engine   *rewards.Engine
	Logger   *zap.Logger
	Interval time.Duration
	Enabled  bool

	scheduler gocron.Scheduler
	job       gocron.Job
	mu        sync.Mutex
}

// NewExpiryScheduler creates a scheduler with the default interval.
func NewExpiryScheduler(engine *rewards.Engine, logger *zap.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryScheduler{
		Engine:   engine,
		Logger:   logger.Named("scheduler"),
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Logger.Info("expiry scheduler disabled, not starting")
		return nil
	}
	if es.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	job, err := s.NewJob(
		gocron.DurationJob(es.Interval),
		gocron.NewTask(func() { es.RunNow() }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("voucher-expiry"),
	)
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	s.Start()
	es.scheduler = s
	es.job = job
	es.Logger.Info("expiry scheduler started", zap.Duration("interval", es.Interval))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.scheduler == nil {
		return
	}
	if err := es.scheduler.Shutdown(); err != nil {
		es.Logger.Warn("expiry scheduler shutdown", zap.Error(err))
	}
	es.scheduler = nil
	es.job = nil
	es.Logger.Info("expiry scheduler stopped")
}

// RunNow sweeps once and returns how many vouchers expired.
func (es *ExpiryScheduler) RunNow() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := es.Engine.ExpireAll(ctx)
	if err != nil {
		es.Logger.Error("voucher expiry sweep failed", zap.Error(err))
		return 0
	}
	return n
}

// NextRun returns when the next sweep is due, or the zero time when the
// scheduler is not running.
func (es *ExpiryScheduler) NextRun() time.Time {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.job == nil {
		return time.Time{}
	}
	next, err := es.job.NextRun()
	if err != nil {
		return time.Time{}
	}
	return next
}
