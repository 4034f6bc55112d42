// Package sweeper resubmits jobs that were admitted and charged but never
// reached the queue. It only touches queue state, never the ledger.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/convertcredits/backend/internal/execution"
	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/models"
)

const (
	DefaultInterval = 2 * time.Minute
	DefaultGrace    = 5 * time.Minute
	DefaultBatch    = 100
)

// Store lists queued jobs older than cutoff, oldest first. *repository.JobRepo satisfies it.
type Store interface {
	ListStuckQueued(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

// Dispatcher resubmits a job with its original unique args. *execution.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, j *models.Job, repair bool) (execution.DispatchResult, error)
}

type Config struct {
	Interval time.Duration
	Grace    time.Duration
	Batch    int
}

// LeaseTTL is how long one sweep holds the lease. It ends a tenth of an
// interval early so the owner's next tick finds the key expired even when
// that tick fires slightly ahead of the previous acquire.
func (c Config) LeaseTTL() time.Duration {
	return c.Interval - c.Interval/10
}

// Report counts the outcome of one sweep.
type Report struct {
	Scanned    int
	Repaired   int
	Duplicates int
	Errors     int
	Skipped    bool
}

type Sweeper struct {
	Jobs       Store
	Dispatcher Dispatcher
	Lease      Lease
	Metrics    *metrics.Collector
	Logger     *slog.Logger
	Config     Config
	Now        func() time.Time
}

// New builds a sweeper. A nil lease means every replica sweeps.
func New(jobs Store, dispatcher Dispatcher, lease Lease, m *metrics.Collector, logger *slog.Logger, cfg Config) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if lease == nil {
		lease = NoLease{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	return &Sweeper{Jobs: jobs, Dispatcher: dispatcher, Lease: lease, Metrics: m, Logger: logger, Config: cfg, Now: time.Now}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Logger.Info("sweeper started", "interval", s.Config.Interval, "grace", s.Config.Grace, "batch", s.Config.Batch)
	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.Logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep resubmits one batch of stuck jobs. Jobs whose queue entry is still
// live come back as duplicates and are left alone.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	ok, err := s.Lease.Acquire(ctx, s.Config.LeaseTTL())
	if err != nil {
		return rep, err
	}
	if !ok {
		rep.Skipped = true
		s.Logger.Debug("sweep skipped, lease held elsewhere")
		return rep, nil
	}

	cutoff := s.Now().Add(-s.Config.Grace)
	stuck, err := s.Jobs.ListStuckQueued(ctx, cutoff, s.Config.Batch)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(stuck)
	for _, j := range stuck {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Dispatcher.Dispatch(ctx, j, true)
		switch {
		case err != nil:
			rep.Errors++
			s.Logger.Warn("resubmit failed", "job_id", j.ID, "job_type", j.JobType, "error", err)
		case res.Duplicate:
			rep.Duplicates++
		default:
			rep.Repaired++
			s.Logger.Info("job resubmitted", "job_id", j.ID, "job_type", j.JobType,
				"queue_job_id", res.QueueJobID, "enqueue_pending", j.Metadata.EnqueuePending)
		}
	}
	s.Metrics.RecordSweep(metrics.SweepRepaired, rep.Repaired)
	s.Metrics.RecordSweep(metrics.SweepDuplicate, rep.Duplicates)
	s.Metrics.RecordSweep(metrics.SweepError, rep.Errors)
	if rep.Scanned > 0 {
		s.Logger.Info("sweep finished", "scanned", rep.Scanned, "repaired", rep.Repaired,
			"duplicates", rep.Duplicates, "errors", rep.Errors)
	}
	return rep, nil
}
