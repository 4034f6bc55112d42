package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/policy"
)

// JobStore is the job repository surface the worker needs.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Claim(ctx context.Context, id uuid.UUID, retry bool) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	RecordAttemptError(ctx context.Context, id uuid.UUID, msg string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, resultRef string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, msg string, stage models.FailureStage, cause models.FailureCause) (bool, error)
}

// Settler is invoked once a job reaches failed through the worker.
type Settler interface {
	SettleFailedJob(ctx context.Context, jobID uuid.UUID) (*models.RefundRequest, error)
}

// ConvertWorker runs one conversion attempt per River job attempt.
type ConvertWorker struct {
	river.WorkerDefaults[ConvertArgs]
	Jobs      JobStore
	Converter Converter
	Settler   Settler
	Policies  *policy.Table
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

func NewConvertWorker(jobs JobStore, converter Converter, settler Settler, policies *policy.Table, m *metrics.Collector, logger *slog.Logger) *ConvertWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConvertWorker{Jobs: jobs, Converter: converter, Settler: settler, Policies: policies, Metrics: m, Logger: logger}
}

// Timeout bounds a single attempt by the job type's policy.
func (w *ConvertWorker) Timeout(job *river.Job[ConvertArgs]) time.Duration {
	p, err := w.Policies.Lookup(job.Args.JobType)
	if err != nil {
		return 0
	}
	return p.Timeout
}

// NextRetry applies the policy's fixed or exponential backoff.
func (w *ConvertWorker) NextRetry(job *river.Job[ConvertArgs]) time.Time {
	p, err := w.Policies.Lookup(job.Args.JobType)
	if err != nil {
		return time.Time{}
	}
	return time.Now().Add(p.Delay(job.Attempt))
}

func (w *ConvertWorker) Work(ctx context.Context, job *river.Job[ConvertArgs]) error {
	args := job.Args
	log := w.Logger.With("job_id", args.JobID, "job_type", args.JobType, "attempt", job.Attempt)

	claimed, err := w.Jobs.Claim(ctx, args.JobID, job.Attempt > 1)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		// Cancelled or force-failed while waiting in the queue.
		log.Info("job no longer claimable, dropping queue job")
		return river.JobCancel(errNotClaimable)
	}

	j, err := w.Jobs.GetByID(ctx, args.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	started := time.Now()
	ref, convErr := w.Converter.Convert(ctx, ConvertRequest{
		JobID:   j.ID,
		JobType: j.JobType,
		Attempt: job.Attempt,
		Payload: j.Payload,
	}, func(p int) {
		if p < 0 || p > 100 {
			return
		}
		if err := w.Jobs.UpdateProgress(ctx, j.ID, p); err != nil {
			log.Warn("update progress failed", "error", err)
		}
	})
	w.Metrics.ObserveAttempt(j.JobType, time.Since(started))

	// The attempt context may be expired; bookkeeping must still land.
	bg := context.WithoutCancel(ctx)

	if convErr == nil {
		ok, err := w.Jobs.MarkCompleted(bg, j.ID, ref)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if !ok {
			log.Warn("job left processing before completion was recorded")
			return nil
		}
		w.Metrics.RecordJobFinished(j.JobType, models.JobStatusCompleted)
		log.Info("job completed", "result_ref", ref, "duration", time.Since(started))
		return nil
	}

	cerr := classify(ctx, convErr)
	w.Metrics.RecordAttemptError(j.JobType, string(cerr.Cause))
	final := !cerr.Retryable() || job.Attempt >= job.MaxAttempts
	if !final {
		log.Warn("attempt failed, will retry", "error", cerr, "stage", cerr.Stage)
		if err := w.Jobs.RecordAttemptError(bg, j.ID, cerr.Error()); err != nil {
			log.Warn("record attempt error failed", "error", err)
		}
		return cerr
	}

	failed, err := w.Jobs.MarkFailed(bg, j.ID, cerr.Error(), cerr.Stage, cerr.Cause)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if failed {
		w.Metrics.RecordJobFinished(j.JobType, models.JobStatusFailed)
		log.Warn("job failed", "error", cerr, "stage", cerr.Stage, "cause", cerr.Cause)
		if w.Settler != nil {
			if rr, err := w.Settler.SettleFailedJob(bg, j.ID); err != nil {
				log.Error("settlement failed", "error", err)
			} else if rr != nil {
				log.Info("failed job refunded", "refund_request_id", rr.ID, "amount", rr.Amount)
			}
		}
	}
	return river.JobCancel(cerr)
}
