package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/policy"
)

// Inserter is the part of *river.Client the dispatcher uses.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// DispatchStore records dispatch outcomes on the job row.
type DispatchStore interface {
	MarkEnqueuePending(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	MarkDispatched(ctx context.Context, id uuid.UUID, queueJobID int64, repaired bool, at time.Time) error
}

// DispatchResult describes a queue insert.
type DispatchResult struct {
	QueueJobID int64
	// Duplicate is true when a live queue job for the same round already existed.
	Duplicate bool
}

// Dispatcher makes committed queued jobs visible to the worker pool. It
// never runs inside the admission transaction: a failed insert leaves the
// job queued and flagged for the recovery sweeper.
type Dispatcher struct {
	Inserter Inserter
	Policies *policy.Table
	Jobs     DispatchStore
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewDispatcher(inserter Inserter, policies *policy.Table, jobs DispatchStore, m *metrics.Collector, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Inserter: inserter, Policies: policies, Jobs: jobs, Metrics: m, Logger: logger, Now: time.Now}
}

// Dispatch inserts the queue job for j's current round. repair marks a
// resubmission by the sweeper.
func (d *Dispatcher) Dispatch(ctx context.Context, j *models.Job, repair bool) (DispatchResult, error) {
	p, err := d.Policies.Lookup(j.JobType)
	if err != nil {
		return DispatchResult{}, err
	}
	args := ConvertArgs{JobID: j.ID, JobType: j.JobType, Round: j.ReprocessCount}

	res, err := d.Inserter.Insert(ctx, args, InsertOpts(p))
	if err != nil {
		d.Metrics.RecordDispatchDeferred()
		d.Logger.Warn("queue insert failed, job left for sweeper", "job_id", j.ID, "job_type", j.JobType, "error", err)
		if markErr := d.Jobs.MarkEnqueuePending(context.WithoutCancel(ctx), j.ID, err.Error(), d.Now()); markErr != nil {
			d.Logger.Error("mark enqueue pending failed", "job_id", j.ID, "error", markErr)
		}
		return DispatchResult{}, fmt.Errorf("insert queue job: %w", err)
	}

	out := DispatchResult{Duplicate: res.UniqueSkippedAsDuplicate}
	if res.Job != nil {
		out.QueueJobID = res.Job.ID
	}
	if out.Duplicate {
		return out, nil
	}
	if err := d.Jobs.MarkDispatched(ctx, j.ID, out.QueueJobID, repair, d.Now()); err != nil {
		// The queue job exists; the flag is cosmetic and the sweeper treats it as a duplicate later.
		d.Logger.Warn("mark dispatched failed", "job_id", j.ID, "error", err)
	}
	return out, nil
}
