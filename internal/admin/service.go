// Package admin implements operator actions on jobs and balances. Every
// action runs in one transaction that also writes its audit record.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/execution"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/refunds"
	"github.com/convertcredits/backend/internal/repository"
)

var (
	ErrJobNotFound          = errors.New("job not found")
	ErrJobNotFailed         = errors.New("only failed jobs can be reprocessed")
	ErrJobNotActive         = errors.New("only queued or processing jobs can be force-failed")
	ErrJobRefunded          = errors.New("job has been refunded")
	ErrAdjustmentNotFound   = errors.New("adjustment not found")
	ErrAdjustmentNotPending = errors.New("adjustment is not pending approval")
	ErrSameApprover         = errors.New("adjustment must be approved by a different admin")
	ErrInvalidAdjustment    = errors.New("adjustment amount must be non-zero")
)

// DefaultApprovalThreshold is the largest adjustment one admin may apply alone.
const DefaultApprovalThreshold int64 = 100

// JobStore is the job repository surface used here. *repository.JobRepo satisfies it.
type JobStore interface {
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	ResetForReprocessTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	ForceFailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason, actor string) (*models.Job, error)
}

type AdjustmentStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.AdjustmentRequest) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AdjustmentRequest, error)
	DecideTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.AdjustmentStatus, decidedBy uuid.UUID, ledgerEntryID *uuid.UUID, at time.Time) error
	ListPending(ctx context.Context, limit int) ([]*models.AdjustmentRequest, error)
}

// Refunder is the settlement surface used by admin actions. *refunds.Service satisfies it.
type Refunder interface {
	ApproveJobTx(ctx context.Context, tx pgx.Tx, job *models.Job, actor models.Actor, notes string) (*refunds.Settlement, error)
	Committed(ctx context.Context, s *refunds.Settlement)
}

// RefundFinder reads the active refund of a job and closes pending ones.
type RefundFinder interface {
	FindActiveByJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.RefundRequest, error)
	DecideTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.RefundStatus, processedBy string, notes *string, at time.Time) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, j *models.Job, repair bool) (execution.DispatchResult, error)
}

type Config struct {
	ApprovalThreshold int64
	Tx                repository.TxOptions
}

type Service struct {
	DB          repository.TxBeginner
	Jobs        JobStore
	Adjustments AdjustmentStore
	RefundReqs  RefundFinder
	Refunds     Refunder
	Ledger      *ledger.Service
	Audit       *audit.Recorder
	Dispatcher  Dispatcher
	Logger      *slog.Logger
	Config      Config
	Now         func() time.Time
}

func NewService(db repository.TxBeginner, jobs JobStore, adjustments AdjustmentStore, refundReqs RefundFinder, refunder Refunder,
	l *ledger.Service, rec *audit.Recorder, dispatcher Dispatcher, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ApprovalThreshold <= 0 {
		cfg.ApprovalThreshold = DefaultApprovalThreshold
	}
	return &Service{
		DB: db, Jobs: jobs, Adjustments: adjustments, RefundReqs: refundReqs, Refunds: refunder, Ledger: l,
		Audit: rec, Dispatcher: dispatcher, Logger: logger, Config: cfg, Now: time.Now,
	}
}

func (s *Service) lockJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, err := s.Jobs.GetForUpdateTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}
	return j, nil
}

// Reprocess puts a failed job back in the queue under a new round. The
// original charge covers the rerun, so a refunded job is refused and a
// pending refund request is rejected.
func (s *Service) Reprocess(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	var job *models.Job
	var rec, superseded *models.AuditRecord
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		before, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if before.Status != models.JobStatusFailed {
			return ErrJobNotFailed
		}
		active, err := s.RefundReqs.FindActiveByJobTx(ctx, tx, jobID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return fmt.Errorf("find active refund: %w", err)
		case active.Status.Credited():
			return ErrJobRefunded
		case active.Status == models.RefundPending:
			if superseded, err = s.rejectPendingTx(ctx, tx, actor, active); err != nil {
				return err
			}
		}
		job, err = s.Jobs.ResetForReprocessTx(ctx, tx, jobID)
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrJobNotFailed
		}
		if err != nil {
			return fmt.Errorf("reset job: %w", err)
		}
		rec, err = s.Audit.RecordTx(ctx, tx, audit.Entry{
			Actor:      actor,
			Action:     models.ActionReprocessJob,
			EntityType: audit.EntityJob,
			EntityID:   jobID,
			Before:     before.Snapshot(),
			After:      job.Snapshot(),
			Metadata:   map[string]any{"round": job.ReprocessCount},
			Severity:   models.SeverityInfo,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if superseded != nil {
		s.Audit.Publish(ctx, superseded)
	}
	s.Audit.Publish(ctx, rec)
	s.Logger.Info("job reprocessed", "job_id", jobID, "round", job.ReprocessCount, "actor", actor.Email)
	if _, err := s.Dispatcher.Dispatch(ctx, job, false); err != nil {
		s.Logger.Warn("reprocess dispatch deferred to sweeper", "job_id", jobID, "error", err)
	}
	return job, nil
}

// rejectPendingTx closes a pending refund request of a job about to be
// rerun. The rerun consumes the original charge.
func (s *Service) rejectPendingTx(ctx context.Context, tx pgx.Tx, actor models.Actor, req *models.RefundRequest) (*models.AuditRecord, error) {
	before := *req
	now := s.Now()
	notes := "superseded by reprocess"
	err := s.RefundReqs.DecideTx(ctx, tx, req.ID, models.RefundRejected, actor.Email, &notes, now)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, ErrJobRefunded
	}
	if err != nil {
		return nil, fmt.Errorf("reject pending refund: %w", err)
	}
	by := actor.Email
	req.Status, req.ProcessedBy, req.ProcessedAt, req.AdminNotes = models.RefundRejected, &by, &now, &notes
	return s.Audit.RecordTx(ctx, tx, audit.Entry{
		Actor:      actor,
		Action:     models.ActionRejectRefund,
		EntityType: audit.EntityRefund,
		EntityID:   req.ID,
		Before:     before,
		After:      req,
		Metadata:   map[string]any{"job_id": req.JobID, "reason": "reprocess"},
		Severity:   models.SeverityInfo,
	})
}

// ForceFailResult is the outcome of ForceFail.
type ForceFailResult struct {
	Job        *models.Job           `json:"job"`
	Refund     *models.RefundRequest `json:"refund,omitempty"`
	NewBalance *int64                `json:"new_balance,omitempty"`
}

// ForceFail stops a queued or processing job. A worker still running it
// loses its later status update. With refund set the charge is returned in
// the same transaction.
func (s *Service) ForceFail(ctx context.Context, actor models.Actor, jobID uuid.UUID, reason string, refund bool) (*ForceFailResult, error) {
	out := &ForceFailResult{}
	var rec *models.AuditRecord
	var settled *refunds.Settlement
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		before, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		job, err := s.Jobs.ForceFailTx(ctx, tx, jobID, reason, actor.Email)
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrJobNotActive
		}
		if err != nil {
			return fmt.Errorf("force fail job: %w", err)
		}
		out.Job = job
		if refund {
			if settled, err = s.Refunds.ApproveJobTx(ctx, tx, job, actor, "force-failed: "+reason); err != nil {
				return err
			}
		}
		rec, err = s.Audit.RecordTx(ctx, tx, audit.Entry{
			Actor:      actor,
			Action:     models.ActionForceFailJob,
			EntityType: audit.EntityJob,
			EntityID:   jobID,
			Before:     before.Snapshot(),
			After:      job.Snapshot(),
			Metadata:   map[string]any{"reason": reason, "refund": refund},
			Severity:   models.SeverityWarning,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Audit.Publish(ctx, rec)
	if settled.Request() != nil {
		s.Refunds.Committed(ctx, settled)
		out.Refund = settled.Request()
		b := settled.Balance()
		out.NewBalance = &b
	}
	s.Logger.Warn("job force-failed", "job_id", jobID, "actor", actor.Email, "refund", refund)
	return out, nil
}

// RefundJob approves a refund for a failed job regardless of the
// automatic refund rules.
func (s *Service) RefundJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, notes string) (*models.RefundRequest, int64, error) {
	var settled *refunds.Settlement
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		job, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		settled, err = s.Refunds.ApproveJobTx(ctx, tx, job, actor, notes)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	s.Refunds.Committed(ctx, settled)
	return settled.Request(), settled.Balance(), nil
}
