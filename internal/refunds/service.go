// Package refunds settles failed jobs: automatic refunds for failures the
// platform caused, user-initiated requests, and admin decisions on them.
//
// Exclusivity holds at two levels. Every path locks the job row and checks
// for an active request inside the transaction, and the partial unique index
// on refund_requests(job_id) rejects a second non-rejected row if the check
// is ever bypassed.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/events"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

var (
	ErrJobNotFound            = errors.New("job not found")
	ErrJobNotFailed           = errors.New("job has not failed")
	ErrAlreadyRefunded        = errors.New("job already refunded")
	ErrRefundAlreadyRequested = errors.New("refund already requested")
	ErrRefundWindowExpired    = errors.New("refund window expired")
	ErrNoChargeFound          = errors.New("no charge found for job")
	ErrInvalidAmount          = errors.New("invalid refund amount")
	ErrRequestNotFound        = errors.New("refund request not found")
	ErrRequestNotPending      = errors.New("refund request is not pending")
)

// Defaults for Config.
const (
	DefaultWindow     = 30 * 24 * time.Hour
	DefaultAutoWindow = 24 * time.Hour
)

type JobStore interface {
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
}

type RefundStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, req *models.RefundRequest) error
	FindActiveByJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.RefundRequest, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RefundRequest, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RefundRequest, error)
	DecideTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.RefundStatus, processedBy string, notes *string, at time.Time) error
	ListByStatus(ctx context.Context, status models.RefundStatus, limit int) ([]*models.RefundRequest, error)
}

// ChargeFinder locates the CONSUMPTION entry of a job.
type ChargeFinder interface {
	FindChargeForJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.LedgerEntry, error)
}

type Config struct {
	// AutoRefund enables automatic refunds for system-attributable failures.
	AutoRefund bool
	// Window is how long after failure a user may request a refund.
	Window time.Duration
	// AutoWindow is how long after failure a user request is approved without review.
	AutoWindow time.Duration
	Tx         repository.TxOptions
}

// Outcome is returned to a user requesting a refund. NewBalance is set
// only when credits were returned immediately.
type Outcome struct {
	Request    *models.RefundRequest `json:"request"`
	NewBalance *int64                `json:"new_balance,omitempty"`
}

type Service struct {
	DB      repository.TxBeginner
	Jobs    JobStore
	Refunds RefundStore
	Charges ChargeFinder
	Ledger  *ledger.Service
	Audit   *audit.Recorder
	Events  events.Publisher
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Config  Config
	Now     func() time.Time
}

func NewService(db repository.TxBeginner, jobs JobStore, refunds RefundStore, charges ChargeFinder, l *ledger.Service,
	rec *audit.Recorder, pub events.Publisher, m *metrics.Collector, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.AutoWindow <= 0 {
		cfg.AutoWindow = DefaultAutoWindow
	}
	return &Service{
		DB: db, Jobs: jobs, Refunds: refunds, Charges: charges, Ledger: l,
		Audit: rec, Events: pub, Metrics: m, Logger: logger, Config: cfg, Now: time.Now,
	}
}

// Settlement is what a refund transaction hands to the post-commit hooks.
type Settlement struct {
	req     *models.RefundRequest
	balance int64
	audit   *models.AuditRecord
}

// SettleFailedJob is called by the worker after marking a job failed. It
// returns nil, nil when nothing is owed automatically.
func (s *Service) SettleFailedJob(ctx context.Context, jobID uuid.UUID) (*models.RefundRequest, error) {
	var out *Settlement
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		job, err := s.Jobs.GetForUpdateTx(ctx, tx, jobID)
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if job.Status != models.JobStatusFailed || !job.FailureCause.SystemAttributable() || !s.Config.AutoRefund {
			return nil
		}
		out, err = s.autoRefundTx(ctx, tx, job, "automatic refund: "+string(job.FailureCause)+" failure")
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	s.Committed(ctx, out)
	return out.req, nil
}

// AutoRefundTx refunds a failed job in the caller's transaction, which must
// already hold the job row lock. It is used by cancellation and admin
// force-fail. A job that already has an active request is left alone.
// The caller runs Committed with the result after commit.
func (s *Service) AutoRefundTx(ctx context.Context, tx pgx.Tx, job *models.Job, reason string) (*Settlement, error) {
	return s.autoRefundTx(ctx, tx, job, reason)
}

func (s *Service) autoRefundTx(ctx context.Context, tx pgx.Tx, job *models.Job, reason string) (*Settlement, error) {
	if job.CostCharged <= 0 {
		return nil, nil
	}
	if _, err := s.Refunds.FindActiveByJobTx(ctx, tx, job.ID); err == nil {
		return nil, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find active refund: %w", err)
	}
	now := s.Now()
	system := models.SystemActor
	req := &models.RefundRequest{
		ID:           uuid.New(),
		JobID:        job.ID,
		AccountID:    job.AccountID,
		Amount:       job.CostCharged,
		Status:       models.RefundAutoApproved,
		Reason:       reason,
		FailureStage: job.FailureStage,
		AutoRefund:   true,
		ProcessedBy:  &system,
		ProcessedAt:  &now,
	}
	return s.creditTx(ctx, tx, req, models.SystemActorRef, models.ActionRefundJob, nil)
}

// creditTx inserts req and returns its amount to the account.
func (s *Service) creditTx(ctx context.Context, tx pgx.Tx, req *models.RefundRequest, actor models.Actor, action string, before any) (*Settlement, error) {
	if req.CreatedAt.IsZero() {
		if err := s.Refunds.CreateTx(ctx, tx, req); err != nil {
			if errors.Is(err, repository.ErrActiveRefundExists) {
				return nil, ErrAlreadyRefunded
			}
			return nil, fmt.Errorf("create refund request: %w", err)
		}
	}
	jobID := req.JobID
	entry, err := s.Ledger.Credit(ctx, tx, ledger.Posting{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Kind:        models.LedgerRefund,
		JobID:       &jobID,
		Description: "refund: " + req.Reason,
	})
	if err != nil {
		return nil, err
	}
	out := &Settlement{req: req, balance: entry.BalanceAfter}
	if s.Audit != nil {
		out.audit, err = s.Audit.RecordTx(ctx, tx, audit.Entry{
			Actor:      actor,
			Action:     action,
			EntityType: audit.EntityRefund,
			EntityID:   req.ID,
			Before:     before,
			After:      req,
			Metadata:   map[string]any{"job_id": req.JobID, "ledger_entry_id": entry.ID},
			Severity:   models.SeverityInfo,
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Committed runs the side effects of a credited refund once its transaction
// has committed. A nil argument is a no-op.
func (s *Service) Committed(ctx context.Context, c *Settlement) {
	if c == nil {
		return
	}
	s.Metrics.RecordRefund(string(c.req.Status))
	s.Logger.Info("refund credited", "refund_id", c.req.ID, "job_id", c.req.JobID, "amount", c.req.Amount, "status", c.req.Status)
	if err := s.Events.Publish(ctx, events.SubjectRefundCredited, c.req); err != nil {
		s.Logger.Warn("refund event publish failed", "refund_id", c.req.ID, "error", err)
	}
	if s.Audit != nil {
		s.Audit.Publish(ctx, c.audit)
	}
}

// Request returns the refund bookkept by c, or nil.
func (c *Settlement) Request() *models.RefundRequest {
	if c == nil {
		return nil
	}
	return c.req
}

// Balance is the account balance after the refund was credited.
func (c *Settlement) Balance() int64 {
	if c == nil {
		return 0
	}
	return c.balance
}

// RequestRefund files a user request. Checks run in a fixed order so the
// client sees the most fundamental reason first.
func (s *Service) RequestRefund(ctx context.Context, accountID, jobID uuid.UUID, reason string) (*Outcome, error) {
	var (
		out     *Outcome
		credit  *Settlement
		pending *models.RefundRequest
	)
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		job, err := s.Jobs.GetForUpdateTx(ctx, tx, jobID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if job.AccountID != accountID {
			return ErrJobNotFound
		}
		if job.Status != models.JobStatusFailed {
			return ErrJobNotFailed
		}
		active, err := s.Refunds.FindActiveByJobTx(ctx, tx, job.ID)
		switch {
		case err == nil && active.Status.Credited():
			return ErrAlreadyRefunded
		case err == nil:
			return ErrRefundAlreadyRequested
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("find active refund: %w", err)
		}
		now := s.Now()
		failedAt := job.UpdatedAt
		if job.FinishedAt != nil {
			failedAt = *job.FinishedAt
		}
		if now.Sub(failedAt) > s.Config.Window {
			return ErrRefundWindowExpired
		}
		charge, err := s.Charges.FindChargeForJobTx(ctx, tx, job.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoChargeFound
		}
		if err != nil {
			return fmt.Errorf("find charge: %w", err)
		}
		amount := -charge.Amount
		if amount <= 0 {
			return ErrInvalidAmount
		}

		req := &models.RefundRequest{
			ID:           uuid.New(),
			JobID:        job.ID,
			AccountID:    job.AccountID,
			Amount:       amount,
			Status:       models.RefundPending,
			Reason:       reason,
			FailureStage: job.FailureStage,
		}
		if job.FailureCause.SystemAttributable() && now.Sub(failedAt) <= s.Config.AutoWindow {
			system := models.SystemActor
			req.Status = models.RefundAutoApproved
			req.AutoRefund = true
			req.ProcessedBy = &system
			req.ProcessedAt = &now
			credit, err = s.creditTx(ctx, tx, req, models.SystemActorRef, models.ActionRefundJob, nil)
			if err != nil {
				return err
			}
			out = &Outcome{Request: req, NewBalance: &credit.balance}
			return nil
		}
		if err := s.Refunds.CreateTx(ctx, tx, req); err != nil {
			if errors.Is(err, repository.ErrActiveRefundExists) {
				return ErrRefundAlreadyRequested
			}
			return fmt.Errorf("create refund request: %w", err)
		}
		pending = req
		out = &Outcome{Request: req}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if credit != nil {
		s.Committed(ctx, credit)
	}
	if pending != nil {
		s.Metrics.RecordRefund(string(pending.Status))
		s.Logger.Info("refund requested", "refund_id", pending.ID, "job_id", pending.JobID, "amount", pending.Amount)
	}
	return out, nil
}

// Decide approves or rejects a PENDING request.
func (s *Service) Decide(ctx context.Context, requestID uuid.UUID, approve bool, actor models.Actor, notes string) (*models.RefundRequest, error) {
	var (
		decided *models.RefundRequest
		credit  *Settlement
		rec     *models.AuditRecord
	)
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		peek, err := s.Refunds.GetTx(ctx, tx, requestID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("read refund request: %w", err)
		}
		// Job before request, the same order Reprocess and ApproveJobTx use.
		job, err := s.Jobs.GetForUpdateTx(ctx, tx, peek.JobID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("lock job: %w", err)
		}
		req, err := s.Refunds.GetForUpdateTx(ctx, tx, requestID)
		if err != nil {
			return fmt.Errorf("lock refund request: %w", err)
		}
		if req.Status != models.RefundPending {
			return ErrRequestNotPending
		}
		if approve && (job == nil || job.Status != models.JobStatusFailed) {
			return ErrJobNotFailed
		}
		before := *req
		status := models.RefundRejected
		action := models.ActionRejectRefund
		if approve {
			status = models.RefundApproved
			action = models.ActionApproveRefund
		}
		now := s.Now()
		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}
		if err := s.Refunds.DecideTx(ctx, tx, req.ID, status, actor.Email, notesPtr, now); err != nil {
			if errors.Is(err, repository.ErrConditionFailed) {
				return ErrRequestNotPending
			}
			return fmt.Errorf("decide refund request: %w", err)
		}
		by := actor.Email
		req.Status, req.ProcessedBy, req.ProcessedAt, req.AdminNotes = status, &by, &now, notesPtr
		decided = req
		if approve {
			credit, err = s.creditTx(ctx, tx, req, actor, action, before)
			return err
		}
		if s.Audit != nil {
			rec, err = s.Audit.RecordTx(ctx, tx, audit.Entry{
				Actor: actor, Action: action, EntityType: audit.EntityRefund, EntityID: req.ID,
				Before: before, After: req, Severity: models.SeverityInfo,
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if credit != nil {
		s.Committed(ctx, credit)
	} else {
		s.Metrics.RecordRefund(string(decided.Status))
		if s.Audit != nil {
			s.Audit.Publish(ctx, rec)
		}
	}
	return decided, nil
}

// ApproveJobTx refunds a failed job on behalf of an admin in the caller's
// transaction, which must hold the job row lock. A PENDING request is
// approved in place; otherwise a new APPROVED request is created.
func (s *Service) ApproveJobTx(ctx context.Context, tx pgx.Tx, job *models.Job, actor models.Actor, notes string) (*Settlement, error) {
	if job.Status != models.JobStatusFailed {
		return nil, ErrJobNotFailed
	}
	now := s.Now()
	by := actor.Email
	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}
	active, err := s.Refunds.FindActiveByJobTx(ctx, tx, job.ID)
	switch {
	case err == nil && active.Status.Credited():
		return nil, ErrAlreadyRefunded
	case err == nil:
		before := *active
		if err := s.Refunds.DecideTx(ctx, tx, active.ID, models.RefundApproved, by, notesPtr, now); err != nil {
			return nil, fmt.Errorf("approve pending refund: %w", err)
		}
		active.Status, active.ProcessedBy, active.ProcessedAt, active.AdminNotes = models.RefundApproved, &by, &now, notesPtr
		return s.creditTx(ctx, tx, active, actor, models.ActionRefundJob, before)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find active refund: %w", err)
	}
	if job.CostCharged <= 0 {
		return nil, ErrInvalidAmount
	}
	req := &models.RefundRequest{
		ID:           uuid.New(),
		JobID:        job.ID,
		AccountID:    job.AccountID,
		Amount:       job.CostCharged,
		Status:       models.RefundApproved,
		Reason:       "admin refund",
		FailureStage: job.FailureStage,
		ProcessedBy:  &by,
		ProcessedAt:  &now,
		AdminNotes:   notesPtr,
	}
	return s.creditTx(ctx, tx, req, actor, models.ActionRefundJob, nil)
}

func (s *Service) List(ctx context.Context, status models.RefundStatus, limit int) ([]*models.RefundRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Refunds.ListByStatus(ctx, status, limit)
}
