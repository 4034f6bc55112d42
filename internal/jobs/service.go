// Package jobs admits conversion jobs: it charges the job's cost and creates
// the job row in one transaction, then dispatches the job to the queue.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/policy"
	"github.com/convertcredits/backend/internal/refunds"
	"github.com/convertcredits/backend/internal/repository"
)

var (
	// ErrAdmissionFailed wraps any failure that aborted the admission
	// transaction. Nothing was committed and the call is safe to retry.
	ErrAdmissionFailed = errors.New("admission failed")
	ErrJobNotFound     = errors.New("job not found")
	ErrNotCancellable  = errors.New("job is not cancellable")
)

// Default bounds for the admission transaction.
const (
	DefaultLockTimeout = 5 * time.Second
	DefaultTxTimeout   = 10 * time.Second
)

// Admission is the result of a successful Admit.
type Admission struct {
	Job        *models.Job
	NewBalance int64
	// DispatchDeferred is set when the queue insert failed after commit. The
	// job is queued and charged; the recovery sweeper dispatches it later.
	DispatchDeferred bool
}

// Cancellation is the result of a successful Cancel.
type Cancellation struct {
	Job        *models.Job
	Refund     *models.RefundRequest
	NewBalance *int64
}

type Service struct {
	DB         repository.TxBeginner
	Jobs       Store
	Ledger     *ledger.Service
	Policies   *policy.Table
	Payloads   *PayloadValidator
	Dispatcher Dispatcher
	Refunds    Refunder
	Metrics    *metrics.Collector
	Logger     *slog.Logger
	Tx         repository.TxOptions
}

func NewService(db repository.TxBeginner, jobs Store, l *ledger.Service, policies *policy.Table, payloads *PayloadValidator,
	dispatcher Dispatcher, refunder Refunder, m *metrics.Collector, logger *slog.Logger, tx repository.TxOptions) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tx.LockTimeout <= 0 {
		tx.LockTimeout = DefaultLockTimeout
	}
	if tx.Timeout <= 0 {
		tx.Timeout = DefaultTxTimeout
	}
	return &Service{
		DB: db, Jobs: jobs, Ledger: l, Policies: policies, Payloads: payloads, Dispatcher: dispatcher,
		Refunds: refunder, Metrics: m, Logger: logger, Tx: tx,
	}
}

// Admit charges the job type's cost to accountID and creates a queued job.
//
// The balance check, the CONSUMPTION entry and the job row commit together
// or not at all. Dispatch happens after commit; its failure is logged and
// reported through DispatchDeferred, never as an error.
func (s *Service) Admit(ctx context.Context, accountID uuid.UUID, jobType string, raw json.RawMessage) (*Admission, error) {
	p, err := s.Policies.Lookup(jobType)
	if err != nil {
		s.Metrics.RecordAdmission(metrics.AdmissionRejected)
		return nil, err
	}
	payload, err := s.Payloads.Decode(p.Family, raw)
	if err != nil {
		s.Metrics.RecordAdmission(metrics.AdmissionRejected)
		return nil, err
	}

	job := &models.Job{
		ID:          uuid.New(),
		AccountID:   accountID,
		JobType:     jobType,
		Status:      models.JobStatusQueued,
		CostCharged: p.CostInCredits,
		Payload:     payload,
	}
	var newBalance int64
	err = repository.WithTx(ctx, s.DB, s.Tx, func(ctx context.Context, tx pgx.Tx) error {
		entry, err := s.Ledger.Debit(ctx, tx, ledger.Posting{
			AccountID:   accountID,
			Amount:      p.CostInCredits,
			Kind:        models.LedgerConsumption,
			JobID:       &job.ID,
			Description: "conversion: " + jobType,
		})
		if err != nil {
			return err
		}
		if err := s.Jobs.CreateTx(ctx, tx, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		newBalance = entry.BalanceAfter
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			s.Metrics.RecordAdmission(metrics.AdmissionInsufficient)
			return nil, err
		}
		s.Metrics.RecordAdmission(metrics.AdmissionFailed)
		s.Logger.Error("admission transaction aborted", "account_id", accountID, "job_type", jobType, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAdmissionFailed, err)
	}
	s.Metrics.RecordAdmission(metrics.AdmissionAdmitted)
	s.Logger.Info("job admitted", "job_id", job.ID, "account_id", accountID, "job_type", jobType,
		"cost", job.CostCharged, "new_balance", newBalance)

	out := &Admission{Job: job, NewBalance: newBalance}
	if _, err := s.Dispatcher.Dispatch(ctx, job, false); err != nil {
		// The dispatcher has already flagged the row for the sweeper.
		out.DispatchDeferred = true
	}
	return out, nil
}

// Get returns a job owned by accountID.
func (s *Service) Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.Jobs.GetByID(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && j.AccountID != accountID) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Jobs.ListByAccountID(ctx, accountID, limit)
}

// Cancel fails a job that no worker has claimed yet and returns its cost.
// Once a worker has claimed the job only a timeout can stop it.
func (s *Service) Cancel(ctx context.Context, accountID, jobID uuid.UUID) (*Cancellation, error) {
	out := &Cancellation{}
	var settled *refunds.Settlement
	err := repository.WithTx(ctx, s.DB, s.Tx, func(ctx context.Context, tx pgx.Tx) error {
		j, err := s.Jobs.CancelTx(ctx, tx, jobID, accountID)
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrNotCancellable
		}
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		out.Job = j
		if s.Refunds == nil {
			return nil
		}
		settled, err = s.Refunds.AutoRefundTx(ctx, tx, j, "cancelled before processing")
		if err != nil {
			return fmt.Errorf("refund cancelled job: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrNotCancellable) {
		if _, getErr := s.Get(ctx, accountID, jobID); errors.Is(getErr, ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, ErrNotCancellable
	}
	if err != nil {
		return nil, err
	}
	if settled.Request() != nil {
		s.Refunds.Committed(ctx, settled)
		out.Refund = settled.Request()
		b := settled.Balance()
		out.NewBalance = &b
	}
	s.Logger.Info("job cancelled", "job_id", jobID, "account_id", accountID)
	return out, nil
}
