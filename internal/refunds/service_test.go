package refunds_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/events"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/ledger/ledgertest"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/refunds"
	"github.com/convertcredits/backend/internal/repository"
	"github.com/convertcredits/backend/internal/repository/txtest"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func (m *memJobs) GetForUpdateTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

type memRefunds struct {
	mu   sync.Mutex
	reqs []*models.RefundRequest
}

func (m *memRefunds) CreateTx(_ context.Context, _ pgx.Tx, req *models.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.JobID == req.JobID && r.Status != models.RefundRejected {
			return repository.ErrActiveRefundExists
		}
	}
	req.CreatedAt = time.Now()
	cp := *req
	m.reqs = append(m.reqs, &cp)
	return nil
}

func (m *memRefunds) FindActiveByJobTx(_ context.Context, _ pgx.Tx, jobID uuid.UUID) (*models.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.JobID == jobID && r.Status != models.RefundRejected {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRefunds) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RefundRequest, error) {
	return m.GetForUpdateTx(ctx, tx, id)
}

func (m *memRefunds) GetForUpdateTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRefunds) DecideTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status models.RefundStatus, by string, notes *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.ID == id {
			if r.Status != models.RefundPending {
				return repository.ErrConditionFailed
			}
			r.Status, r.ProcessedBy, r.ProcessedAt, r.AdminNotes = status, &by, &at, notes
			return nil
		}
	}
	return repository.ErrConditionFailed
}

func (m *memRefunds) ListByStatus(_ context.Context, status models.RefundStatus, _ int) ([]*models.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RefundRequest
	for _, r := range m.reqs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRefunds) all() []*models.RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.RefundRequest(nil), m.reqs...)
}

type memAudit struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (m *memAudit) CreateTx(_ context.Context, _ pgx.Tx, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc     *refunds.Service
	ledger  *ledgertest.Store
	jobs    *memJobs
	refunds *memRefunds
	audit   *memAudit
	bus     *events.Recorder
	db      *txtest.DB
	now     time.Time
	account uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  ledgertest.New(),
		jobs:    &memJobs{jobs: make(map[uuid.UUID]*models.Job)},
		refunds: &memRefunds{},
		audit:   &memAudit{},
		bus:     &events.Recorder{},
		db:      &txtest.DB{},
		now:     time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
		account: uuid.New(),
	}
	rec := audit.NewRecorder(f.audit, f.bus, nil)
	f.svc = refunds.NewService(f.db, f.jobs, f.refunds, f.ledger, ledger.NewService(f.ledger, f.ledger),
		rec, f.bus, nil, nil, refunds.Config{AutoRefund: true})
	f.svc.Now = func() time.Time { return f.now }
	return f
}

// admitAndFail charges cost for a new job and marks it failed failedAgo before now.
func (f *fixture) admitAndFail(t *testing.T, balance, cost int64, cause models.FailureCause, failedAgo time.Duration) *models.Job {
	t.Helper()
	f.ledger.Seed(f.account, balance)
	job := &models.Job{ID: uuid.New(), AccountID: f.account, JobType: "pdf-to-text", CostCharged: cost}
	_, err := ledger.NewService(f.ledger, f.ledger).Debit(context.Background(), nil, ledger.Posting{
		AccountID: f.account, Amount: cost, Kind: models.LedgerConsumption, JobID: &job.ID,
	})
	require.NoError(t, err)
	finished := f.now.Add(-failedAgo)
	msg := "converter crashed"
	job.Status = models.JobStatusFailed
	job.Error = &msg
	job.FailureStage = models.StageDuringProcess
	job.FailureCause = cause
	job.FinishedAt = &finished
	f.jobs.jobs[job.ID] = job
	return job
}

// ---------------------------------------------------------------------------
// SettleFailedJob
// ---------------------------------------------------------------------------

func TestSettleFailedJob_AutoRefundRestoresBalance(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseSystem, time.Minute)
	require.Equal(t, int64(2), f.ledger.Balance(f.account))

	req, err := f.svc.SettleFailedJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, models.RefundAutoApproved, req.Status)
	assert.Equal(t, int64(3), req.Amount)
	assert.True(t, req.AutoRefund)

	assert.Equal(t, int64(5), f.ledger.Balance(f.account), "balance back to pre-admission value")
	refundsEntries := f.ledger.EntriesOf(models.LedgerRefund)
	require.Len(t, refundsEntries, 1)
	assert.Equal(t, int64(3), refundsEntries[0].Amount)
	assert.Equal(t, int64(2), refundsEntries[0].BalanceBefore)
	assert.Equal(t, int64(5), refundsEntries[0].BalanceAfter)
	assert.Equal(t, f.ledger.Balance(f.account), f.ledger.Sum(f.account))

	assert.Contains(t, f.bus.Subjects(), events.SubjectRefundCredited)
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.ActionRefundJob, f.audit.records[0].Action)
	assert.Equal(t, models.SystemActorID, f.audit.records[0].Actor.ID)

	// A second settlement of the same job is a no-op.
	again, err := f.svc.SettleFailedJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Len(t, f.ledger.EntriesOf(models.LedgerRefund), 1)
	assert.Equal(t, int64(5), f.ledger.Balance(f.account))
}

func TestSettleFailedJob_UserFailureOwesNothing(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)

	req, err := f.svc.SettleFailedJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Empty(t, f.ledger.EntriesOf(models.LedgerRefund))
	assert.Empty(t, f.refunds.all())
}

func TestSettleFailedJob_AdminFailureOwesNothing(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseAdmin, time.Minute)

	req, err := f.svc.SettleFailedJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, int64(2), f.ledger.Balance(f.account))
}

func TestSettleFailedJob_AutoRefundDisabled(t *testing.T) {
	f := newFixture(t)
	f.svc.Config.AutoRefund = false
	job := f.admitAndFail(t, 5, 3, models.CauseSystem, time.Minute)

	req, err := f.svc.SettleFailedJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, int64(2), f.ledger.Balance(f.account))
}

// ---------------------------------------------------------------------------
// RequestRefund
// ---------------------------------------------------------------------------

func TestRequestRefund_AutoApprovedWithinWindow(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseSystem, time.Hour)

	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "file never converted")
	require.NoError(t, err)
	assert.Equal(t, models.RefundAutoApproved, out.Request.Status)
	require.NotNil(t, out.NewBalance)
	assert.Equal(t, int64(5), *out.NewBalance)
	assert.Equal(t, "file never converted", out.Request.Reason)
}

func TestRequestRefund_PendingOutsideAutoWindow(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseSystem, 48*time.Hour)

	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "please")
	require.NoError(t, err)
	assert.Equal(t, models.RefundPending, out.Request.Status)
	assert.Nil(t, out.NewBalance)
	assert.Equal(t, int64(2), f.ledger.Balance(f.account))
	assert.Empty(t, f.ledger.EntriesOf(models.LedgerRefund))
}

func TestRequestRefund_UserFailureIsPending(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)

	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "wrong file")
	require.NoError(t, err)
	assert.Equal(t, models.RefundPending, out.Request.Status)
}

func TestRequestRefund_AdminFailureIsPending(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseAdmin, time.Minute)

	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "force-failed")
	require.NoError(t, err)
	assert.Equal(t, models.RefundPending, out.Request.Status)
	assert.Nil(t, out.NewBalance)
	assert.Equal(t, int64(2), f.ledger.Balance(f.account))
}

func TestRequestRefund_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("job not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RequestRefund(ctx, f.account, uuid.New(), "x")
		assert.ErrorIs(t, err, refunds.ErrJobNotFound)
	})

	t.Run("someone else's job", func(t *testing.T) {
		f := newFixture(t)
		job := f.admitAndFail(t, 5, 3, models.CauseSystem, time.Minute)
		_, err := f.svc.RequestRefund(ctx, uuid.New(), job.ID, "x")
		assert.ErrorIs(t, err, refunds.ErrJobNotFound)
	})

	t.Run("job not failed", func(t *testing.T) {
		f := newFixture(t)
		job := f.admitAndFail(t, 5, 3, models.CauseSystem, time.Minute)
		f.jobs.jobs[job.ID].Status = models.JobStatusCompleted
		_, err := f.svc.RequestRefund(ctx, f.account, job.ID, "x")
		assert.ErrorIs(t, err, refunds.ErrJobNotFailed)
	})

	t.Run("window expired", func(t *testing.T) {
		f := newFixture(t)
		job := f.admitAndFail(t, 5, 3, models.CauseSystem, 31*24*time.Hour)
		_, err := f.svc.RequestRefund(ctx, f.account, job.ID, "x")
		assert.ErrorIs(t, err, refunds.ErrRefundWindowExpired)
	})

	t.Run("no charge", func(t *testing.T) {
		f := newFixture(t)
		msg := "boom"
		finished := f.now.Add(-time.Minute)
		job := &models.Job{ID: uuid.New(), AccountID: f.account, Status: models.JobStatusFailed,
			Error: &msg, FailureCause: models.CauseSystem, FinishedAt: &finished}
		f.jobs.jobs[job.ID] = job
		_, err := f.svc.RequestRefund(ctx, f.account, job.ID, "x")
		assert.ErrorIs(t, err, refunds.ErrNoChargeFound)
	})

	t.Run("already requested", func(t *testing.T) {
		f := newFixture(t)
		job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)
		_, err := f.svc.RequestRefund(ctx, f.account, job.ID, "first")
		require.NoError(t, err)
		_, err = f.svc.RequestRefund(ctx, f.account, job.ID, "second")
		assert.ErrorIs(t, err, refunds.ErrRefundAlreadyRequested)
	})
}

func TestRequestRefund_ExclusiveAfterCredit(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseSystem, time.Minute)
	_, err := f.svc.SettleFailedJob(context.Background(), job.ID)
	require.NoError(t, err)

	_, err = f.svc.RequestRefund(context.Background(), f.account, job.ID, "again please")
	assert.ErrorIs(t, err, refunds.ErrAlreadyRefunded)
	assert.Len(t, f.ledger.EntriesOf(models.LedgerRefund), 1)
	assert.Equal(t, int64(5), f.ledger.Balance(f.account))
}

func TestRequestRefund_ConcurrentRequestsCreditOnce(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseSystem, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, rejected int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, refunds.ErrAlreadyRefunded), errors.Is(err, refunds.ErrRefundAlreadyRequested):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, rejected)
	assert.Len(t, f.ledger.EntriesOf(models.LedgerRefund), 1)
	assert.Equal(t, int64(5), f.ledger.Balance(f.account))
	assert.Equal(t, f.ledger.Balance(f.account), f.ledger.Sum(f.account))
}

// ---------------------------------------------------------------------------
// Decide
// ---------------------------------------------------------------------------

func TestDecide_Approve(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)
	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "wrong output")
	require.NoError(t, err)

	admin := models.Actor{ID: uuid.New(), Email: "ops@example.com"}
	decided, err := f.svc.Decide(context.Background(), out.Request.ID, true, admin, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, models.RefundApproved, decided.Status)
	require.NotNil(t, decided.ProcessedBy)
	assert.Equal(t, "ops@example.com", *decided.ProcessedBy)
	require.NotNil(t, decided.AdminNotes)
	assert.Equal(t, "goodwill", *decided.AdminNotes)

	assert.Equal(t, int64(5), f.ledger.Balance(f.account))
	assert.Len(t, f.ledger.EntriesOf(models.LedgerRefund), 1)
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.ActionApproveRefund, f.audit.records[0].Action)
	assert.NotEmpty(t, f.audit.records[0].Before)
	assert.NotEmpty(t, f.audit.records[0].After)

	_, err = f.svc.Decide(context.Background(), out.Request.ID, true, admin, "")
	assert.ErrorIs(t, err, refunds.ErrRequestNotPending)
	assert.Len(t, f.ledger.EntriesOf(models.LedgerRefund), 1)
}

func TestDecide_RejectLeavesBalanceAndAllowsNewRequest(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)
	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "first")
	require.NoError(t, err)

	admin := models.Actor{ID: uuid.New(), Email: "ops@example.com"}
	decided, err := f.svc.Decide(context.Background(), out.Request.ID, false, admin, "user error")
	require.NoError(t, err)
	assert.Equal(t, models.RefundRejected, decided.Status)
	assert.Equal(t, int64(2), f.ledger.Balance(f.account))
	assert.Empty(t, f.ledger.EntriesOf(models.LedgerRefund))
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.ActionRejectRefund, f.audit.records[0].Action)

	// Rejected requests do not count as active.
	again, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, models.RefundPending, again.Request.Status)
}

func TestDecide_ApproveRequiresFailedJob(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)
	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "wrong output")
	require.NoError(t, err)

	f.jobs.mu.Lock()
	f.jobs.jobs[job.ID].Status = models.JobStatusCompleted
	f.jobs.mu.Unlock()

	admin := models.Actor{ID: uuid.New(), Email: "ops@example.com"}
	_, err = f.svc.Decide(context.Background(), out.Request.ID, true, admin, "")
	assert.ErrorIs(t, err, refunds.ErrJobNotFailed)
	assert.Equal(t, int64(2), f.ledger.Balance(f.account))
	assert.Empty(t, f.ledger.EntriesOf(models.LedgerRefund))
	assert.Equal(t, models.RefundPending, f.refunds.all()[0].Status)

	// Rejecting still works so the request can be closed.
	decided, err := f.svc.Decide(context.Background(), out.Request.ID, false, admin, "job rerun")
	require.NoError(t, err)
	assert.Equal(t, models.RefundRejected, decided.Status)
}

func TestDecide_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Decide(context.Background(), uuid.New(), true, models.SystemActorRef, "")
	assert.ErrorIs(t, err, refunds.ErrRequestNotFound)
}

// ---------------------------------------------------------------------------
// ApproveJobTx
// ---------------------------------------------------------------------------

func TestApproveJobTx(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)
	admin := models.Actor{ID: uuid.New(), Email: "ops@example.com"}

	s, err := f.svc.ApproveJobTx(context.Background(), nil, job, admin, "manual")
	require.NoError(t, err)
	require.NotNil(t, s.Request())
	assert.Equal(t, models.RefundApproved, s.Request().Status)
	assert.Equal(t, int64(5), s.Balance())
	f.svc.Committed(context.Background(), s)

	_, err = f.svc.ApproveJobTx(context.Background(), nil, job, admin, "manual")
	assert.ErrorIs(t, err, refunds.ErrAlreadyRefunded)

	job.Status = models.JobStatusQueued
	_, err = f.svc.ApproveJobTx(context.Background(), nil, job, admin, "")
	assert.ErrorIs(t, err, refunds.ErrJobNotFailed)
}

func TestApproveJobTx_ApprovesPendingInPlace(t *testing.T) {
	f := newFixture(t)
	job := f.admitAndFail(t, 5, 3, models.CauseUser, time.Minute)
	out, err := f.svc.RequestRefund(context.Background(), f.account, job.ID, "please")
	require.NoError(t, err)

	s, err := f.svc.ApproveJobTx(context.Background(), nil, job, models.Actor{ID: uuid.New(), Email: "ops@example.com"}, "")
	require.NoError(t, err)
	assert.Equal(t, out.Request.ID, s.Request().ID)
	assert.Len(t, f.refunds.all(), 1)
	assert.Equal(t, models.RefundApproved, f.refunds.all()[0].Status)
}
