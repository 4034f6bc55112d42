package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/convertcredits/backend/internal/events"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

// ErrMissingAccount is returned for a paid event that names no account.
var ErrMissingAccount = errors.New("payment event has no account")

// ReasonNotApproved is set on results for events that credit nothing.
const ReasonNotApproved = "payment_not_approved"

// Store is the payment event repository. *repository.PaymentRepo satisfies it.
type Store interface {
	FindByExternalIDTx(ctx context.Context, tx pgx.Tx, provider, externalID string) (*models.PaymentEvent, error)
	FindCreditedByRefTx(ctx context.Context, tx pgx.Tx, provider, paymentRef string) (*models.PaymentEvent, error)
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.PaymentEvent) error
	CreateReversalTx(ctx context.Context, tx pgx.Tx, rev *models.PaymentReversal) error
}

// Event is one provider notification after signature checks and parsing.
type Event struct {
	Provider       string
	ExternalID     string
	EventType      string
	ProviderStatus string
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	PlanID         string
	PaymentRef     string
	RawPayload     json.RawMessage
}

type Result struct {
	AlreadyProcessed bool                 `json:"already_processed"`
	CreditsAdded     int64                `json:"credits_added"`
	EventID          uuid.UUID            `json:"event_id,omitempty"`
	Status           models.PaymentStatus `json:"status"`
	Reason           string               `json:"reason,omitempty"`
	NewBalance       *int64               `json:"new_balance,omitempty"`
	ReversalOpened   bool                 `json:"reversal_opened,omitempty"`
}

type Service struct {
	DB      repository.TxBeginner
	Events  Store
	Ledger  *ledger.Service
	Dedup   Dedup
	Bus     events.Publisher
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Tx      repository.TxOptions
}

func NewService(db repository.TxBeginner, store Store, l *ledger.Service, dedup Dedup, pub events.Publisher,
	m *metrics.Collector, logger *slog.Logger, tx repository.TxOptions) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if dedup == nil {
		dedup = NoDedup{}
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if tx.LockTimeout <= 0 {
		tx.LockTimeout = 5 * time.Second
	}
	if tx.Timeout <= 0 {
		tx.Timeout = 10 * time.Second
	}
	return &Service{DB: db, Events: store, Ledger: l, Dedup: dedup, Bus: pub, Metrics: m, Logger: logger, Tx: tx}
}

// ApplyPaymentEvent records ev and, for a paid event, credits the plan's
// credits to the account. Redelivery of the same (provider, external id)
// reports AlreadyProcessed and changes nothing.
func (s *Service) ApplyPaymentEvent(ctx context.Context, ev Event) (*Result, error) {
	status := Normalize(ev.Provider, ev.ProviderStatus)
	log := s.Logger.With("provider", ev.Provider, "external_id", ev.ExternalID, "status", status)

	if seen, err := s.Dedup.Seen(ctx, ev.Provider, ev.ExternalID); err != nil {
		log.Warn("payment dedup lookup failed", "error", err)
	} else if seen {
		s.Metrics.RecordPaymentEvent(ev.Provider, "duplicate")
		return &Result{AlreadyProcessed: true, Status: status}, nil
	}

	var plan Plan
	if status == models.PaymentPaid {
		if ev.AccountID == uuid.Nil {
			return nil, ErrMissingAccount
		}
		var err error
		if plan, err = PlanByID(ev.PlanID); err != nil {
			s.Metrics.RecordPaymentEvent(ev.Provider, "rejected")
			log.Warn("paid event for unknown plan", "plan_id", ev.PlanID)
			return nil, err
		}
	}

	var res *Result
	err := repository.WithTx(ctx, s.DB, s.Tx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		res, err = s.applyTx(ctx, tx, ev, status, plan)
		return err
	})
	if errors.Is(err, repository.ErrDuplicatePaymentEvent) {
		// A concurrent delivery of the same event committed first.
		res, err = &Result{AlreadyProcessed: true, Status: status}, nil
	}
	if err != nil {
		s.Metrics.RecordPaymentEvent(ev.Provider, "error")
		log.Error("apply payment event failed", "error", err)
		return nil, err
	}

	if markErr := s.Dedup.Mark(ctx, ev.Provider, ev.ExternalID); markErr != nil {
		log.Warn("payment dedup mark failed", "error", markErr)
	}
	switch {
	case res.AlreadyProcessed:
		s.Metrics.RecordPaymentEvent(ev.Provider, "duplicate")
		log.Info("payment event already processed")
	case res.CreditsAdded > 0:
		s.Metrics.RecordPaymentEvent(ev.Provider, "credited")
		log.Info("payment credited", "account_id", ev.AccountID, "plan_id", plan.ID,
			"credits", res.CreditsAdded, "new_balance", *res.NewBalance)
		if err := s.Bus.Publish(ctx, events.SubjectPaymentCredited, res); err != nil {
			log.Warn("payment event publish failed", "error", err)
		}
	default:
		s.Metrics.RecordPaymentEvent(ev.Provider, "recorded")
		log.Info("payment event recorded without credits", "reversal_opened", res.ReversalOpened)
	}
	return res, nil
}

func (s *Service) applyTx(ctx context.Context, tx pgx.Tx, ev Event, status models.PaymentStatus, plan Plan) (*Result, error) {
	if existing, err := s.Events.FindByExternalIDTx(ctx, tx, ev.Provider, ev.ExternalID); err == nil {
		return &Result{AlreadyProcessed: true, EventID: existing.ID, Status: status}, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find payment event: %w", err)
	}

	rec := &models.PaymentEvent{
		ID:               uuid.New(),
		Provider:         ev.Provider,
		ExternalID:       ev.ExternalID,
		EventType:        ev.EventType,
		ProviderStatus:   ev.ProviderStatus,
		NormalizedStatus: status,
		PlanID:           ev.PlanID,
		PaymentRef:       ev.PaymentRef,
		Amount:           ev.Amount,
		RawPayload:       ev.RawPayload,
	}
	if ev.AccountID != uuid.Nil {
		id := ev.AccountID
		rec.AccountID = &id
	}

	if status != models.PaymentPaid {
		if err := s.Events.CreateTx(ctx, tx, rec); err != nil {
			return nil, err
		}
		res := &Result{EventID: rec.ID, Status: status, Reason: ReasonNotApproved}
		if status == models.PaymentRefunded && ev.PaymentRef != "" {
			opened, err := s.openReversalTx(ctx, tx, rec)
			if err != nil {
				return nil, err
			}
			res.ReversalOpened = opened
		}
		return res, nil
	}

	rec.CreditsAdded = plan.Credits
	if err := s.Events.CreateTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	entry, err := s.Ledger.Credit(ctx, tx, ledger.Posting{
		AccountID:      ev.AccountID,
		Amount:         plan.Credits,
		Kind:           models.LedgerPurchase,
		PaymentEventID: &rec.ID,
		Description:    fmt.Sprintf("purchase: %s (%d credits)", plan.Name, plan.Credits),
	})
	if err != nil {
		return nil, err
	}
	balance := entry.BalanceAfter
	return &Result{EventID: rec.ID, Status: status, CreditsAdded: plan.Credits, NewBalance: &balance}, nil
}

// openReversalTx records that credits granted for a payment the provider
// later refunded are owed back. Recovering them is an admin adjustment.
func (s *Service) openReversalTx(ctx context.Context, tx pgx.Tx, refund *models.PaymentEvent) (bool, error) {
	credited, err := s.Events.FindCreditedByRefTx(ctx, tx, refund.Provider, refund.PaymentRef)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find credited payment: %w", err)
	}
	if credited.AccountID == nil {
		return false, nil
	}
	rev := &models.PaymentReversal{
		ID:             uuid.New(),
		AccountID:      *credited.AccountID,
		Provider:       refund.Provider,
		PaymentRef:     refund.PaymentRef,
		PaymentEventID: refund.ID,
		CreditsOwed:    credited.CreditsAdded,
		Status:         models.ReversalOpen,
	}
	if err := s.Events.CreateReversalTx(ctx, tx, rev); err != nil {
		return false, fmt.Errorf("create payment reversal: %w", err)
	}
	s.Logger.Warn("payment refunded after credit, reversal opened", "account_id", rev.AccountID,
		"payment_ref", rev.PaymentRef, "credits_owed", rev.CreditsOwed)
	return true, nil
}
