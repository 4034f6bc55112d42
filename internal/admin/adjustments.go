package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

// AdjustmentResult is the outcome of a request or decision. NewBalance is
// set when credits moved.
type AdjustmentResult struct {
	Adjustment *models.AdjustmentRequest `json:"adjustment"`
	NewBalance *int64                    `json:"new_balance,omitempty"`
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// RequestAdjustment applies a manual correction of at most the approval
// threshold immediately. Larger ones wait for a second admin.
func (s *Service) RequestAdjustment(ctx context.Context, actor models.Actor, accountID uuid.UUID, amount int64, reason string) (*AdjustmentResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAdjustment
	}
	adj := &models.AdjustmentRequest{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      amount,
		Reason:      reason,
		RequestedBy: actor.ID,
	}
	direct := abs(amount) <= s.Config.ApprovalThreshold
	out := &AdjustmentResult{Adjustment: adj}
	var rec *models.AuditRecord
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		entry := audit.Entry{
			Actor:      actor,
			EntityType: audit.EntityAdjustment,
			EntityID:   adj.ID,
			Metadata:   map[string]any{"account_id": accountID, "amount": amount, "reason": reason},
		}
		if direct {
			applied, err := s.applyTx(ctx, tx, adj, actor)
			if err != nil {
				return err
			}
			out.NewBalance = &applied.BalanceAfter
			entry.Action, entry.Severity = models.ActionAdjustCredits, models.SeverityInfo
		} else {
			adj.Status = models.AdjustmentPendingApproval
			entry.Action, entry.Severity = models.ActionRequestAdjustment, models.SeverityWarning
		}
		if err := s.Adjustments.CreateTx(ctx, tx, adj); err != nil {
			return fmt.Errorf("create adjustment: %w", err)
		}
		entry.After = adj
		var err error
		rec, err = s.Audit.RecordTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Audit.Publish(ctx, rec)
	s.Logger.Info("adjustment requested", "adjustment_id", adj.ID, "account_id", accountID,
		"amount", amount, "status", adj.Status, "actor", actor.Email)
	return out, nil
}

// applyTx posts the adjustment and marks it APPLIED by decider.
func (s *Service) applyTx(ctx context.Context, tx pgx.Tx, adj *models.AdjustmentRequest, decider models.Actor) (*models.LedgerEntry, error) {
	entry, err := s.Ledger.Adjust(ctx, tx, ledger.Posting{
		AccountID:   adj.AccountID,
		Amount:      adj.Amount,
		Description: "adjustment: " + adj.Reason,
	})
	if err != nil {
		return nil, err
	}
	now := s.Now()
	decidedBy := decider.ID
	adj.Status = models.AdjustmentApplied
	adj.DecidedBy = &decidedBy
	adj.DecidedAt = &now
	adj.LedgerEntryID = &entry.ID
	return entry, nil
}

// DecideAdjustment approves or rejects a pending adjustment. The deciding
// admin must differ from the requester.
func (s *Service) DecideAdjustment(ctx context.Context, actor models.Actor, id uuid.UUID, approve bool) (*AdjustmentResult, error) {
	out := &AdjustmentResult{}
	var rec *models.AuditRecord
	err := repository.WithTx(ctx, s.DB, s.Config.Tx, func(ctx context.Context, tx pgx.Tx) error {
		adj, err := s.Adjustments.GetForUpdateTx(ctx, tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAdjustmentNotFound
		}
		if err != nil {
			return fmt.Errorf("lock adjustment: %w", err)
		}
		if adj.Status != models.AdjustmentPendingApproval {
			return ErrAdjustmentNotPending
		}
		if adj.RequestedBy == actor.ID {
			return ErrSameApprover
		}
		before := *adj
		entry := audit.Entry{
			Actor:      actor,
			EntityType: audit.EntityAdjustment,
			EntityID:   adj.ID,
			Before:     before,
			Metadata:   map[string]any{"account_id": adj.AccountID, "amount": adj.Amount, "requested_by": adj.RequestedBy},
		}
		if approve {
			applied, err := s.applyTx(ctx, tx, adj, actor)
			if err != nil {
				return err
			}
			out.NewBalance = &applied.BalanceAfter
			entry.Action, entry.Severity = models.ActionApproveAdjustment, models.SeverityCritical
		} else {
			now := s.Now()
			decidedBy := actor.ID
			adj.Status, adj.DecidedBy, adj.DecidedAt = models.AdjustmentRejected, &decidedBy, &now
			entry.Action, entry.Severity = models.ActionRejectAdjustment, models.SeverityWarning
		}
		if err := s.Adjustments.DecideTx(ctx, tx, adj.ID, adj.Status, actor.ID, adj.LedgerEntryID, *adj.DecidedAt); err != nil {
			if errors.Is(err, repository.ErrConditionFailed) {
				return ErrAdjustmentNotPending
			}
			return fmt.Errorf("decide adjustment: %w", err)
		}
		out.Adjustment = adj
		entry.After = adj
		rec, err = s.Audit.RecordTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Audit.Publish(ctx, rec)
	s.Logger.Warn("adjustment decided", "adjustment_id", id, "status", out.Adjustment.Status, "actor", actor.Email)
	return out, nil
}

func (s *Service) PendingAdjustments(ctx context.Context) ([]*models.AdjustmentRequest, error) {
	return s.Adjustments.ListPending(ctx, 100)
}

