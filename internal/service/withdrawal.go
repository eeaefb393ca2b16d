package service

import (
	"context"
	"errors"
	"strings"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cancelledByUser = "cancelled by user"

// WithdrawalWorkflow drives withdrawal requests from PENDING to a terminal state.
type WithdrawalWorkflow struct {
	*base
	ledger     *Ledger
	minAmount  int64
	feePercent decimal.Decimal
}

type WithdrawalInput struct {
	MemberID string
	Amount   int64
	Method   domain.Method
	Details  domain.PaymentDetails
}

// Request validates the input, reserves the gross amount and records a PENDING request.
func (w *WithdrawalWorkflow) Request(ctx context.Context, in WithdrawalInput) (*domain.Withdrawal, error) {
	if in.Amount < w.minAmount {
		return nil, domain.ValidationError("amount %d below minimum %d", in.Amount, w.minAmount)
	}
	if err := domain.ValidateDetails(in.Method, in.Details); err != nil {
		return nil, err
	}

	fee := domain.Fee(in.Amount, w.feePercent)
	var wd *domain.Withdrawal
	err := w.tx.Run(ctx, "withdrawal_request", func(tx store.Tx) error {
		now := w.now()
		wd = &domain.Withdrawal{
			ID:          w.newID(),
			MemberID:    in.MemberID,
			Amount:      in.Amount,
			Fee:         fee,
			NetAmount:   in.Amount - fee,
			Method:      in.Method,
			Details:     in.Details,
			Status:      domain.WithdrawalPending,
			RequestedAt: now,
		}
		if _, err := w.ledger.reserve(ctx, tx, in.MemberID, in.Amount, wd.ID); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return &domain.WithdrawalError{Code: domain.WithdrawalInsufficientFunds, Err: err}
			}
			return err
		}
		return tx.InsertWithdrawal(ctx, wd)
	})
	if err != nil {
		return nil, err
	}
	w.transitioned(wd, "")
	return wd, nil
}

// Approve moves a PENDING request to PROCESSING. Funds stay reserved.
func (w *WithdrawalWorkflow) Approve(ctx context.Context, id, moderatorID, notes string) (*domain.Withdrawal, error) {
	if strings.TrimSpace(moderatorID) == "" {
		return nil, domain.ValidationError("moderator id required")
	}
	return w.moderate(ctx, "withdrawal_approve", id, func(tx store.Tx, wd *domain.Withdrawal) error {
		if err := wd.Transition(domain.WithdrawalProcessing, w.now()); err != nil {
			return err
		}
		wd.ModeratorID = moderatorID
		appendNote(wd, notes)
		_, err := tx.SetEntryStatus(ctx, wd.MemberID, wd.ID, domain.CategoryWithdrawal, domain.EntryApproved)
		return err
	})
}

// Complete records the payout of a PROCESSING request and finalizes the reserve.
func (w *WithdrawalWorkflow) Complete(ctx context.Context, id, moderatorID, paymentReference, notes string) (*domain.Withdrawal, error) {
	if strings.TrimSpace(moderatorID) == "" {
		return nil, domain.ValidationError("moderator id required")
	}
	return w.moderate(ctx, "withdrawal_complete", id, func(tx store.Tx, wd *domain.Withdrawal) error {
		if err := wd.Transition(domain.WithdrawalCompleted, w.now()); err != nil {
			return err
		}
		wd.ModeratorID = moderatorID
		wd.PaymentReference = paymentReference
		appendNote(wd, notes)
		return w.ledger.finalize(ctx, tx, wd.MemberID, wd.Amount, wd.ID)
	})
}

// Reject declines a PENDING or PROCESSING request and releases the full reserve.
func (w *WithdrawalWorkflow) Reject(ctx context.Context, id, moderatorID, reason, notes string) (*domain.Withdrawal, error) {
	if strings.TrimSpace(moderatorID) == "" {
		return nil, domain.ValidationError("moderator id required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, domain.ValidationError("rejection reason required")
	}
	return w.moderate(ctx, "withdrawal_reject", id, func(tx store.Tx, wd *domain.Withdrawal) error {
		if err := wd.Transition(domain.WithdrawalRejected, w.now()); err != nil {
			return err
		}
		wd.ModeratorID = moderatorID
		wd.RejectionReason = reason
		appendNote(wd, notes)
		return w.ledger.release(ctx, tx, wd.MemberID, wd.Amount, wd.ID, domain.EntryRejected)
	})
}

// Cancel lets the owner withdraw a request that is still PENDING.
func (w *WithdrawalWorkflow) Cancel(ctx context.Context, id, memberID string) (*domain.Withdrawal, error) {
	var wd *domain.Withdrawal
	err := w.tx.Run(ctx, "withdrawal_cancel", func(tx store.Tx) error {
		var err error
		wd, err = tx.LockWithdrawal(ctx, id)
		if err != nil {
			return mapNotFound(err, domain.ErrWithdrawalNotFound)
		}
		if wd.MemberID != memberID {
			return domain.ErrWithdrawalNotFound
		}
		if wd.Status != domain.WithdrawalPending {
			return &domain.WithdrawalError{Code: domain.InvalidTransition, Reason: "only pending requests can be cancelled"}
		}
		if err := wd.Transition(domain.WithdrawalRejected, w.now()); err != nil {
			return err
		}
		wd.RejectionReason = cancelledByUser
		if err := w.ledger.release(ctx, tx, wd.MemberID, wd.Amount, wd.ID, domain.EntryCancelled); err != nil {
			return err
		}
		return tx.UpdateWithdrawal(ctx, wd)
	})
	if err != nil {
		return nil, err
	}
	w.transitioned(wd, memberID)
	return wd, nil
}

func (w *WithdrawalWorkflow) Get(ctx context.Context, id string) (*domain.Withdrawal, error) {
	var wd *domain.Withdrawal
	err := w.tx.Run(ctx, "withdrawal_get", func(tx store.Tx) error {
		var err error
		wd, err = tx.GetWithdrawal(ctx, id)
		return mapNotFound(err, domain.ErrWithdrawalNotFound)
	})
	return wd, err
}

// moderate locks the request, applies fn and persists the result in one transaction.
func (w *WithdrawalWorkflow) moderate(ctx context.Context, op, id string, fn func(store.Tx, *domain.Withdrawal) error) (*domain.Withdrawal, error) {
	var wd *domain.Withdrawal
	err := w.tx.Run(ctx, op, func(tx store.Tx) error {
		var err error
		wd, err = tx.LockWithdrawal(ctx, id)
		if err != nil {
			return mapNotFound(err, domain.ErrWithdrawalNotFound)
		}
		if err := fn(tx, wd); err != nil {
			return err
		}
		return tx.UpdateWithdrawal(ctx, wd)
	})
	if err != nil {
		return nil, err
	}
	w.transitioned(wd, wd.ModeratorID)
	return wd, nil
}

func (w *WithdrawalWorkflow) transitioned(wd *domain.Withdrawal, actor string) {
	withdrawalTransitions.WithLabelValues(string(wd.Status)).Inc()
	w.logger.Info("withdrawal transition",
		zap.String("id", wd.ID),
		zap.String("member", wd.MemberID),
		zap.String("status", string(wd.Status)),
		zap.Int64("amount", wd.Amount),
		zap.String("actor", actor),
	)
}

func appendNote(wd *domain.Withdrawal, note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if wd.AdminNotes != "" {
		wd.AdminNotes += "\n"
	}
	wd.AdminNotes += note
}
