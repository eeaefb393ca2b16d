package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// InvestmentService records an investment and runs its full ledger effect
// (commissions, business volume, rewards) as one transaction.
type InvestmentService struct {
	*base
	graph       *Graph
	distributor *Distributor
	rewards     *RewardEvaluator
}

type InvestmentRequest struct {
	MemberID       string
	Amount         int64
	IdempotencyKey string
	// Rates overrides the configured commission table for this event.
	Rates domain.RateTable
}

type InvestmentResult struct {
	Investment  domain.Investment    `json:"investment"`
	Commissions []domain.LedgerEntry `json:"commissions"`
	Rewards     []domain.LedgerEntry `json:"rewards"`
	Replayed    bool                 `json:"replayed"`
}

func (s *InvestmentService) Invest(ctx context.Context, req InvestmentRequest) (*InvestmentResult, error) {
	if req.Amount <= 0 {
		return nil, &domain.LedgerError{Code: domain.InvalidAmount, MemberID: req.MemberID, Amount: req.Amount}
	}
	hash := requestHash(req)

	var res *InvestmentResult
	var tm txMetrics
	err := s.tx.Run(ctx, "invest", func(tx store.Tx) error {
		res = nil
		tm = txMetrics{}
		if req.IdempotencyKey != "" {
			prior, err := tx.InvestmentByKey(ctx, req.IdempotencyKey)
			switch {
			case err == nil:
				if prior.RequestHash != hash {
					return domain.ErrIdempotencyMismatch
				}
				res, err = s.replay(ctx, tx, prior)
				return err
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		var err error
		res, err = s.invest(ctx, tx, &tm, req, hash)
		if errors.Is(err, store.ErrDuplicate) {
			// Another request with the same key committed first; retrying replays it.
			return fmt.Errorf("%w: idempotency key %s: %w", store.ErrConflict, req.IdempotencyKey, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	tm.publish()
	if res.Replayed {
		s.logger.Info("investment replayed", zap.String("id", res.Investment.ID), zap.String("key", req.IdempotencyKey))
	}
	return res, nil
}

func (s *InvestmentService) invest(ctx context.Context, tx store.Tx, tm *txMetrics, req InvestmentRequest, hash string) (*InvestmentResult, error) {
	investor, err := tx.LockMember(ctx, req.MemberID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMemberNotFound)
	}
	now := s.now()
	investor.TotalInvestment += req.Amount
	investor.UpdatedAt = now
	if err := tx.UpdateMember(ctx, investor); err != nil {
		return nil, err
	}

	inv := domain.Investment{
		ID:             s.newID(),
		MemberID:       req.MemberID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    hash,
		CreatedAt:      now,
	}

	commissions, err := s.distributor.distribute(ctx, tx, tm, req.MemberID, req.Amount, req.Rates, inv.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range commissions {
		inv.CommissionTotal += e.Amount
	}

	touched, err := s.graph.recordBusinessVolume(ctx, tx, req.MemberID, req.Amount)
	if err != nil {
		return nil, err
	}
	rewards := []domain.LedgerEntry{}
	for _, ancestorID := range touched {
		entry, err := s.rewards.evaluate(ctx, tx, tm, ancestorID, inv.ID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			rewards = append(rewards, *entry)
		}
	}

	if err := tx.InsertInvestment(ctx, &inv); err != nil {
		return nil, err
	}
	return &InvestmentResult{Investment: inv, Commissions: commissions, Rewards: rewards}, nil
}

// replay rebuilds the result of an investment that already committed.
func (s *InvestmentService) replay(ctx context.Context, tx store.Tx, inv *domain.Investment) (*InvestmentResult, error) {
	entries, _, err := tx.ListEntries(ctx, store.EntryQuery{Reference: inv.ID})
	if err != nil {
		return nil, err
	}
	res := &InvestmentResult{
		Investment:  *inv,
		Commissions: []domain.LedgerEntry{},
		Rewards:     []domain.LedgerEntry{},
		Replayed:    true,
	}
	// Entries come back newest first; results list them in posting order.
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Category == domain.CategoryReward {
			res.Rewards = append(res.Rewards, entries[i])
		} else {
			res.Commissions = append(res.Commissions, entries[i])
		}
	}
	return res, nil
}

func requestHash(req InvestmentRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", req.MemberID, req.Amount, req.Rates.String())))
	return hex.EncodeToString(sum[:])
}
