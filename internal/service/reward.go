package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// RewardEvaluator grants the one-time team business milestone reward.
type RewardEvaluator struct {
	*base
	ledger    *Ledger
	threshold int64
	amount    int64
}

// Evaluate credits the reward when memberID qualifies and has not been
// rewarded yet. It returns nil when nothing was granted.
func (r *RewardEvaluator) Evaluate(ctx context.Context, memberID string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	var tm txMetrics
	err := r.tx.Run(ctx, "evaluate_reward", func(tx store.Tx) error {
		tm = txMetrics{}
		var err error
		entry, err = r.evaluate(ctx, tx, &tm, memberID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	tm.publish()
	return entry, nil
}

func (r *RewardEvaluator) evaluate(ctx context.Context, tx store.Tx, tm *txMetrics, memberID, reference string) (*domain.LedgerEntry, error) {
	m, err := tx.LockMember(ctx, memberID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMemberNotFound)
	}
	if m.TeamBusiness < r.threshold {
		return nil, nil
	}

	// The wallet lock serializes the existence check below.
	if _, err := tx.LockWallet(ctx, memberID); err != nil {
		return nil, mapNotFound(err, domain.ErrWalletNotFound)
	}
	granted, err := tx.HasEntry(ctx, memberID, domain.CategoryReward)
	if err != nil || granted {
		return nil, err
	}

	entry, err := r.ledger.credit(ctx, tx, CreditRequest{
		MemberID:    memberID,
		Category:    domain.CategoryReward,
		Amount:      r.amount,
		Reference:   reference,
		Description: fmt.Sprintf("Team business reached %d", r.threshold),
	})
	if err != nil {
		return nil, err
	}
	tm.add(rewardsGranted.Inc)
	r.logger.Info("reward granted",
		zap.String("member", memberID),
		zap.Int64("team_business", m.TeamBusiness),
		zap.Int64("amount", r.amount),
	)
	return entry, nil
}
