package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// Distributor pays level commissions up the sponsor chain of an investor.
type Distributor struct {
	*base
	ledger *Ledger
	rates  domain.RateTable
}

// Distribute credits every eligible sponsor within domain.MaxLevel levels of
// investorID in one transaction. A nil rate table uses the configured one.
func (d *Distributor) Distribute(ctx context.Context, investorID string, amount int64, rates domain.RateTable) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	var tm txMetrics
	err := d.tx.Run(ctx, "distribute", func(tx store.Tx) error {
		tm = txMetrics{}
		var err error
		entries, err = d.distribute(ctx, tx, &tm, investorID, amount, rates, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	tm.publish()
	return entries, nil
}

func (d *Distributor) distribute(ctx context.Context, tx store.Tx, tm *txMetrics, investorID string, amount int64, rates domain.RateTable, reference string) ([]domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, &domain.LedgerError{Code: domain.InvalidAmount, MemberID: investorID, Amount: amount}
	}
	if rates == nil {
		rates = d.rates
	} else if err := rates.Validate(); err != nil {
		return nil, domain.ValidationError("rates: %v", err)
	}
	investor, err := tx.LockMember(ctx, investorID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMemberNotFound)
	}

	entries := []domain.LedgerEntry{}
	visited := map[string]bool{investorID: true}
	current := investor.SponsorID
	for level := 1; level <= domain.MaxLevel && current != ""; level++ {
		if visited[current] {
			return nil, &domain.GraphError{Code: domain.CycleDetected, MemberID: current}
		}
		visited[current] = true

		sponsor, err := tx.LockMember(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("sponsor chain ends at missing member", zap.String("member", current))
			break
		}
		if err != nil {
			return nil, err
		}

		lvl := strconv.Itoa(level)
		rate := rates.Rate(level)
		commission := domain.PercentOf(amount, rate)
		switch {
		case sponsor.Status != domain.StatusActive:
			tm.add(func() { commissionForfeited.WithLabelValues(lvl).Inc() })
			d.logger.Debug("commission forfeited",
				zap.String("sponsor", sponsor.ID),
				zap.String("status", string(sponsor.Status)),
				zap.Int("level", level),
				zap.Int64("amount", commission),
			)
		case commission > 0:
			entry, err := d.ledger.credit(ctx, tx, CreditRequest{
				MemberID:       sponsor.ID,
				Category:       domain.CategoryForLevel(level),
				Amount:         commission,
				SourceMemberID: investorID,
				Level:          level,
				Rate:           &rate,
				Reference:      reference,
				Description:    fmt.Sprintf("Level %d commission from %s", level, investorID),
			})
			if err != nil {
				return nil, err
			}
			tm.add(func() {
				commissionPosted.WithLabelValues(lvl).Inc()
				commissionAmount.WithLabelValues(lvl).Add(float64(commission))
			})
			entries = append(entries, *entry)
		}
		current = sponsor.SponsorID
	}

	d.logger.Info("commission distributed",
		zap.String("investor", investorID),
		zap.Int64("amount", amount),
		zap.Int("payouts", len(entries)),
	)
	return entries, nil
}
