package service

import (
	"context"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/shopspring/decimal"
)

// Ledger applies wallet mutations. Each one locks the member row, then the
// wallet row, checks its precondition, and appends a ledger entry.
type Ledger struct {
	*base
}

type CreditRequest struct {
	MemberID       string
	Category       domain.Category
	Amount         int64
	SourceMemberID string
	Level          int
	Rate           *decimal.Decimal
	Reference      string
	Description    string
}

func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.tx.Run(ctx, "credit", func(tx store.Tx) error {
		var err error
		entry, err = l.credit(ctx, tx, req)
		return err
	})
	return entry, err
}

func (l *Ledger) credit(ctx context.Context, tx store.Tx, req CreditRequest) (*domain.LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, &domain.LedgerError{Code: domain.InvalidAmount, MemberID: req.MemberID, Amount: req.Amount}
	}
	if !req.Category.IsIncome() {
		return nil, &domain.LedgerError{Code: domain.InvalidCategory, MemberID: req.MemberID, Amount: req.Amount}
	}
	m, w, err := l.lock(ctx, tx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if err := w.Credit(req.Category, req.Amount); err != nil {
		return nil, err
	}

	now := l.now()
	m.TotalEarnings += req.Amount
	if err := l.save(ctx, tx, m, w, now); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		MemberID:       req.MemberID,
		SourceMemberID: req.SourceMemberID,
		Category:       req.Category,
		Amount:         req.Amount,
		Level:          req.Level,
		Rate:           req.Rate,
		Status:         domain.EntryCompleted,
		Reference:      req.Reference,
		Description:    req.Description,
		CreatedAt:      now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Reserve moves amount into pending withdrawals and records a PENDING
// WITHDRAWAL entry linked to reference.
func (l *Ledger) Reserve(ctx context.Context, memberID string, amount int64, reference string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.tx.Run(ctx, "reserve", func(tx store.Tx) error {
		var err error
		entry, err = l.reserve(ctx, tx, memberID, amount, reference)
		return err
	})
	return entry, err
}

func (l *Ledger) reserve(ctx context.Context, tx store.Tx, memberID string, amount int64, reference string) (*domain.LedgerEntry, error) {
	m, w, err := l.lock(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	if err := w.Reserve(amount); err != nil {
		return nil, err
	}
	now := l.now()
	if err := l.save(ctx, tx, m, w, now); err != nil {
		return nil, err
	}
	entry := &domain.LedgerEntry{
		MemberID:    memberID,
		Category:    domain.CategoryWithdrawal,
		Amount:      amount,
		Status:      domain.EntryPending,
		Reference:   reference,
		Description: "Withdrawal request",
		CreatedAt:   now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Finalize completes a reserved withdrawal.
func (l *Ledger) Finalize(ctx context.Context, memberID string, amount int64, reference string) error {
	return l.tx.Run(ctx, "finalize", func(tx store.Tx) error {
		return l.finalize(ctx, tx, memberID, amount, reference)
	})
}

func (l *Ledger) finalize(ctx context.Context, tx store.Tx, memberID string, amount int64, reference string) error {
	m, w, err := l.lock(ctx, tx, memberID)
	if err != nil {
		return err
	}
	if err := w.Finalize(amount); err != nil {
		return err
	}
	m.TotalWithdrawals += amount
	if err := l.save(ctx, tx, m, w, l.now()); err != nil {
		return err
	}
	_, err = tx.SetEntryStatus(ctx, memberID, reference, domain.CategoryWithdrawal, domain.EntryCompleted)
	return err
}

// Release returns a reserved amount to the available balance. The linked
// entry becomes CANCELLED when status says so and REJECTED otherwise.
func (l *Ledger) Release(ctx context.Context, memberID string, amount int64, reference string, status domain.EntryStatus) error {
	return l.tx.Run(ctx, "release", func(tx store.Tx) error {
		return l.release(ctx, tx, memberID, amount, reference, status)
	})
}

func (l *Ledger) release(ctx context.Context, tx store.Tx, memberID string, amount int64, reference string, status domain.EntryStatus) error {
	if status != domain.EntryCancelled {
		status = domain.EntryRejected
	}
	m, w, err := l.lock(ctx, tx, memberID)
	if err != nil {
		return err
	}
	if err := w.Release(amount); err != nil {
		return err
	}
	if err := l.save(ctx, tx, m, w, l.now()); err != nil {
		return err
	}
	_, err = tx.SetEntryStatus(ctx, memberID, reference, domain.CategoryWithdrawal, status)
	return err
}

// Lock holds part of the available balance at a moderator's request.
func (l *Ledger) Lock(ctx context.Context, memberID string, amount int64, note string) (*domain.LedgerEntry, error) {
	return l.hold(ctx, memberID, amount, note, domain.CategoryBalanceLock)
}

// Unlock releases a moderator hold.
func (l *Ledger) Unlock(ctx context.Context, memberID string, amount int64, note string) (*domain.LedgerEntry, error) {
	return l.hold(ctx, memberID, amount, note, domain.CategoryBalanceUnlock)
}

func (l *Ledger) hold(ctx context.Context, memberID string, amount int64, note string, category domain.Category) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.tx.Run(ctx, "balance_hold", func(tx store.Tx) error {
		m, w, err := l.lock(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if category == domain.CategoryBalanceLock {
			err = w.Lock(amount)
		} else {
			err = w.Unlock(amount)
		}
		if err != nil {
			return err
		}
		now := l.now()
		if err := l.save(ctx, tx, m, w, now); err != nil {
			return err
		}
		entry = &domain.LedgerEntry{
			MemberID:    memberID,
			Category:    category,
			Amount:      amount,
			Status:      domain.EntryCompleted,
			Description: note,
			CreatedAt:   now,
		}
		return tx.InsertEntry(ctx, entry)
	})
	return entry, err
}

func (l *Ledger) lock(ctx context.Context, tx store.Tx, memberID string) (*domain.Member, *domain.Wallet, error) {
	m, err := tx.LockMember(ctx, memberID)
	if err != nil {
		return nil, nil, mapNotFound(err, domain.ErrMemberNotFound)
	}
	w, err := tx.LockWallet(ctx, memberID)
	if err != nil {
		return nil, nil, mapNotFound(err, domain.ErrWalletNotFound)
	}
	return m, w, nil
}

func (l *Ledger) save(ctx context.Context, tx store.Tx, m *domain.Member, w *domain.Wallet, now time.Time) error {
	w.UpdatedAt = now
	if err := tx.UpdateWallet(ctx, w); err != nil {
		return err
	}
	m.UpdatedAt = now
	return tx.UpdateMember(ctx, m)
}
