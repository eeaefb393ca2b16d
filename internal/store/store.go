// Package store persists the referral graph, wallets, ledger entries,
// withdrawals and investments.
//
// Every engine operation runs inside one Store.InTx call. Rows are locked in
// a fixed order so concurrent transactions never wait on each other in a
// cycle: withdrawal row, then member rows from descendant to ancestor, then
// the wallet row of a member whose row is already held.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict marks a transient failure (serialization, deadlock, lock
	// timeout, dropped connection). The whole transaction may be retried.
	ErrConflict = errors.New("transaction conflict")
)

// IsRetryable reports whether a failed transaction may be run again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Store opens transactions. fn's error is returned unchanged unless the
// backend classified it as ErrConflict or ErrDuplicate.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	Close()
}

// Tx is the unit of work handed to InTx callbacks. Lock* methods hold the
// row until the transaction ends; Get* methods read without locking.
type Tx interface {
	InsertMember(ctx context.Context, m *domain.Member) error
	GetMember(ctx context.Context, id string) (*domain.Member, error)
	LockMember(ctx context.Context, id string) (*domain.Member, error)
	MemberByReferralCode(ctx context.Context, code string) (*domain.Member, error)
	UpdateMember(ctx context.Context, m *domain.Member) error

	InsertEdge(ctx context.Context, e *domain.AncestorEdge) error
	Ancestors(ctx context.Context, memberID string) ([]domain.AncestorEdge, error)
	AddEdgeBusiness(ctx context.Context, ancestorID, memberID string, direct, team int64) error
	ListTeam(ctx context.Context, ancestorID string, q TeamQuery) ([]TeamMember, int, error)

	InsertWallet(ctx context.Context, w *domain.Wallet) error
	GetWallet(ctx context.Context, memberID string) (*domain.Wallet, error)
	LockWallet(ctx context.Context, memberID string) (*domain.Wallet, error)
	UpdateWallet(ctx context.Context, w *domain.Wallet) error

	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error
	SetEntryStatus(ctx context.Context, memberID, reference string, category domain.Category, status domain.EntryStatus) (int, error)
	HasEntry(ctx context.Context, memberID string, category domain.Category) (bool, error)
	ListEntries(ctx context.Context, q EntryQuery) ([]domain.LedgerEntry, int, error)
	SumEntries(ctx context.Context, memberID string, from, to time.Time) ([]CategorySum, error)

	InsertWithdrawal(ctx context.Context, w *domain.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error)
	LockWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *domain.Withdrawal) error
	ListWithdrawals(ctx context.Context, q WithdrawalQuery) ([]domain.Withdrawal, int, error)
	WithdrawalStats(ctx context.Context, memberID string) ([]domain.WithdrawalStats, error)

	InsertInvestment(ctx context.Context, inv *domain.Investment) error
	InvestmentByKey(ctx context.Context, key string) (*domain.Investment, error)
}

// EntryQuery filters ledger entries. Zero values mean "any"; Limit 0 means no limit.
type EntryQuery struct {
	MemberID  string
	Category  domain.Category
	Reference string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

func (q EntryQuery) match(e *domain.LedgerEntry) bool {
	if q.MemberID != "" && e.MemberID != q.MemberID {
		return false
	}
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if q.Reference != "" && e.Reference != q.Reference {
		return false
	}
	return inRange(e.CreatedAt, q.From, q.To)
}

// TeamQuery selects a member's downline through ancestor edges. MaxLevel 0
// means domain.MaxLevel; Level restricts to one level.
type TeamQuery struct {
	MaxLevel int
	Level    int
	Limit    int
	Offset   int
}

func (q TeamQuery) match(e *domain.AncestorEdge) bool {
	max := q.MaxLevel
	if max <= 0 {
		max = domain.MaxLevel
	}
	if e.Level > max {
		return false
	}
	return q.Level == 0 || e.Level == q.Level
}

type TeamMember struct {
	Edge   domain.AncestorEdge `json:"edge"`
	Member domain.Member       `json:"member"`
}

type WithdrawalQuery struct {
	MemberID string
	Status   domain.WithdrawalStatus
	Method   domain.Method
	Limit    int
	Offset   int
}

func (q WithdrawalQuery) match(w *domain.Withdrawal) bool {
	if q.MemberID != "" && w.MemberID != q.MemberID {
		return false
	}
	if q.Status != "" && w.Status != q.Status {
		return false
	}
	return q.Method == "" || w.Method == q.Method
}

// CategorySum aggregates completed entries of one category and level.
type CategorySum struct {
	Category domain.Category `json:"category"`
	Level    int             `json:"level,omitempty"`
	Count    int             `json:"count"`
	Total    int64           `json:"total"`
}

// inRange treats zero bounds as open; to is exclusive.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	return to.IsZero() || t.Before(to)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
