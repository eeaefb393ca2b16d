package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxLevel is the deepest sponsor level that earns commission and carries an ancestor edge.
const MaxLevel = 4

// MemberStatus controls commission eligibility.
type MemberStatus string

const (
	StatusActive    MemberStatus = "ACTIVE"
	StatusInactive  MemberStatus = "INACTIVE"
	StatusSuspended MemberStatus = "SUSPENDED"
)

func (s MemberStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// Member is a node of the referral graph. SponsorID is empty for roots and
// never changes once set.
type Member struct {
	ID               string       `json:"id"`
	ReferralCode     string       `json:"referral_code"`
	SponsorID        string       `json:"sponsor_id,omitempty"`
	Status           MemberStatus `json:"status"`
	DirectReferrals  int          `json:"direct_referrals"`
	TeamSize         int          `json:"team_size"`
	TeamBusiness     int64        `json:"team_business"`
	TotalInvestment  int64        `json:"total_investment"`
	TotalEarnings    int64        `json:"total_earnings"`
	TotalWithdrawals int64        `json:"total_withdrawals"`
	JoinedAt         time.Time    `json:"joined_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// AncestorEdge links a member to one of its first MaxLevel sponsors.
// DirectBusiness counts the member's own investments; TeamBusiness counts
// investments of the member's downline that reached the ancestor through it.
type AncestorEdge struct {
	AncestorID     string    `json:"ancestor_id"`
	MemberID       string    `json:"member_id"`
	Level          int       `json:"level"`
	DirectBusiness int64     `json:"direct_business"`
	TeamBusiness   int64     `json:"team_business"`
	CreatedAt      time.Time `json:"created_at"`
}

// Category classifies a ledger entry and, for income, names the wallet bucket it lands in.
type Category string

const (
	CategorySignupBonus      Category = "SIGNUP_BONUS"
	CategoryDirectReferral   Category = "DIRECT_REFERRAL"
	CategoryLevel2Commission Category = "LEVEL2_COMMISSION"
	CategoryLevel3Commission Category = "LEVEL3_COMMISSION"
	CategoryLevel4Commission Category = "LEVEL4_COMMISSION"
	CategoryReward           Category = "REWARD"
	CategoryWithdrawal       Category = "WITHDRAWAL"
	CategoryBalanceLock      Category = "BALANCE_LOCK"
	CategoryBalanceUnlock    Category = "BALANCE_UNLOCK"
)

// CategoryForLevel returns the commission category for a sponsor level,
// or "" when the level is outside 1..MaxLevel.
func CategoryForLevel(level int) Category {
	switch level {
	case 1:
		return CategoryDirectReferral
	case 2:
		return CategoryLevel2Commission
	case 3:
		return CategoryLevel3Commission
	case 4:
		return CategoryLevel4Commission
	}
	return ""
}

// IsIncome reports whether entries of this category credit a wallet bucket.
func (c Category) IsIncome() bool {
	switch c {
	case CategorySignupBonus, CategoryDirectReferral, CategoryLevel2Commission,
		CategoryLevel3Commission, CategoryLevel4Commission, CategoryReward:
		return true
	}
	return false
}

func (c Category) Valid() bool {
	return c.IsIncome() || c == CategoryWithdrawal || c == CategoryBalanceLock || c == CategoryBalanceUnlock
}

type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryApproved  EntryStatus = "APPROVED"
	EntryCompleted EntryStatus = "COMPLETED"
	EntryRejected  EntryStatus = "REJECTED"
	EntryCancelled EntryStatus = "CANCELLED"
)

// LedgerEntry is the immutable record of one wallet mutation. Only the
// status of withdrawal-linked entries changes after insert.
type LedgerEntry struct {
	ID             int64            `json:"id"`
	MemberID       string           `json:"member_id"`
	SourceMemberID string           `json:"source_member_id,omitempty"`
	Category       Category         `json:"category"`
	Amount         int64            `json:"amount"`
	Level          int              `json:"level,omitempty"`
	Rate           *decimal.Decimal `json:"rate,omitempty"`
	Status         EntryStatus      `json:"status"`
	Reference      string           `json:"reference,omitempty"`
	Description    string           `json:"description,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Investment is the record of one investment event. RequestHash identifies
// the payload a replayed IdempotencyKey must match.
type Investment struct {
	ID              string    `json:"id"`
	MemberID        string    `json:"member_id"`
	Amount          int64     `json:"amount"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty"`
	RequestHash     string    `json:"-"`
	CommissionTotal int64     `json:"commission_total"`
	CreatedAt       time.Time `json:"created_at"`
}
