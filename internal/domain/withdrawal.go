package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:    {WithdrawalProcessing, WithdrawalRejected},
	WithdrawalProcessing: {WithdrawalCompleted, WithdrawalRejected},
}

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalProcessing, WithdrawalCompleted, WithdrawalRejected:
		return true
	}
	return false
}

func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalRejected
}

func (s WithdrawalStatus) CanTransition(to WithdrawalStatus) bool {
	for _, next := range withdrawalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Method string

const (
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodUSDT         Method = "USDT"
	MethodCrypto       Method = "CRYPTO"
)

func (m Method) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodUSDT, MethodCrypto:
		return true
	}
	return false
}

// PaymentDetails carries the payout destination. Bank fields apply to
// BANK_TRANSFER, Address to USDT and CRYPTO.
type PaymentDetails struct {
	BankName          string `json:"bank_name,omitempty"`
	AccountNumber     string `json:"account_number,omitempty"`
	AccountHolderName string `json:"account_holder_name,omitempty"`
	IFSCCode          string `json:"ifsc_code,omitempty"`
	RoutingNumber     string `json:"routing_number,omitempty"`
	Address           string `json:"address,omitempty"`
	Network           string `json:"network,omitempty"`
}

// ValidateDetails checks that the details required by method are present.
func ValidateDetails(method Method, d PaymentDetails) error {
	var missing []string
	switch method {
	case MethodBankTransfer:
		if strings.TrimSpace(d.BankName) == "" {
			missing = append(missing, "bank_name")
		}
		if strings.TrimSpace(d.AccountNumber) == "" {
			missing = append(missing, "account_number")
		}
		if strings.TrimSpace(d.AccountHolderName) == "" {
			missing = append(missing, "account_holder_name")
		}
	case MethodUSDT, MethodCrypto:
		if strings.TrimSpace(d.Address) == "" {
			missing = append(missing, "address")
		}
	default:
		return ValidationError("unknown method %q", method)
	}
	if len(missing) > 0 {
		return ValidationError("%s requires %s", method, strings.Join(missing, ", "))
	}
	return nil
}

// Fee is the processing fee on a gross withdrawal amount.
func Fee(amount int64, feePercent decimal.Decimal) int64 {
	return PercentOf(amount, feePercent)
}

type Withdrawal struct {
	ID               string           `json:"id"`
	MemberID         string           `json:"member_id"`
	Amount           int64            `json:"amount"`
	Fee              int64            `json:"fee"`
	NetAmount        int64            `json:"net_amount"`
	Method           Method           `json:"method"`
	Details          PaymentDetails   `json:"details"`
	Status           WithdrawalStatus `json:"status"`
	ModeratorID      string           `json:"moderator_id,omitempty"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	AdminNotes       string           `json:"admin_notes,omitempty"`
	RequestedAt      time.Time        `json:"requested_at"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	RejectedAt       *time.Time       `json:"rejected_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Transition moves w to status `to`, or returns InvalidTransition without touching w.
func (w *Withdrawal) Transition(to WithdrawalStatus, at time.Time) error {
	if !w.Status.CanTransition(to) {
		return &WithdrawalError{Code: InvalidTransition, Reason: string(w.Status) + " -> " + string(to)}
	}
	w.Status = to
	w.UpdatedAt = at
	switch to {
	case WithdrawalProcessing:
		w.ProcessedAt = &at
	case WithdrawalCompleted:
		w.CompletedAt = &at
	case WithdrawalRejected:
		w.RejectedAt = &at
	}
	return nil
}

// WithdrawalStats aggregates a member's withdrawals for one status.
type WithdrawalStats struct {
	Status         WithdrawalStatus `json:"status"`
	Count          int              `json:"count"`
	TotalAmount    int64            `json:"total_amount"`
	TotalNetAmount int64            `json:"total_net_amount"`
}
