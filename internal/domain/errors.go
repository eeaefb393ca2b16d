package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMemberNotFound      = errors.New("member not found")
	ErrSponsorNotFound     = errors.New("sponsor not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrMemberExists        = errors.New("member already exists")
	ErrInvalidStatus       = errors.New("invalid member status")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")

	// ErrStorageUnavailable is returned once transient storage failures
	// have exhausted the retry budget.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type GraphErrorCode string

const (
	CycleDetected   GraphErrorCode = "cycle_detected"
	AlreadyLinked   GraphErrorCode = "already_linked"
	SponsorMismatch GraphErrorCode = "sponsor_mismatch"
	ChainTooDeep    GraphErrorCode = "chain_too_deep"
)

// GraphError reports a referral graph violation. Two GraphErrors match under
// errors.Is when their codes are equal.
type GraphError struct {
	Code     GraphErrorCode
	MemberID string
}

func (e *GraphError) Error() string {
	if e.MemberID == "" {
		return "graph: " + string(e.Code)
	}
	return fmt.Sprintf("graph: %s (member %s)", e.Code, e.MemberID)
}

func (e *GraphError) Is(target error) bool {
	t, ok := target.(*GraphError)
	return ok && t.Code == e.Code
}

var (
	ErrCycleDetected   = &GraphError{Code: CycleDetected}
	ErrAlreadyLinked   = &GraphError{Code: AlreadyLinked}
	ErrSponsorMismatch = &GraphError{Code: SponsorMismatch}
	ErrChainTooDeep    = &GraphError{Code: ChainTooDeep}
)

type LedgerErrorCode string

const (
	InvalidAmount     LedgerErrorCode = "invalid_amount"
	InvalidCategory   LedgerErrorCode = "invalid_category"
	InsufficientFunds LedgerErrorCode = "insufficient_funds"
	ReserveMismatch   LedgerErrorCode = "reserve_mismatch"
)

// LedgerError reports a rejected wallet mutation. Amount is the requested
// amount and Available the balance the check ran against.
type LedgerError struct {
	Code      LedgerErrorCode
	MemberID  string
	Amount    int64
	Available int64
}

func (e *LedgerError) Error() string {
	switch e.Code {
	case InsufficientFunds, ReserveMismatch:
		return fmt.Sprintf("ledger: %s (member %s, amount %d, available %d)", e.Code, e.MemberID, e.Amount, e.Available)
	}
	if e.MemberID == "" {
		return "ledger: " + string(e.Code)
	}
	return fmt.Sprintf("ledger: %s (member %s, amount %d)", e.Code, e.MemberID, e.Amount)
}

func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidAmount     = &LedgerError{Code: InvalidAmount}
	ErrInvalidCategory   = &LedgerError{Code: InvalidCategory}
	ErrInsufficientFunds = &LedgerError{Code: InsufficientFunds}
	ErrReserveMismatch   = &LedgerError{Code: ReserveMismatch}
)

type WithdrawalErrorCode string

const (
	WithdrawalInsufficientFunds WithdrawalErrorCode = "insufficient_funds"
	InvalidTransition           WithdrawalErrorCode = "invalid_transition"
	ValidationFailed            WithdrawalErrorCode = "validation_failed"
)

// WithdrawalError reports a rejected withdrawal operation. Err carries the
// underlying cause, such as the ledger error behind WithdrawalInsufficientFunds.
type WithdrawalError struct {
	Code   WithdrawalErrorCode
	Reason string
	Err    error
}

func (e *WithdrawalError) Error() string {
	msg := "withdrawal: " + string(e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WithdrawalError) Unwrap() error { return e.Err }

func (e *WithdrawalError) Is(target error) bool {
	t, ok := target.(*WithdrawalError)
	return ok && t.Code == e.Code
}

var (
	ErrWithdrawalInsufficientFunds = &WithdrawalError{Code: WithdrawalInsufficientFunds}
	ErrInvalidTransition           = &WithdrawalError{Code: InvalidTransition}
	ErrValidationFailed            = &WithdrawalError{Code: ValidationFailed}
)

// ValidationError builds a WithdrawalError with code ValidationFailed.
func ValidationError(format string, args ...any) error {
	return &WithdrawalError{Code: ValidationFailed, Reason: fmt.Sprintf(format, args...)}
}

var businessErrors = []error{
	ErrMemberNotFound, ErrSponsorNotFound, ErrWalletNotFound, ErrWithdrawalNotFound,
	ErrMemberExists, ErrInvalidStatus, ErrIdempotencyMismatch,
}

// IsBusinessError reports whether err is a rule violation the caller can act
// on, as opposed to an infrastructure failure.
func IsBusinessError(err error) bool {
	var ge *GraphError
	var le *LedgerError
	var we *WithdrawalError
	if errors.As(err, &ge) || errors.As(err, &le) || errors.As(err, &we) {
		return true
	}
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
