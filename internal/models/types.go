package models

import (
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/shopspring/decimal"
)

// RegisterMemberRequest is the payload of POST /members. SponsorCode takes
// precedence over SponsorID when both are given.
type RegisterMemberRequest struct {
	MemberID    string `json:"member_id,omitempty"`
	SponsorID   string `json:"sponsor_id,omitempty"`
	SponsorCode string `json:"sponsor_code,omitempty"`
}

type SetStatusRequest struct {
	Status domain.MemberStatus `json:"status"`
}

// BalanceHoldRequest locks or unlocks part of a member's available balance.
type BalanceHoldRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

// InvestmentRequest is the payload of POST /investments. Rates optionally
// overrides the configured commission table, keyed by level.
type InvestmentRequest struct {
	MemberID string                  `json:"member_id"`
	Amount   int64                   `json:"amount"`
	Rates    map[int]decimal.Decimal `json:"rates,omitempty"`
}

type WithdrawalRequest struct {
	MemberID string                `json:"member_id"`
	Amount   int64                 `json:"amount"`
	Method   domain.Method         `json:"method"`
	Details  domain.PaymentDetails `json:"details"`
}

// ModerationRequest carries the moderator fields of approve, complete and reject.
type ModerationRequest struct {
	ModeratorID      string `json:"moderator_id"`
	Notes            string `json:"notes,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

type CancelWithdrawalRequest struct {
	MemberID string `json:"member_id"`
}

// ErrorResponse is the body of every failed request. Code is set for rule
// violations the client can branch on.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}
