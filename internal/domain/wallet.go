package domain

import (
	"fmt"
	"time"
)

// Buckets splits lifetime earnings by income category.
type Buckets struct {
	SignupBonus    int64 `json:"signup_bonus"`
	DirectReferral int64 `json:"direct_referral"`
	Level2         int64 `json:"level2"`
	Level3         int64 `json:"level3"`
	Level4         int64 `json:"level4"`
	Reward         int64 `json:"reward"`
}

func (b Buckets) Total() int64 {
	return b.SignupBonus + b.DirectReferral + b.Level2 + b.Level3 + b.Level4 + b.Reward
}

func (b *Buckets) bucket(c Category) *int64 {
	switch c {
	case CategorySignupBonus:
		return &b.SignupBonus
	case CategoryDirectReferral:
		return &b.DirectReferral
	case CategoryLevel2Commission:
		return &b.Level2
	case CategoryLevel3Commission:
		return &b.Level3
	case CategoryLevel4Commission:
		return &b.Level4
	case CategoryReward:
		return &b.Reward
	}
	return nil
}

// Wallet holds the stored balance components of one member. The totals are
// derived and never stored independently of the components.
//
// Every mutating method checks its precondition first and leaves the wallet
// untouched when it returns an error.
type Wallet struct {
	MemberID           string    `json:"member_id"`
	Buckets            Buckets   `json:"buckets"`
	TotalWithdrawals   int64     `json:"total_withdrawals"`
	LockedBalance      int64     `json:"locked_balance"`
	PendingWithdrawals int64     `json:"pending_withdrawals"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func NewWallet(memberID string) *Wallet {
	return &Wallet{MemberID: memberID}
}

func (w *Wallet) TotalEarnings() int64 { return w.Buckets.Total() }

func (w *Wallet) TotalBalance() int64 { return w.TotalEarnings() - w.TotalWithdrawals }

func (w *Wallet) AvailableBalance() int64 {
	return w.TotalBalance() - w.LockedBalance - w.PendingWithdrawals
}

// Credit adds amount to the bucket of an income category.
func (w *Wallet) Credit(c Category, amount int64) error {
	if amount <= 0 {
		return &LedgerError{Code: InvalidAmount, MemberID: w.MemberID, Amount: amount}
	}
	b := w.Buckets.bucket(c)
	if b == nil {
		return &LedgerError{Code: InvalidCategory, MemberID: w.MemberID, Amount: amount}
	}
	*b += amount
	return nil
}

// Reserve moves amount from the available balance into pending withdrawals.
func (w *Wallet) Reserve(amount int64) error {
	if amount <= 0 {
		return &LedgerError{Code: InvalidAmount, MemberID: w.MemberID, Amount: amount}
	}
	if avail := w.AvailableBalance(); amount > avail {
		return &LedgerError{Code: InsufficientFunds, MemberID: w.MemberID, Amount: amount, Available: avail}
	}
	w.PendingWithdrawals += amount
	return nil
}

// Finalize turns a reserved amount into a completed withdrawal.
func (w *Wallet) Finalize(amount int64) error {
	if err := w.checkPending(amount); err != nil {
		return err
	}
	w.PendingWithdrawals -= amount
	w.TotalWithdrawals += amount
	return nil
}

// Release returns a reserved amount to the available balance.
func (w *Wallet) Release(amount int64) error {
	if err := w.checkPending(amount); err != nil {
		return err
	}
	w.PendingWithdrawals -= amount
	return nil
}

// Lock places a moderator hold on part of the available balance.
func (w *Wallet) Lock(amount int64) error {
	if amount <= 0 {
		return &LedgerError{Code: InvalidAmount, MemberID: w.MemberID, Amount: amount}
	}
	if avail := w.AvailableBalance(); amount > avail {
		return &LedgerError{Code: InsufficientFunds, MemberID: w.MemberID, Amount: amount, Available: avail}
	}
	w.LockedBalance += amount
	return nil
}

func (w *Wallet) Unlock(amount int64) error {
	if amount <= 0 {
		return &LedgerError{Code: InvalidAmount, MemberID: w.MemberID, Amount: amount}
	}
	if amount > w.LockedBalance {
		return &LedgerError{Code: ReserveMismatch, MemberID: w.MemberID, Amount: amount, Available: w.LockedBalance}
	}
	w.LockedBalance -= amount
	return nil
}

func (w *Wallet) checkPending(amount int64) error {
	if amount <= 0 {
		return &LedgerError{Code: InvalidAmount, MemberID: w.MemberID, Amount: amount}
	}
	if amount > w.PendingWithdrawals {
		return &LedgerError{Code: ReserveMismatch, MemberID: w.MemberID, Amount: amount, Available: w.PendingWithdrawals}
	}
	return nil
}

// Validate checks the stored components against the balance invariants.
func (w *Wallet) Validate() error {
	if w.TotalWithdrawals < 0 || w.LockedBalance < 0 || w.PendingWithdrawals < 0 {
		return fmt.Errorf("wallet %s: negative component", w.MemberID)
	}
	if avail := w.AvailableBalance(); avail < 0 {
		return fmt.Errorf("wallet %s: available balance %d below zero", w.MemberID, avail)
	}
	return nil
}

// WalletSnapshot is the read model of a wallet with its derived totals.
type WalletSnapshot struct {
	Wallet
	TotalEarnings    int64 `json:"total_earnings"`
	TotalBalance     int64 `json:"total_balance"`
	AvailableBalance int64 `json:"available_balance"`
}

func (w *Wallet) Snapshot() WalletSnapshot {
	return WalletSnapshot{
		Wallet:           *w,
		TotalEarnings:    w.TotalEarnings(),
		TotalBalance:     w.TotalBalance(),
		AvailableBalance: w.AvailableBalance(),
	}
}
