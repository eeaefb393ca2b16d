package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refledger/internal/config"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// base is shared by every component of one Engine.
type base struct {
	tx     *TxRunner
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Engine wires the referral ledger components over one store.
type Engine struct {
	Graph       *Graph
	Ledger      *Ledger
	Commission  *Distributor
	Rewards     *RewardEvaluator
	Withdrawals *WithdrawalWorkflow
	Investments *InvestmentService
	Onboarding  *Onboarding
	Reports     *Reports

	base *base
}

func NewEngine(s store.Store, txCfg config.TxConfig, ledgerCfg config.LedgerConfig, logger *zap.Logger) *Engine {
	b := &base{
		tx:     NewTxRunner(s, txCfg, logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}

	e := &Engine{base: b}
	e.Graph = &Graph{base: b, maxHops: maxChainHops}
	e.Ledger = &Ledger{base: b}
	e.Commission = &Distributor{base: b, ledger: e.Ledger, rates: ledgerCfg.CommissionRates}
	e.Rewards = &RewardEvaluator{
		base:      b,
		ledger:    e.Ledger,
		threshold: ledgerCfg.RewardThreshold,
		amount:    ledgerCfg.RewardAmount,
	}
	e.Withdrawals = &WithdrawalWorkflow{
		base:       b,
		ledger:     e.Ledger,
		minAmount:  ledgerCfg.MinWithdrawal,
		feePercent: ledgerCfg.WithdrawalFeePercent,
	}
	e.Investments = &InvestmentService{
		base:        b,
		graph:       e.Graph,
		distributor: e.Commission,
		rewards:     e.Rewards,
	}
	e.Onboarding = &Onboarding{base: b, graph: e.Graph, ledger: e.Ledger, signupBonus: ledgerCfg.SignupBonus}
	e.Reports = &Reports{base: b, rates: ledgerCfg.CommissionRates}
	return e
}

// SetClock replaces the time source of every component.
func (e *Engine) SetClock(now func() time.Time) {
	e.base.now = now
}
