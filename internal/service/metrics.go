package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commissionPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commission_posted_total",
		Help: "Commission payouts credited, by sponsor level",
	}, []string{"level"})

	commissionAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commission_amount_total",
		Help: "Commission credited in minor units, by sponsor level",
	}, []string{"level"})

	commissionForfeited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commission_forfeited_total",
		Help: "Commission slots skipped because the sponsor was not active",
	}, []string{"level"})

	rewardsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_rewards_granted_total",
		Help: "Milestone rewards credited",
	})

	withdrawalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_withdrawal_transitions_total",
		Help: "Withdrawal requests entering each status",
	}, []string{"to"})

	txRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tx_retries_total",
		Help: "Transactions retried after a transient storage failure",
	}, []string{"op"})

	txUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tx_unavailable_total",
		Help: "Operations failed with storage unavailable",
	}, []string{"op"})
)

// txMetrics holds counter updates made inside a transaction attempt. They
// are published only after the transaction commits.
type txMetrics struct {
	pending []func()
}

func (m *txMetrics) add(fn func()) {
	m.pending = append(m.pending, fn)
}

func (m *txMetrics) publish() {
	for _, fn := range m.pending {
		fn()
	}
	m.pending = nil
}
