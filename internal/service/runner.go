package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/punchamoorthee/refledger/internal/config"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// TxRunner executes a unit of work in a store transaction, retrying
// transient failures with exponential backoff.
type TxRunner struct {
	store      store.Store
	logger     *zap.Logger
	maxRetries int
	initial    time.Duration
	max        time.Duration
}

func NewTxRunner(s store.Store, cfg config.TxConfig, logger *zap.Logger) *TxRunner {
	r := &TxRunner{
		store:      s,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		initial:    cfg.InitialBackoff,
		max:        cfg.MaxBackoff,
	}
	if r.initial <= 0 {
		r.initial = 20 * time.Millisecond
	}
	if r.max < r.initial {
		r.max = r.initial
	}
	return r
}

// Run calls fn inside a transaction. Business errors return as they are.
// Any other failure, including a transient one that outlived the retry
// budget, is returned wrapped in domain.ErrStorageUnavailable.
func (r *TxRunner) Run(ctx context.Context, op string, fn func(store.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.max
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	attempt := func() error {
		err := r.store.InTx(ctx, fn)
		if err == nil || store.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		txRetries.WithLabelValues(op).Inc()
		r.logger.Warn("transaction retry",
			zap.String("op", op),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx), notify)
	switch {
	case err == nil:
		return nil
	case domain.IsBusinessError(err):
		return err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	}

	txUnavailable.WithLabelValues(op).Inc()
	r.logger.Error("storage unavailable", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}
