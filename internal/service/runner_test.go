package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/punchamoorthee/refledger/internal/config"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyStore fails the first failures transactions with err.
type flakyStore struct {
	failures int
	err      error
	calls    int
}

func (s *flakyStore) InTx(_ context.Context, fn func(store.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	return fn(nil)
}

func (s *flakyStore) Close() {}

func runnerFor(s store.Store, retries int) *TxRunner {
	return NewTxRunner(s, testTxConfigWith(retries), zap.NewNop())
}

func testTxConfigWith(retries int) config.TxConfig {
	cfg := testTxConfig()
	cfg.MaxRetries = retries
	return cfg
}

func TestRunnerRetriesConflicts(t *testing.T) {
	s := &flakyStore{failures: 2, err: store.ErrConflict}
	retries := testutil.ToFloat64(txRetries.WithLabelValues("retry_ok"))

	err := runnerFor(s, 3).Run(context.Background(), "retry_ok", func(store.Tx) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, retries+2, testutil.ToFloat64(txRetries.WithLabelValues("retry_ok")))
}

func TestRunnerExhaustionIsStorageUnavailable(t *testing.T) {
	s := &flakyStore{failures: 100, err: store.ErrConflict}
	unavailable := testutil.ToFloat64(txUnavailable.WithLabelValues("exhaust"))

	err := runnerFor(s, 2).Run(context.Background(), "exhaust", func(store.Tx) error { return nil })
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, unavailable+1, testutil.ToFloat64(txUnavailable.WithLabelValues("exhaust")))
}

func TestRunnerDoesNotRetryPermanentErrors(t *testing.T) {
	boom := errors.New("connection refused")
	s := &flakyStore{failures: 100, err: boom}

	err := runnerFor(s, 5).Run(context.Background(), "permanent", func(store.Tx) error { return nil })
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.calls)
}

func TestRunnerPassesBusinessErrors(t *testing.T) {
	s := &flakyStore{}
	want := &domain.LedgerError{Code: domain.InsufficientFunds, MemberID: "A", Amount: 10}

	err := runnerFor(s, 5).Run(context.Background(), "business", func(store.Tx) error { return want })
	assert.Same(t, want, err)
	assert.Equal(t, 1, s.calls)
}

func TestRunnerHonoursContext(t *testing.T) {
	s := &flakyStore{failures: 100, err: store.ErrConflict}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := NewTxRunner(s, config.TxConfig{MaxRetries: 1000, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond}, zap.NewNop())
	err := r.Run(ctx, "ctx", func(store.Tx) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrStorageUnavailable))
	assert.Less(t, s.calls, 1000)
}
