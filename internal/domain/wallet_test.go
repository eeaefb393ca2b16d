package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletCreditBuckets(t *testing.T) {
	w := NewWallet("m1")
	require.NoError(t, w.Credit(CategorySignupBonus, 1000))
	require.NoError(t, w.Credit(CategoryDirectReferral, 10000))
	require.NoError(t, w.Credit(CategoryLevel2Commission, 5000))
	require.NoError(t, w.Credit(CategoryLevel3Commission, 3000))
	require.NoError(t, w.Credit(CategoryLevel4Commission, 1000))
	require.NoError(t, w.Credit(CategoryReward, 50000))

	assert.Equal(t, int64(70000), w.TotalEarnings())
	assert.Equal(t, w.Buckets.Total(), w.TotalEarnings())
	assert.Equal(t, int64(70000), w.AvailableBalance())
	assert.Equal(t, int64(10000), w.Buckets.DirectReferral)
}

func TestWalletCreditRejects(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		amount   int64
		want     error
	}{
		{"zero", CategoryReward, 0, ErrInvalidAmount},
		{"negative", CategoryReward, -5, ErrInvalidAmount},
		{"withdrawal category", CategoryWithdrawal, 100, ErrInvalidCategory},
		{"unknown category", Category("BONUS"), 100, ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWallet("m1")
			err := w.Credit(tt.category, tt.amount)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, w.TotalEarnings())
		})
	}
}

func TestWalletReserveFinalize(t *testing.T) {
	w := NewWallet("m1")
	require.NoError(t, w.Credit(CategoryDirectReferral, 20000))

	require.NoError(t, w.Reserve(10000))
	assert.Equal(t, int64(10000), w.PendingWithdrawals)
	assert.Equal(t, int64(10000), w.AvailableBalance())
	assert.Equal(t, int64(20000), w.TotalBalance())

	require.NoError(t, w.Finalize(10000))
	assert.Zero(t, w.PendingWithdrawals)
	assert.Equal(t, int64(10000), w.TotalWithdrawals)
	assert.Equal(t, int64(10000), w.TotalBalance())
	assert.Equal(t, int64(10000), w.AvailableBalance())
}

func TestWalletReserveInsufficientLeavesWalletUntouched(t *testing.T) {
	w := NewWallet("m1")
	require.NoError(t, w.Credit(CategoryDirectReferral, 20000))
	before := *w

	err := w.Reserve(25000)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var le *LedgerError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, int64(20000), le.Available)
	assert.Equal(t, before, *w)
}

func TestWalletReleaseAndMismatch(t *testing.T) {
	w := NewWallet("m1")
	require.NoError(t, w.Credit(CategoryReward, 10000))
	require.NoError(t, w.Reserve(6000))

	require.ErrorIs(t, w.Finalize(7000), ErrReserveMismatch)
	require.ErrorIs(t, w.Release(7000), ErrReserveMismatch)
	assert.Equal(t, int64(6000), w.PendingWithdrawals)

	require.NoError(t, w.Release(6000))
	assert.Zero(t, w.PendingWithdrawals)
	assert.Equal(t, int64(10000), w.AvailableBalance())
	assert.Zero(t, w.TotalWithdrawals)
}

func TestWalletLockUnlock(t *testing.T) {
	w := NewWallet("m1")
	require.NoError(t, w.Credit(CategoryReward, 10000))
	require.NoError(t, w.Reserve(4000))

	require.ErrorIs(t, w.Lock(7000), ErrInsufficientFunds)
	require.NoError(t, w.Lock(6000))
	assert.Zero(t, w.AvailableBalance())
	require.ErrorIs(t, w.Reserve(1), ErrInsufficientFunds)

	require.ErrorIs(t, w.Unlock(6001), ErrReserveMismatch)
	require.NoError(t, w.Unlock(6000))
	assert.Equal(t, int64(6000), w.AvailableBalance())
	require.NoError(t, w.Validate())
}

func TestWalletValidate(t *testing.T) {
	w := &Wallet{MemberID: "m1", Buckets: Buckets{Reward: 100}, PendingWithdrawals: 150}
	require.Error(t, w.Validate())

	w.PendingWithdrawals = 100
	require.NoError(t, w.Validate())
}

func TestWalletSnapshot(t *testing.T) {
	w := NewWallet("m1")
	require.NoError(t, w.Credit(CategoryLevel2Commission, 900))
	require.NoError(t, w.Reserve(300))

	s := w.Snapshot()
	assert.Equal(t, int64(900), s.TotalEarnings)
	assert.Equal(t, int64(900), s.TotalBalance)
	assert.Equal(t, int64(600), s.AvailableBalance)
	assert.Equal(t, "m1", s.MemberID)
}
