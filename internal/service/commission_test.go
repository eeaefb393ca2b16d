package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDistributePaysTwoLevels(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B", "C")

	posted := testutil.ToFloat64(commissionPosted.WithLabelValues("1"))
	entries, err := te.Commission.Distribute(context.Background(), "C", 1000, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "B", entries[0].MemberID)
	assert.Equal(t, domain.CategoryDirectReferral, entries[0].Category)
	assert.Equal(t, int64(100), entries[0].Amount)
	assert.Equal(t, "C", entries[0].SourceMemberID)
	assert.Equal(t, 1, entries[0].Level)
	require.NotNil(t, entries[0].Rate)
	assert.True(t, entries[0].Rate.Equal(dec(10)))

	assert.Equal(t, "A", entries[1].MemberID)
	assert.Equal(t, domain.CategoryLevel2Commission, entries[1].Category)
	assert.Equal(t, int64(50), entries[1].Amount)

	b, a := te.wallet(t, "B"), te.wallet(t, "A")
	assert.Equal(t, int64(100), b.Buckets.DirectReferral)
	assert.Equal(t, int64(100), b.TotalEarnings)
	assert.Equal(t, int64(50), a.Buckets.Level2)
	assert.Equal(t, int64(50), a.TotalEarnings)
	assert.Equal(t, int64(100), te.member(t, "B").TotalEarnings)
	assert.Equal(t, int64(50), te.member(t, "A").TotalEarnings)
	assert.Zero(t, te.wallet(t, "C").TotalEarnings)
	assert.Equal(t, posted+1, testutil.ToFloat64(commissionPosted.WithLabelValues("1")))
}

func TestDistributeStaysWithinRateBound(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "M1", "M2", "M3", "M4", "M5", "M6")

	const amount = 12345
	entries, err := te.Commission.Distribute(context.Background(), "M6", amount, nil)
	require.NoError(t, err)
	require.Len(t, entries, domain.MaxLevel)

	var total int64
	for i, e := range entries {
		assert.Equal(t, i+1, e.Level)
		total += e.Amount
	}
	bound := domain.PercentOf(amount, testLedgerConfig().CommissionRates.Sum())
	assert.LessOrEqual(t, total, bound)
	assert.Equal(t, []int64{1234, 617, 370, 123}, []int64{entries[0].Amount, entries[1].Amount, entries[2].Amount, entries[3].Amount})
	assert.Zero(t, te.wallet(t, "M1").TotalEarnings, "M1 is beyond level 4")
}

func TestDistributeForfeitsInactiveLevel(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B", "C")
	ctx := context.Background()
	_, err := te.Onboarding.SetStatus(ctx, "B", domain.StatusSuspended)
	require.NoError(t, err)

	forfeited := testutil.ToFloat64(commissionForfeited.WithLabelValues("1"))
	entries, err := te.Commission.Distribute(ctx, "C", 1000, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].MemberID)
	assert.Equal(t, int64(50), entries[0].Amount, "level 2 keeps its own rate")

	assert.Zero(t, te.wallet(t, "B").TotalEarnings)
	assert.Equal(t, forfeited+1, testutil.ToFloat64(commissionForfeited.WithLabelValues("1")))
}

func TestDistributeRateOverride(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B", "C")

	entries, err := te.Commission.Distribute(context.Background(), "C", 1000, domain.RateTable{1: dec(20)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(200), entries[0].Amount)
	assert.Zero(t, te.wallet(t, "A").TotalEarnings)
}

func TestDistributeRejects(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B")
	ctx := context.Background()

	_, err := te.Commission.Distribute(ctx, "B", 0, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = te.Commission.Distribute(ctx, "nobody", 100, nil)
	require.ErrorIs(t, err, domain.ErrMemberNotFound)

	entries, err := te.Commission.Distribute(ctx, "A", 100, nil)
	require.NoError(t, err)
	assert.Empty(t, entries, "a root has no sponsors")
}

func TestDistributeRejectsInvalidRates(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B")
	ctx := context.Background()

	for _, rates := range []domain.RateTable{{1: dec(150)}, {5: dec(1)}, {1: dec(-1)}} {
		_, err := te.Commission.Distribute(ctx, "B", 1000, rates)
		require.ErrorIs(t, err, domain.ErrValidationFailed)
	}
	assert.Zero(t, te.wallet(t, "A").TotalEarnings)
}

// abortingStore runs each transaction body and then discards it with a
// conflict, failures times, before letting one commit.
type abortingStore struct {
	store.Store
	failures int
}

func (s *abortingStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if s.failures > 0 {
			s.failures--
			return store.ErrConflict
		}
		return nil
	})
}

func TestCommissionMetricsCountCommittedWorkOnly(t *testing.T) {
	mem := store.NewMemoryStore(time.Second)
	t.Cleanup(mem.Close)
	plain := NewEngine(mem, testTxConfig(), testLedgerConfig(), zap.NewNop())
	ctx := context.Background()
	for _, r := range []RegisterRequest{{MemberID: "A"}, {MemberID: "B", SponsorID: "A"}, {MemberID: "C", SponsorID: "B"}} {
		_, err := plain.Onboarding.Register(ctx, r)
		require.NoError(t, err)
	}

	retried := NewEngine(&abortingStore{Store: mem, failures: 2}, testTxConfig(), testLedgerConfig(), zap.NewNop())
	posted := testutil.ToFloat64(commissionPosted.WithLabelValues("1"))
	amount := testutil.ToFloat64(commissionAmount.WithLabelValues("1"))

	entries, err := retried.Commission.Distribute(ctx, "C", 1000, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, posted+1, testutil.ToFloat64(commissionPosted.WithLabelValues("1")))
	assert.Equal(t, amount+100, testutil.ToFloat64(commissionAmount.WithLabelValues("1")))

	w, err := plain.Reports.Wallet(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.Buckets.DirectReferral)
}

func TestCommissionMetricsSkipRolledBackInvestment(t *testing.T) {
	mem := store.NewMemoryStore(time.Second)
	t.Cleanup(mem.Close)
	plain := NewEngine(mem, testTxConfig(), testLedgerConfig(), zap.NewNop())
	ctx := context.Background()
	sponsor := ""
	for _, id := range []string{"M1", "M2", "M3", "M4", "M5", "M6"} {
		_, err := plain.Onboarding.Register(ctx, RegisterRequest{MemberID: id, SponsorID: sponsor})
		require.NoError(t, err)
		sponsor = id
	}

	// Commission reaches M2 before the upline walk meets the loop at M1.
	cyclic := NewEngine(&cyclicStore{Store: mem, sponsors: map[string]string{"M1": "M5"}}, testTxConfig(), testLedgerConfig(), zap.NewNop())
	posted := testutil.ToFloat64(commissionPosted.WithLabelValues("1"))

	_, err := cyclic.Investments.Invest(ctx, InvestmentRequest{MemberID: "M6", Amount: 1000})
	require.ErrorIs(t, err, domain.ErrCycleDetected)
	assert.Equal(t, posted, testutil.ToFloat64(commissionPosted.WithLabelValues("1")))

	w, err := plain.Reports.Wallet(ctx, "M5")
	require.NoError(t, err)
	assert.Zero(t, w.TotalEarnings)
}
