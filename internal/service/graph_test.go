package service

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildAncestryCreatesEdgesAndTeamCounts(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B")

	reg := te.register(t, "C", "B")
	require.Len(t, reg.Edges, 2)
	assert.Equal(t, "B", reg.Edges[0].AncestorID)
	assert.Equal(t, 1, reg.Edges[0].Level)
	assert.Equal(t, "A", reg.Edges[1].AncestorID)
	assert.Equal(t, 2, reg.Edges[1].Level)

	a, b := te.member(t, "A"), te.member(t, "B")
	assert.Equal(t, 2, a.TeamSize)
	assert.Equal(t, 1, a.DirectReferrals)
	assert.Equal(t, 1, b.TeamSize)
	assert.Equal(t, 1, b.DirectReferrals)
}

func TestBuildAncestryCapsAtMaxLevel(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "M1", "M2", "M3", "M4", "M5")

	reg := te.register(t, "M6", "M5")
	require.Len(t, reg.Edges, domain.MaxLevel)
	assert.Equal(t, "M2", reg.Edges[3].AncestorID)
	assert.Equal(t, 4, te.member(t, "M1").TeamSize, "M1 is five levels above M6")
}

func TestBuildAncestryRejectsRelink(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B")
	ctx := context.Background()

	_, err := te.Graph.BuildAncestry(ctx, "B", "A")
	require.ErrorIs(t, err, domain.ErrAlreadyLinked)

	_, err = te.Graph.BuildAncestry(ctx, "B", "X")
	require.ErrorIs(t, err, domain.ErrSponsorMismatch)

	_, err = te.Graph.BuildAncestry(ctx, "nobody", "A")
	require.ErrorIs(t, err, domain.ErrMemberNotFound)

	assert.Equal(t, 1, te.member(t, "A").TeamSize)
}

func TestRecordBusinessVolumeUnboundedDepth(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "M1", "M2", "M3", "M4", "M5", "M6")
	ctx := context.Background()

	touched, err := te.Graph.RecordBusinessVolume(ctx, "M6", 700)
	require.NoError(t, err)
	assert.Equal(t, []string{"M5", "M4", "M3", "M2", "M1"}, touched)
	for _, id := range touched {
		assert.Equal(t, int64(700), te.member(t, id).TeamBusiness, id)
	}
	assert.Zero(t, te.member(t, "M6").TeamBusiness)

	team, err := te.Reports.Edges(ctx, "M5", 1, 1, 10)
	require.NoError(t, err)
	require.Len(t, team.Items, 1)
	assert.Equal(t, int64(700), team.Items[0].Edge.DirectBusiness)
	assert.Zero(t, team.Items[0].Edge.TeamBusiness)

	// M4's edge to M5 carries M6's volume as team business.
	team, err = te.Reports.Edges(ctx, "M4", 1, 1, 10)
	require.NoError(t, err)
	require.Len(t, team.Items, 1)
	assert.Equal(t, "M5", team.Items[0].Member.ID)
	assert.Zero(t, team.Items[0].Edge.DirectBusiness)
	assert.Equal(t, int64(700), team.Items[0].Edge.TeamBusiness)

	_, err = te.Graph.RecordBusinessVolume(ctx, "M6", 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestGraphWalksDetectCycles(t *testing.T) {
	mem := store.NewMemoryStore(time.Second)
	t.Cleanup(mem.Close)
	plain := NewEngine(mem, testTxConfig(), testLedgerConfig(), zap.NewNop())
	ctx := context.Background()
	for _, r := range []RegisterRequest{{MemberID: "A"}, {MemberID: "B", SponsorID: "A"}, {MemberID: "C", SponsorID: "B"}} {
		_, err := plain.Onboarding.Register(ctx, r)
		require.NoError(t, err)
	}

	cyclic := NewEngine(&cyclicStore{Store: mem, sponsors: map[string]string{"A": "C"}}, testTxConfig(), testLedgerConfig(), zap.NewNop())

	_, err := cyclic.Commission.Distribute(ctx, "C", 1000, nil)
	require.ErrorIs(t, err, domain.ErrCycleDetected)

	_, err = cyclic.Graph.RecordBusinessVolume(ctx, "C", 1000)
	require.ErrorIs(t, err, domain.ErrCycleDetected)

	_, err = cyclic.Investments.Invest(ctx, InvestmentRequest{MemberID: "C", Amount: 1000})
	require.ErrorIs(t, err, domain.ErrCycleDetected)

	// Nothing from the failed attempts is visible.
	for _, id := range []string{"A", "B", "C"} {
		w, err := plain.Reports.Wallet(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, w.TotalEarnings, id)
		m, err := plain.Reports.Member(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, m.TeamBusiness, id)
		assert.Zero(t, m.TotalInvestment, id)
	}
}

func TestBuildAncestryDetectsCycle(t *testing.T) {
	mem := store.NewMemoryStore(time.Second)
	t.Cleanup(mem.Close)
	plain := NewEngine(mem, testTxConfig(), testLedgerConfig(), zap.NewNop())
	ctx := context.Background()
	for _, r := range []RegisterRequest{{MemberID: "A"}, {MemberID: "B", SponsorID: "A"}, {MemberID: "C", SponsorID: "B"}} {
		_, err := plain.Onboarding.Register(ctx, r)
		require.NoError(t, err)
	}
	// D points at C but has no edges yet.
	err := mem.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertMember(ctx, &domain.Member{ID: "D", ReferralCode: "CODED", SponsorID: "C", Status: domain.StatusActive, JoinedAt: t0})
	})
	require.NoError(t, err)

	cyclic := NewEngine(&cyclicStore{Store: mem, sponsors: map[string]string{"A": "C"}}, testTxConfig(), testLedgerConfig(), zap.NewNop())
	_, err = cyclic.Graph.BuildAncestry(ctx, "D", "C")
	require.ErrorIs(t, err, domain.ErrCycleDetected)

	for id, want := range map[string]int{"A": 2, "B": 1, "C": 0} {
		m, err := plain.Reports.Member(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, m.TeamSize, id)
	}
	team, err := plain.Reports.Edges(ctx, "C", 0, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, team.Total)

	edges, err := plain.Graph.BuildAncestry(ctx, "D", "C")
	require.NoError(t, err)
	assert.Len(t, edges, 3)
}

func TestRecordBusinessVolumeHopBound(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "M1", "M2", "M3", "M4", "M5")
	ctx := context.Background()
	te.Graph.maxHops = 3

	_, err := te.Graph.RecordBusinessVolume(ctx, "M5", 100)
	require.ErrorIs(t, err, domain.ErrChainTooDeep)
	for _, id := range []string{"M1", "M2", "M3", "M4"} {
		assert.Zero(t, te.member(t, id).TeamBusiness, id)
	}

	_, err = te.Graph.RecordBusinessVolume(ctx, "M4", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), te.member(t, "M1").TeamBusiness)
}
