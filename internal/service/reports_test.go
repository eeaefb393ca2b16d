package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRequest(t *testing.T) {
	tests := []struct {
		page, limit                   int
		wantPage, wantLimit, wantSkip int
	}{
		{0, 0, 1, 20, 0},
		{2, 10, 2, 10, 10},
		{3, 500, 3, 100, 200},
		{-1, -1, 1, 20, 0},
		{math.MaxInt, 100, maxPage, 100, (maxPage - 1) * 100},
	}
	for _, tt := range tests {
		page, limit, offset := PageRequest(tt.page, tt.limit)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantSkip, offset)
	}
}

func TestReportsEntries(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := te.Investments.Invest(ctx, InvestmentRequest{MemberID: "B", Amount: 1000})
		require.NoError(t, err)
	}
	te.fund(t, "A", 10)

	page, err := te.Reports.Entries(ctx, "A", EntryFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Page)

	page, err = te.Reports.Entries(ctx, "A", EntryFilter{Page: math.MaxInt, Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 6, page.Total)

	page, err = te.Reports.Entries(ctx, "A", EntryFilter{Category: domain.CategoryDirectReferral})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	for i := 1; i < len(page.Items); i++ {
		assert.False(t, page.Items[i].CreatedAt.After(page.Items[i-1].CreatedAt), "newest first")
	}

	_, err = te.Reports.Entries(ctx, "A", EntryFilter{Category: "BOGUS"})
	require.ErrorIs(t, err, domain.ErrInvalidCategory)
	_, err = te.Reports.Entries(ctx, "nobody", EntryFilter{})
	require.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestReportsIncomeSummary(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B", "C")
	ctx := context.Background()

	_, err := te.Investments.Invest(ctx, InvestmentRequest{MemberID: "C", Amount: 1000})
	require.NoError(t, err)
	cut := time.Unix(0, te.clock.Load()).UTC().Add(time.Nanosecond)
	_, err = te.Investments.Invest(ctx, InvestmentRequest{MemberID: "B", Amount: 2000})
	require.NoError(t, err)

	wd := request(t, te, "A", 100)
	_, err = te.Withdrawals.Approve(ctx, wd.ID, "mod-1", "")
	require.NoError(t, err)
	_, err = te.Withdrawals.Complete(ctx, wd.ID, "mod-1", "ref", "")
	require.NoError(t, err)

	sum, err := te.Reports.IncomeSummary(ctx, "A", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(250), sum.Total)
	assert.Equal(t, 2, sum.Count)
	assert.Len(t, sum.Categories, 2)
	assert.Nil(t, sum.From)

	sum, err = te.Reports.IncomeSummary(ctx, "A", cut, time.Time{})
	require.NoError(t, err)
	require.Len(t, sum.Categories, 1)
	assert.Equal(t, domain.CategoryDirectReferral, sum.Categories[0].Category)
	assert.Equal(t, int64(200), sum.Total)
	require.NotNil(t, sum.From)

	sum, err = te.Reports.IncomeSummary(ctx, "A", time.Time{}, cut)
	require.NoError(t, err)
	require.Len(t, sum.Categories, 1)
	assert.Equal(t, domain.CategoryLevel2Commission, sum.Categories[0].Category)
	assert.Equal(t, 2, sum.Categories[0].Level)
	assert.Equal(t, int64(50), sum.Total)
}

func TestReportsTeamTree(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "R", "A1", "B1", "C1", "D1", "E1")
	te.register(t, "A2", "R")
	te.register(t, "B2", "A1")
	ctx := context.Background()
	_, err := te.Onboarding.SetStatus(ctx, "A2", domain.StatusInactive)
	require.NoError(t, err)
	_, err = te.Investments.Invest(ctx, InvestmentRequest{MemberID: "B2", Amount: 400})
	require.NoError(t, err)

	tree, err := te.Reports.Team(ctx, "R", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxLevel, tree.Depth)
	assert.Equal(t, 6, tree.Size, "E1 is five levels down")
	require.Len(t, tree.Root.Children, 2)
	assert.Equal(t, "A1", tree.Root.Children[0].Member.ID)
	assert.Equal(t, "A2", tree.Root.Children[1].Member.ID)
	require.Len(t, tree.Root.Children[0].Children, 2)
	assert.Equal(t, 2, tree.Root.Children[0].Children[0].Level)

	require.Len(t, tree.Levels, domain.MaxLevel)
	assert.Equal(t, LevelStats{Level: 1, Members: 2, Active: 1, Investment: 0, TeamBusiness: 400}, tree.Levels[0])
	assert.Equal(t, 2, tree.Levels[1].Members)
	assert.Equal(t, int64(400), tree.Levels[1].Investment)
	assert.Equal(t, int64(400), tree.Levels[1].TeamBusiness)

	shallow, err := te.Reports.Team(ctx, "R", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, shallow.Size)
	assert.Empty(t, shallow.Root.Children[0].Children)
}

func TestReportsProjection(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B", "C")
	ctx := context.Background()
	_, err := te.Investments.Invest(ctx, InvestmentRequest{MemberID: "B", Amount: 1000})
	require.NoError(t, err)
	_, err = te.Investments.Invest(ctx, InvestmentRequest{MemberID: "C", Amount: 3000})
	require.NoError(t, err)

	p, err := te.Reports.Projection(ctx, "A")
	require.NoError(t, err)
	require.Len(t, p.Levels, domain.MaxLevel)
	assert.Equal(t, int64(1000), p.Levels[0].TeamInvestment)
	assert.Equal(t, int64(100), p.Levels[0].Projected)
	assert.Equal(t, int64(3000), p.Levels[1].TeamInvestment)
	assert.Equal(t, int64(150), p.Levels[1].Projected)
	assert.Equal(t, int64(250), p.Total)
	assert.Equal(t, te.wallet(t, "A").TotalEarnings, p.Total)
}

func TestReportsWithdrawals(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D")
	te.fund(t, "D", 1000)
	ctx := context.Background()

	first := request(t, te, "D", 100)
	request(t, te, "D", 200)
	_, err := te.Withdrawals.Reject(ctx, first.ID, "mod-1", "duplicate", "")
	require.NoError(t, err)

	page, err := te.Reports.Withdrawals(ctx, "D", WithdrawalFilter{Status: domain.WithdrawalPending})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, int64(200), page.Items[0].Amount)
	assert.Equal(t, int64(10), page.Items[0].Fee)

	all, err := te.Reports.Withdrawals(ctx, "", WithdrawalFilter{Method: domain.MethodBankTransfer})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)

	_, err = te.Reports.Withdrawals(ctx, "", WithdrawalFilter{Status: "LOST"})
	require.ErrorIs(t, err, domain.ErrValidationFailed)

	stats, err := te.Reports.WithdrawalStats(ctx, "D")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, domain.WithdrawalPending, stats[0].Status)
	assert.Equal(t, int64(200), stats[0].TotalAmount)
	assert.Equal(t, int64(190), stats[0].TotalNetAmount)
	assert.Equal(t, domain.WithdrawalRejected, stats[1].Status)
	assert.Equal(t, 1, stats[1].Count)

	_, err = te.Reports.WithdrawalStats(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestReportsEdgesLevelFilter(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "A", "B", "C")
	ctx := context.Background()

	page, err := te.Reports.Edges(ctx, "A", 0, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = te.Reports.Edges(ctx, "A", 2, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "C", page.Items[0].Member.ID)

	_, err = te.Reports.Edges(ctx, "A", 5, 1, 10)
	require.ErrorIs(t, err, domain.ErrValidationFailed)
}
