package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withdrawalEntry(t *testing.T, te *testEngine, memberID, reference string) domain.LedgerEntry {
	t.Helper()
	for _, e := range te.entries(t, memberID) {
		if e.Category == domain.CategoryWithdrawal && e.Reference == reference {
			return e
		}
	}
	t.Fatalf("no withdrawal entry for %s", reference)
	return domain.LedgerEntry{}
}

func request(t *testing.T, te *testEngine, memberID string, amount int64) *domain.Withdrawal {
	t.Helper()
	wd, err := te.Withdrawals.Request(context.Background(), WithdrawalInput{
		MemberID: memberID,
		Amount:   amount,
		Method:   domain.MethodBankTransfer,
		Details:  bankDetails(),
	})
	require.NoError(t, err)
	return wd
}

func TestWithdrawalInsufficientFundsCreatesNothing(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D")
	te.fund(t, "D", 200)
	ctx := context.Background()

	_, err := te.Withdrawals.Request(ctx, WithdrawalInput{MemberID: "D", Amount: 250, Method: domain.MethodBankTransfer, Details: bankDetails()})
	require.ErrorIs(t, err, domain.ErrWithdrawalInsufficientFunds)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	page, err := te.Reports.Withdrawals(ctx, "D", WithdrawalFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	w := te.wallet(t, "D")
	assert.Equal(t, int64(200), w.AvailableBalance)
	assert.Zero(t, w.PendingWithdrawals)
}

func TestWithdrawalReservesGrossAmount(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D")
	te.fund(t, "D", 1000)

	wd := request(t, te, "D", 100)
	assert.Equal(t, domain.WithdrawalPending, wd.Status)
	assert.Equal(t, int64(5), wd.Fee)
	assert.Equal(t, int64(95), wd.NetAmount)

	w := te.wallet(t, "D")
	assert.Equal(t, int64(100), w.PendingWithdrawals)
	assert.Equal(t, int64(900), w.AvailableBalance)
	assert.Equal(t, int64(1000), w.TotalBalance)

	e := withdrawalEntry(t, te, "D", wd.ID)
	assert.Equal(t, domain.EntryPending, e.Status)
	assert.Equal(t, int64(100), e.Amount)
}

func TestWithdrawalRejectAfterApproveReleasesAll(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D")
	te.fund(t, "D", 1000)
	ctx := context.Background()
	wd := request(t, te, "D", 100)

	wd, err := te.Withdrawals.Approve(ctx, wd.ID, "mod-1", "checked")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalProcessing, wd.Status)
	assert.NotNil(t, wd.ProcessedAt)
	assert.Equal(t, domain.EntryApproved, withdrawalEntry(t, te, "D", wd.ID).Status)
	assert.Equal(t, int64(100), te.wallet(t, "D").PendingWithdrawals)

	wd, err = te.Withdrawals.Reject(ctx, wd.ID, "mod-1", "account closed", "")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, wd.Status)
	assert.Equal(t, "account closed", wd.RejectionReason)
	assert.Equal(t, "checked", wd.AdminNotes)
	assert.NotNil(t, wd.RejectedAt)

	w := te.wallet(t, "D")
	assert.Zero(t, w.PendingWithdrawals)
	assert.Equal(t, int64(1000), w.AvailableBalance)
	assert.Zero(t, w.TotalWithdrawals)
	assert.Equal(t, domain.EntryRejected, withdrawalEntry(t, te, "D", wd.ID).Status)
}

func TestWithdrawalComplete(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D")
	te.fund(t, "D", 1000)
	ctx := context.Background()
	wd := request(t, te, "D", 100)

	_, err := te.Withdrawals.Approve(ctx, wd.ID, "mod-1", "")
	require.NoError(t, err)
	wd, err = te.Withdrawals.Complete(ctx, wd.ID, "mod-2", "UTR-77", "paid")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCompleted, wd.Status)
	assert.Equal(t, "UTR-77", wd.PaymentReference)
	assert.Equal(t, "mod-2", wd.ModeratorID)
	assert.NotNil(t, wd.CompletedAt)

	w := te.wallet(t, "D")
	assert.Zero(t, w.PendingWithdrawals)
	assert.Equal(t, int64(100), w.TotalWithdrawals)
	assert.Equal(t, int64(900), w.TotalBalance)
	assert.Equal(t, int64(900), w.AvailableBalance)
	assert.Equal(t, int64(1000), w.TotalEarnings)
	assert.Equal(t, int64(100), te.member(t, "D").TotalWithdrawals)
	assert.Equal(t, domain.EntryCompleted, withdrawalEntry(t, te, "D", wd.ID).Status)

	got, err := te.Withdrawals.Get(ctx, wd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCompleted, got.Status)
}

func TestWithdrawalInvalidTransitionsLeaveStateAlone(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D")
	te.fund(t, "D", 1000)
	ctx := context.Background()
	wd := request(t, te, "D", 100)
	before := te.wallet(t, "D")

	_, err := te.Withdrawals.Complete(ctx, wd.ID, "mod-1", "ref", "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := te.Withdrawals.Get(ctx, wd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalPending, got.Status)
	assert.Empty(t, got.ModeratorID)
	assert.Equal(t, before, te.wallet(t, "D"))
	assert.Equal(t, domain.EntryPending, withdrawalEntry(t, te, "D", wd.ID).Status)

	_, err = te.Withdrawals.Reject(ctx, wd.ID, "mod-1", "no", "")
	require.NoError(t, err)
	after := te.wallet(t, "D")
	for _, op := range []func() error{
		func() error { _, err := te.Withdrawals.Approve(ctx, wd.ID, "mod-1", ""); return err },
		func() error { _, err := te.Withdrawals.Complete(ctx, wd.ID, "mod-1", "", ""); return err },
		func() error { _, err := te.Withdrawals.Reject(ctx, wd.ID, "mod-1", "again", ""); return err },
		func() error { _, err := te.Withdrawals.Cancel(ctx, wd.ID, "D"); return err },
	} {
		require.ErrorIs(t, op(), domain.ErrInvalidTransition)
	}
	assert.Equal(t, after, te.wallet(t, "D"))
}

func TestWithdrawalCancel(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D", "E")
	te.fund(t, "D", 1000)
	ctx := context.Background()
	wd := request(t, te, "D", 300)

	_, err := te.Withdrawals.Cancel(ctx, wd.ID, "E")
	require.ErrorIs(t, err, domain.ErrWithdrawalNotFound)

	wd, err = te.Withdrawals.Cancel(ctx, wd.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, wd.Status)
	assert.Equal(t, cancelledByUser, wd.RejectionReason)
	assert.Equal(t, domain.EntryCancelled, withdrawalEntry(t, te, "D", wd.ID).Status)
	assert.Equal(t, int64(1000), te.wallet(t, "D").AvailableBalance)

	processing := request(t, te, "D", 300)
	_, err = te.Withdrawals.Approve(ctx, processing.ID, "mod-1", "")
	require.NoError(t, err)
	_, err = te.Withdrawals.Cancel(ctx, processing.ID, "D")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestWithdrawalValidation(t *testing.T) {
	cfg := testLedgerConfig()
	cfg.MinWithdrawal = 500
	te := newTestEngine(t, cfg)
	te.chain(t, "D")
	te.fund(t, "D", 5000)
	ctx := context.Background()

	tests := []struct {
		name string
		in   WithdrawalInput
	}{
		{"below minimum", WithdrawalInput{MemberID: "D", Amount: 499, Method: domain.MethodBankTransfer, Details: bankDetails()}},
		{"missing bank fields", WithdrawalInput{MemberID: "D", Amount: 500, Method: domain.MethodBankTransfer, Details: domain.PaymentDetails{BankName: "X"}}},
		{"missing address", WithdrawalInput{MemberID: "D", Amount: 500, Method: domain.MethodUSDT}},
		{"unknown method", WithdrawalInput{MemberID: "D", Amount: 500, Method: "CHEQUE", Details: bankDetails()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := te.Withdrawals.Request(ctx, tt.in)
			require.ErrorIs(t, err, domain.ErrValidationFailed)
		})
	}

	_, err := te.Withdrawals.Request(ctx, WithdrawalInput{MemberID: "nobody", Amount: 500, Method: domain.MethodUSDT, Details: domain.PaymentDetails{Address: "T9x"}})
	require.ErrorIs(t, err, domain.ErrMemberNotFound)

	wd := request(t, te, "D", 500)
	_, err = te.Withdrawals.Approve(ctx, wd.ID, " ", "")
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	_, err = te.Withdrawals.Reject(ctx, wd.ID, "mod-1", "", "")
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	_, err = te.Withdrawals.Approve(ctx, "missing", "mod-1", "")
	require.ErrorIs(t, err, domain.ErrWithdrawalNotFound)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	te := newTestEngine(t, testLedgerConfig())
	te.chain(t, "D")
	te.fund(t, "D", 1000)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := te.Withdrawals.Request(ctx, WithdrawalInput{MemberID: "D", Amount: 100, Method: domain.MethodBankTransfer, Details: bankDetails()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrWithdrawalInsufficientFunds):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 10, refused)
	w := te.wallet(t, "D")
	assert.Zero(t, w.AvailableBalance)
	assert.Equal(t, int64(1000), w.PendingWithdrawals)
}
