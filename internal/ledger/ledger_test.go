package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T) (*Service, *Account, *Account) {
	t.Helper()
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	reserve, err := svc.CreateAccount(ctx, &Account{
		TenantID: "t1",
		Type:     TypeLiability,
		Category: CategoryReserve,
		Currency: "USD",
		Name:     "System Reserve",
	})
	require.NoError(t, err)

	wallet, err := svc.CreateAccount(ctx, &Account{
		TenantID: "t1",
		OwnerID:  "u1",
		Type:     TypeAsset,
		Category: CategoryWallet,
		Currency: "USD",
		Name:     "Wallet - u1",
	})
	require.NoError(t, err)

	return svc, reserve, wallet
}

func TestPostRejectsImbalanced(t *testing.T) {
	svc, reserve, wallet := newTestLedger(t)

	_, err := svc.Post(context.Background(), "t1", KindFaucet, "bad", []Posting{
		{AccountID: reserve.ID, Amount: dec("-100")},
		{AccountID: wallet.ID, Amount: dec("99")},
	})
	var imbalanced *ImbalancedTransactionError
	require.True(t, errors.As(err, &imbalanced))
	assert.True(t, imbalanced.Sum.Equal(dec("-1")))

	// nothing may have been appended
	balance, err := svc.BalanceOf(context.Background(), wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestPostRejectsUnknownAccount(t *testing.T) {
	svc, reserve, _ := newTestLedger(t)

	_, err := svc.Post(context.Background(), "t1", KindFaucet, "bad", []Posting{
		{AccountID: reserve.ID, Amount: dec("-100")},
		{AccountID: "missing", Amount: dec("100")},
	})
	var unknown *UnknownAccountError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "missing", unknown.AccountID)
}

func TestPostRejectsCrossTenantAccount(t *testing.T) {
	svc, reserve, wallet := newTestLedger(t)

	// same accounts, wrong tenant: not resolvable
	_, err := svc.Post(context.Background(), "t2", KindFaucet, "bad", []Posting{
		{AccountID: reserve.ID, Amount: dec("-100")},
		{AccountID: wallet.ID, Amount: dec("100")},
	})
	var unknown *UnknownAccountError
	require.True(t, errors.As(err, &unknown))
}

func TestGrantFundsAndTransfer(t *testing.T) {
	svc, reserve, wallet := newTestLedger(t)
	ctx := context.Background()

	txID, err := svc.GrantFunds(ctx, "t1", wallet.ID, dec("10000.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	balance, err := svc.BalanceOf(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10000.00")))

	// reserve is a liability account; it carries the negative side
	reserveBalance, err := svc.BalanceOf(ctx, reserve.ID)
	require.NoError(t, err)
	assert.True(t, reserveBalance.Equal(dec("-10000.00")))

	escrow, err := svc.CreateAccount(ctx, &Account{
		TenantID: "t1", Type: TypeLiability, Category: CategoryEscrow, Currency: "USD", Name: "Escrow - ACME",
	})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, "t1", wallet.ID, escrow.ID, dec("1000.00"), KindInvestment, "buy")
	require.NoError(t, err)

	balance, err = svc.BalanceOf(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("9000.00")))
}

func TestGrantFundsRejectsBadAmount(t *testing.T) {
	svc, _, wallet := newTestLedger(t)

	for _, amount := range []string{"0", "-10", "1.001"} {
		_, err := svc.GrantFunds(context.Background(), "t1", wallet.ID, dec(amount))
		var invalid *InvalidAmountError
		require.True(t, errors.As(err, &invalid), "amount %s", amount)
	}
}

func TestOverdraftRejectedAtomically(t *testing.T) {
	svc, _, wallet := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.GrantFunds(ctx, "t1", wallet.ID, dec("50.00"))
	require.NoError(t, err)

	escrow, err := svc.CreateAccount(ctx, &Account{
		TenantID: "t1", Type: TypeLiability, Category: CategoryEscrow, Currency: "USD", Name: "Escrow",
	})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, "t1", wallet.ID, escrow.ID, dec("50.01"), KindInvestment, "too much")
	var insufficient *InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, wallet.ID, insufficient.AccountID)
	assert.True(t, insufficient.Balance.Equal(dec("50.00")))

	// the failed transfer left no entries behind
	balance, err := svc.BalanceOf(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50.00")))
	require.NoError(t, svc.VerifyAccount(ctx, escrow.ID))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _, wallet := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.GrantFunds(ctx, "t1", wallet.ID, dec("100.00"))
	require.NoError(t, err)

	escrow, err := svc.CreateAccount(ctx, &Account{
		TenantID: "t1", Type: TypeLiability, Category: CategoryEscrow, Currency: "USD", Name: "Escrow",
	})
	require.NoError(t, err)

	// 30 concurrent $10 debits against a $100 balance: exactly 10 must win
	const attempts = 30
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(ctx, "t1", wallet.ID, escrow.ID, dec("10.00"), KindInvestment, "race")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var insufficient *InsufficientFundsError
		require.True(t, errors.As(err, &insufficient))
		losses++
	}
	assert.Equal(t, 10, wins)
	assert.Equal(t, 20, losses)

	balance, err := svc.BalanceOf(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "balance %s", balance)
}

func TestReplayMatchesCachedBalance(t *testing.T) {
	svc, reserve, wallet := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.GrantFunds(ctx, "t1", wallet.ID, dec("10000.00"))
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, "t1", wallet.ID, reserve.ID, dec("1234.56"), KindReversal, "back out")
	require.NoError(t, err)

	for _, id := range []string{wallet.ID, reserve.ID} {
		require.NoError(t, svc.VerifyAccount(ctx, id))
	}

	// sequences are strictly increasing per account
	entries, err := svc.History(ctx, wallet.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, int64(2), entries[1].Sequence)
}

func TestTransactionEntriesSumToZero(t *testing.T) {
	svc, reserve, wallet := newTestLedger(t)
	ctx := context.Background()

	txID, err := svc.GrantFunds(ctx, "t1", wallet.ID, dec("500.00"))
	require.NoError(t, err)

	sum := decimal.Zero
	for _, id := range []string{wallet.ID, reserve.ID} {
		entries, err := svc.History(ctx, id)
		require.NoError(t, err)
		for _, e := range entries {
			if e.TransactionID == txID {
				sum = sum.Add(e.Amount)
			}
		}
	}
	assert.True(t, sum.IsZero())
}
