package invest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/equishard/internal/catalog"
	"github.com/example/equishard/internal/events"
	"github.com/example/equishard/internal/holdings"
	"github.com/example/equishard/internal/identity"
	"github.com/example/equishard/internal/ledger"
	"github.com/example/equishard/pkg/audit"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.InvestmentCompleted
}

func (p *capturePublisher) PublishInvestment(_ context.Context, e events.InvestmentCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// failingLedgerStore wraps a real store and fails appends while fail is set,
// to exercise the rollback paths after a successful reservation.
type failingLedgerStore struct {
	ledger.Store
	fail bool
}

func (f *failingLedgerStore) Append(ctx context.Context, tx *ledger.Transaction) error {
	if f.fail {
		return errors.New("storage unavailable")
	}
	return f.Store.Append(ctx, tx)
}

// failingHoldingsStore fails every position update, so the money moves first
// and the coordinator has to reverse the posted transaction.
type failingHoldingsStore struct {
	holdings.Store
}

func (f *failingHoldingsStore) AddUnits(context.Context, string, string, decimal.Decimal, decimal.Decimal) error {
	return errors.New("storage unavailable")
}

// failingReleaseStore fails the inventory release after a sale's transfer has
// already been posted.
type failingReleaseStore struct {
	catalog.Store
}

func (f *failingReleaseStore) Release(context.Context, string, string, decimal.Decimal) error {
	return errors.New("storage unavailable")
}

type fixture struct {
	co         *Coordinator
	ledger     *ledger.Service
	ledgerFail *failingLedgerStore
	identities *identity.MemoryStore
	assets     *catalog.MemoryStore
	holdings   *holdings.MemoryStore
	publisher  *capturePublisher
	recorder   *audit.Recorder

	principal *identity.Principal
	asset     *catalog.Asset
	wallet    *ledger.Account
}

type fixtureOptions struct {
	failAppends     bool
	failHoldingAdds bool
	failReleases    bool
	walletFunds     string
	assetPrice      string
	assetRisk       int
	accreditation   bool
	availableUnits  string
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()

	if opts.walletFunds == "" {
		opts.walletFunds = "10000.00"
	}
	if opts.assetPrice == "" {
		opts.assetPrice = "100.00"
	}
	if opts.assetRisk == 0 {
		opts.assetRisk = 2
	}
	if opts.availableUnits == "" {
		opts.availableUnits = "1000"
	}

	baseStore := ledger.NewMemoryStore()
	ledgerFail := &failingLedgerStore{Store: baseStore, fail: opts.failAppends}
	// Accounts and seed funds go through the working store so a failing
	// wrapper only affects the appends made by the coordinator.
	setupSvc := ledger.NewService(baseStore)

	_, err := setupSvc.CreateAccount(ctx, &ledger.Account{
		TenantID: "t1", Type: ledger.TypeLiability, Category: ledger.CategoryReserve, Currency: "USD", Name: "System Reserve",
	})
	require.NoError(t, err)

	wallet, err := setupSvc.CreateAccount(ctx, &ledger.Account{
		TenantID: "t1", OwnerID: "u1", Type: ledger.TypeAsset, Category: ledger.CategoryWallet, Currency: "USD", Name: "Wallet - u1",
	})
	require.NoError(t, err)

	escrow, err := setupSvc.CreateAccount(ctx, &ledger.Account{
		TenantID: "t1", Type: ledger.TypeLiability, Category: ledger.CategoryEscrow, Currency: "USD", Name: "Escrow - ACME",
	})
	require.NoError(t, err)

	if dec(opts.walletFunds).Sign() > 0 {
		_, err = setupSvc.GrantFunds(ctx, "t1", wallet.ID, dec(opts.walletFunds))
		require.NoError(t, err)
	}

	assetStore := catalog.NewMemoryStore()
	asset := &catalog.Asset{
		ID:                    "a1",
		TenantID:              "t1",
		Symbol:                "ACME",
		Name:                  "Acme Holdings",
		UnitPrice:             dec(opts.assetPrice),
		RiskLevel:             opts.assetRisk,
		AccreditationRequired: opts.accreditation,
		TotalUnits:            dec("1000"),
		AvailableUnits:        dec(opts.availableUnits),
		EscrowAccountID:       escrow.ID,
	}
	require.NoError(t, assetStore.CreateAsset(ctx, asset))

	identityStore := identity.NewMemoryStore()
	require.NoError(t, identityStore.CreateTenant(ctx, &identity.Tenant{ID: "t1", Slug: "demo", Name: "Demo"}))
	principal := &identity.Principal{
		ID: "u1", TenantID: "t1", Username: "alice",
		RiskTolerance: 3, Accredited: false, WalletAccountID: wallet.ID,
	}
	require.NoError(t, identityStore.CreatePrincipal(ctx, principal))

	holdingStore := holdings.NewMemoryStore()
	var wiredHoldings holdings.Store = holdingStore
	if opts.failHoldingAdds {
		wiredHoldings = &failingHoldingsStore{Store: holdingStore}
	}
	var wiredAssets catalog.Store = assetStore
	if opts.failReleases {
		wiredAssets = &failingReleaseStore{Store: assetStore}
	}

	publisher := &capturePublisher{}
	recorder := audit.NewRecorder(nil)

	co := NewCoordinator(Dependencies{
		Identity: identityStore,
		Assets:   wiredAssets,
		Ledger:   ledger.NewService(ledgerFail),
		Holdings: wiredHoldings,
		Events:   publisher,
		Audit:    recorder,
	})

	return &fixture{
		co:         co,
		ledger:     setupSvc,
		ledgerFail: ledgerFail,
		identities: identityStore,
		assets:     assetStore,
		holdings:   holdingStore,
		publisher:  publisher,
		recorder:   recorder,
		principal:  principal,
		asset:      asset,
		wallet:     wallet,
	}
}

func (f *fixture) availableUnits(t *testing.T) decimal.Decimal {
	t.Helper()
	asset, err := f.assets.Asset(context.Background(), "t1", f.asset.ID)
	require.NoError(t, err)
	return asset.AvailableUnits
}

func (f *fixture) walletBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	balance, err := f.ledger.BalanceOf(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	return balance
}

func TestInvestHappyPath(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	receipt, err := f.co.Invest(ctx, "u1", "a1", dec("1000.00"))
	require.NoError(t, err)
	assert.True(t, receipt.Units.Equal(dec("10")), "got %s units", receipt.Units)
	assert.NotEmpty(t, receipt.TransactionID)

	assert.True(t, f.walletBalance(t).Equal(dec("9000.00")))
	assert.True(t, f.availableUnits(t).Equal(dec("990")))

	h, err := f.holdings.Holding(ctx, f.wallet.ID, "a1")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Units.Equal(dec("10")))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, receipt.TransactionID, f.publisher.events[0].TransactionID)
	assert.Equal(t, "10", f.publisher.events[0].Units)
}

func TestInvestDeniedByRiskCheck(t *testing.T) {
	f := newFixture(t, fixtureOptions{assetRisk: 5})

	_, err := f.co.Invest(context.Background(), "u1", "a1", dec("1000.00"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindPolicyDenied, cerr.Kind)
	assert.Equal(t, "risk_check", cerr.Rule)

	// no side effects of any kind
	assert.True(t, f.walletBalance(t).Equal(dec("10000.00")))
	assert.True(t, f.availableUnits(t).Equal(dec("1000")))
	list, err := f.holdings.Holdings(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInvestDeniedByAccreditation(t *testing.T) {
	// risk is fine (1 <= 3), accreditation still gates the asset
	f := newFixture(t, fixtureOptions{assetRisk: 1, accreditation: true})

	_, err := f.co.Invest(context.Background(), "u1", "a1", dec("100.00"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindPolicyDenied, cerr.Kind)
	assert.Equal(t, "accreditation", cerr.Rule)
}

func TestInvestUnknownPrincipalOrAsset(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	_, err := f.co.Invest(context.Background(), "ghost", "a1", dec("100.00"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindNotFound, cerr.Kind)

	_, err = f.co.Invest(context.Background(), "u1", "ghost", dec("100.00"))
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindNotFound, cerr.Kind)
}

func TestInvestInvalidAmount(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	for _, amount := range []string{"0", "-50", "9.999"} {
		_, err := f.co.Invest(context.Background(), "u1", "a1", dec(amount))
		var cerr *Error
		require.True(t, errors.As(err, &cerr), "amount %s", amount)
		assert.Equal(t, KindInvalidAmount, cerr.Kind, "amount %s", amount)
	}
}

func TestInvestAmountBuyingZeroUnits(t *testing.T) {
	// the truncated quotient can be zero when the price dwarfs the amount
	f := newFixture(t, fixtureOptions{assetPrice: "20000000.00"})

	_, err := f.co.Invest(context.Background(), "u1", "a1", dec("0.01"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInvalidAmount, cerr.Kind)
	assert.True(t, f.availableUnits(t).Equal(dec("1000")))
}

func TestInvestInsufficientInventory(t *testing.T) {
	f := newFixture(t, fixtureOptions{availableUnits: "5"})

	_, err := f.co.Invest(context.Background(), "u1", "a1", dec("600.00"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInsufficientInventory, cerr.Kind)

	assert.True(t, f.walletBalance(t).Equal(dec("10000.00")))
	assert.True(t, f.availableUnits(t).Equal(dec("5")))
}

func TestInvestInsufficientFundsReleasesReservation(t *testing.T) {
	f := newFixture(t, fixtureOptions{walletFunds: "500.00"})

	_, err := f.co.Invest(context.Background(), "u1", "a1", dec("600.00"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInsufficientFunds, cerr.Kind)

	// the reservation taken before the ledger step is fully released
	assert.True(t, f.availableUnits(t).Equal(dec("1000")))
	assert.True(t, f.walletBalance(t).Equal(dec("500.00")))
}

func TestInvestLedgerFailureReleasesReservation(t *testing.T) {
	f := newFixture(t, fixtureOptions{failAppends: true})

	_, err := f.co.Invest(context.Background(), "u1", "a1", dec("1000.00"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInternal, cerr.Kind)

	// available units unchanged from before the attempt
	assert.True(t, f.availableUnits(t).Equal(dec("1000")))
	list, listErr := f.holdings.Holdings(context.Background(), f.wallet.ID)
	require.NoError(t, listErr)
	assert.Empty(t, list)
	assert.Empty(t, f.publisher.events)
}

func TestInvestHoldingFailureReversesLedger(t *testing.T) {
	f := newFixture(t, fixtureOptions{failHoldingAdds: true})
	ctx := context.Background()

	_, err := f.co.Invest(ctx, "u1", "a1", dec("1000.00"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInternal, cerr.Kind)

	// the reversing transaction puts the money back and the reservation
	// is released, so the books show no trace of the attempt
	assert.True(t, f.walletBalance(t).Equal(dec("10000.00")), "got %s", f.walletBalance(t))
	assert.True(t, f.availableUnits(t).Equal(dec("1000")))
	list, listErr := f.holdings.Holdings(ctx, f.wallet.ID)
	require.NoError(t, listErr)
	assert.Empty(t, list)
	assert.Empty(t, f.publisher.events)
}

func TestSellLedgerFailureRestoresHolding(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	_, err := f.co.Invest(ctx, "u1", "a1", dec("1000.00"))
	require.NoError(t, err)

	f.ledgerFail.fail = true
	_, err = f.co.Sell(ctx, "u1", "a1", dec("4"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInternal, cerr.Kind)

	// the removed units are put back at the captured average cost
	h, err := f.holdings.Holding(ctx, f.wallet.ID, "a1")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Units.Equal(dec("10")), "got %s units", h.Units)
	assert.True(t, h.AverageCost.Equal(dec("100")), "got avg cost %s", h.AverageCost)

	assert.True(t, f.walletBalance(t).Equal(dec("9000.00")))
	assert.True(t, f.availableUnits(t).Equal(dec("990")))
}

func TestSellReleaseFailureReversesTransfer(t *testing.T) {
	// Reserve works, Release does not: only the sale's final step can hit it.
	f := newFixture(t, fixtureOptions{failReleases: true})
	ctx := context.Background()

	_, err := f.co.Invest(ctx, "u1", "a1", dec("1000.00"))
	require.NoError(t, err)

	_, err = f.co.Sell(ctx, "u1", "a1", dec("4"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInternal, cerr.Kind)

	// proceeds reversed out of the wallet, holding restored in full
	assert.True(t, f.walletBalance(t).Equal(dec("9000.00")), "got %s", f.walletBalance(t))
	h, err := f.holdings.Holding(ctx, f.wallet.ID, "a1")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Units.Equal(dec("10")))
	assert.True(t, f.availableUnits(t).Equal(dec("990")))

	// only the purchase was announced
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, ledger.KindInvestment, f.publisher.events[0].Kind)
}

func TestConcurrentInvestorsRaceForLastUnits(t *testing.T) {
	// 5 available units, two $500 orders at $100/unit: exactly one fills
	f := newFixture(t, fixtureOptions{availableUnits: "5"})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.co.Invest(ctx, "u1", "a1", dec("500.00"))
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
		var cerr *Error
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, KindInsufficientInventory, cerr.Kind)
		losses++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.True(t, f.availableUnits(t).IsZero())
}

func TestSellRoundTrip(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	_, err := f.co.Invest(ctx, "u1", "a1", dec("1000.00"))
	require.NoError(t, err)

	receipt, err := f.co.Sell(ctx, "u1", "a1", dec("4"))
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(dec("400.00")))

	assert.True(t, f.walletBalance(t).Equal(dec("9400.00")))
	assert.True(t, f.availableUnits(t).Equal(dec("994")))

	h, err := f.holdings.Holding(ctx, f.wallet.ID, "a1")
	require.NoError(t, err)
	assert.True(t, h.Units.Equal(dec("6")))
}

func TestSellMoreThanHeld(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	_, err := f.co.Invest(ctx, "u1", "a1", dec("1000.00"))
	require.NoError(t, err)

	_, err = f.co.Sell(ctx, "u1", "a1", dec("11"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInvalidAmount, cerr.Kind)

	// nothing moved
	assert.True(t, f.walletBalance(t).Equal(dec("9000.00")))
	assert.True(t, f.availableUnits(t).Equal(dec("990")))
}

func TestGrantFunds(t *testing.T) {
	f := newFixture(t, fixtureOptions{walletFunds: "0"})
	ctx := context.Background()

	txID, err := f.co.GrantFunds(ctx, "u1", dec("250.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, txID)
	assert.True(t, f.walletBalance(t).Equal(dec("250.00")))

	_, err = f.co.GrantFunds(ctx, "u1", dec("-5"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInvalidAmount, cerr.Kind)
}

func TestBalanceAndPositionsQueries(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	_, err := f.co.Invest(ctx, "u1", "a1", dec("1000.00"))
	require.NoError(t, err)

	balance, err := f.co.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("9000.00")))

	positions, err := f.co.Positions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "a1", positions[0].AssetID)
}

func TestBalanceStoreFailureIsClassified(t *testing.T) {
	// A principal whose wallet account vanished is a data fault, and it must
	// surface as a classified internal error, not a raw store error.
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	require.NoError(t, f.identities.CreatePrincipal(ctx, &identity.Principal{
		ID: "u2", TenantID: "t1", Username: "bob",
		RiskTolerance: 3, WalletAccountID: "ghost",
	}))

	_, err := f.co.Balance(ctx, "u2")
	var cerr *Error
	require.True(t, errors.As(err, &cerr), "got %T: %v", err, err)
	assert.Equal(t, KindInternal, cerr.Kind)
}
