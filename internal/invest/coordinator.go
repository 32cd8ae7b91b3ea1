package invest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/equishard/internal/catalog"
	"github.com/example/equishard/internal/events"
	"github.com/example/equishard/internal/holdings"
	"github.com/example/equishard/internal/identity"
	"github.com/example/equishard/internal/ledger"
	"github.com/example/equishard/internal/policy"
	"github.com/example/equishard/pkg/audit"
	"github.com/example/equishard/pkg/money"
)

// Dependencies wires the coordinator. Identity, Assets, Ledger, and Holdings
// are required; Policy defaults to the standard engine, Events to a no-op
// publisher, and Logger to slog.Default.
type Dependencies struct {
	Identity identity.Store
	Assets   catalog.Store
	Ledger   *ledger.Service
	Holdings holdings.Store
	Policy   *policy.Engine
	Events   events.Publisher
	Audit    *audit.Recorder
	Logger   *slog.Logger
}

// Coordinator executes investments as atomic units of work: authorize,
// reserve, post, record — and on any failure past the reservation, fully
// reverse what came before.
type Coordinator struct {
	identity identity.Store
	assets   catalog.Store
	ledger   *ledger.Service
	holdings holdings.Store
	policy   *policy.Engine
	events   events.Publisher
	audit    *audit.Recorder
	logger   *slog.Logger
}

// NewCoordinator builds a coordinator from its dependencies.
func NewCoordinator(deps Dependencies) *Coordinator {
	if deps.Policy == nil {
		deps.Policy = policy.NewEngine()
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Coordinator{
		identity: deps.Identity,
		assets:   deps.Assets,
		ledger:   deps.Ledger,
		holdings: deps.Holdings,
		policy:   deps.Policy,
		events:   deps.Events,
		audit:    deps.Audit,
		logger:   deps.Logger,
	}
}

func (c *Coordinator) resolve(ctx context.Context, principalID, assetID string) (*identity.Principal, *catalog.Asset, *Error) {
	principal, err := c.identity.Principal(ctx, principalID)
	if err != nil {
		var notFound *identity.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil, newError(KindNotFound, err)
		}
		return nil, nil, newError(KindInternal, err)
	}

	asset, err := c.assets.Asset(ctx, principal.TenantID, assetID)
	if err != nil {
		var unknown *catalog.UnknownAssetError
		if errors.As(err, &unknown) {
			return nil, nil, newError(KindNotFound, err)
		}
		return nil, nil, newError(KindInternal, err)
	}
	return principal, asset, nil
}

func (c *Coordinator) authorize(principal *identity.Principal, asset *catalog.Asset, action string) *Error {
	decision, err := c.policy.Authorize(
		policy.Principal{
			ID:            principal.ID,
			TenantID:      principal.TenantID,
			RiskTolerance: principal.RiskTolerance,
			Accredited:    principal.Accredited,
		},
		policy.Resource{
			ID:                    asset.ID,
			TenantID:              asset.TenantID,
			RiskLevel:             asset.RiskLevel,
			AccreditationRequired: asset.AccreditationRequired,
		},
		action,
	)
	if err != nil {
		c.record(audit.Event{
			TenantID:    principal.TenantID,
			PrincipalID: principal.ID,
			ResourceID:  asset.ID,
			Action:      audit.ActionPolicyDeny,
			Rule:        decision.Rule,
			Detail:      decision.Reason,
		})
		return &Error{Kind: KindPolicyDenied, Rule: decision.Rule, Detail: decision.Reason, cause: err}
	}

	c.record(audit.Event{
		TenantID:    principal.TenantID,
		PrincipalID: principal.ID,
		ResourceID:  asset.ID,
		Action:      audit.ActionPolicyAllow,
	})
	return nil
}

// Invest executes the full purchase: resolve attributes, authorize, compute
// units, reserve inventory, post the wallet-to-escrow transaction, and update
// the holding. Either every effect applies or none does.
func (c *Coordinator) Invest(ctx context.Context, principalID, assetID string, amount decimal.Decimal) (*Receipt, error) {
	principal, asset, cerr := c.resolve(ctx, principalID, assetID)
	if cerr != nil {
		return nil, cerr
	}

	if cerr := c.authorize(principal, asset, "invest"); cerr != nil {
		return nil, cerr
	}

	if !money.ValidAmount(amount) {
		return nil, &Error{Kind: KindInvalidAmount, Detail: fmt.Sprintf("amount %s must be a positive currency amount", amount)}
	}
	units, err := money.UnitsFor(amount, asset.UnitPrice)
	if err != nil {
		return nil, newError(KindInternal, fmt.Errorf("asset %s has unusable price: %w", asset.ID, err))
	}
	if units.IsZero() {
		return nil, &Error{Kind: KindInvalidAmount, Detail: fmt.Sprintf("amount %s buys zero units at price %s", amount, asset.UnitPrice)}
	}

	if err := c.assets.Reserve(ctx, principal.TenantID, asset.ID, units); err != nil {
		var insufficient *catalog.InsufficientInventoryError
		if errors.As(err, &insufficient) {
			return nil, newError(KindInsufficientInventory, err)
		}
		var unknown *catalog.UnknownAssetError
		if errors.As(err, &unknown) {
			return nil, newError(KindNotFound, err)
		}
		return nil, newError(KindInternal, err)
	}

	description := fmt.Sprintf("investment: %s units of %s", money.FormatUnits(units), asset.Symbol)
	txID, err := c.ledger.Transfer(ctx, principal.TenantID, principal.WalletAccountID, asset.EscrowAccountID,
		amount, ledger.KindInvestment, description)
	if err != nil {
		c.releaseReservation(ctx, principal, asset, units, "ledger post failed")

		var insufficientFunds *ledger.InsufficientFundsError
		if errors.As(err, &insufficientFunds) {
			return nil, newError(KindInsufficientFunds, err)
		}
		var invalidAmount *ledger.InvalidAmountError
		if errors.As(err, &invalidAmount) {
			return nil, newError(KindInvalidAmount, err)
		}
		return nil, newError(KindInternal, err)
	}

	if err := c.holdings.AddUnits(ctx, principal.WalletAccountID, asset.ID, units, amount); err != nil {
		// The money already moved: post the reversing transaction, then
		// give the inventory back.
		if _, revErr := c.ledger.Transfer(ctx, principal.TenantID, asset.EscrowAccountID, principal.WalletAccountID,
			amount, ledger.KindReversal, "reversal: holding update failed"); revErr != nil {
			c.logger.Error("failed to reverse ledger transaction during rollback",
				"transaction_id", txID, "error", revErr)
		}
		c.releaseReservation(ctx, principal, asset, units, "holding update failed")
		return nil, newError(KindInternal, fmt.Errorf("failed to update holding: %w", err))
	}

	c.record(audit.Event{
		TenantID:    principal.TenantID,
		PrincipalID: principal.ID,
		ResourceID:  asset.ID,
		Action:      audit.ActionCommit,
		Detail:      description,
	})
	c.publish(ctx, events.InvestmentCompleted{
		TransactionID: txID,
		TenantID:      principal.TenantID,
		PrincipalID:   principal.ID,
		AssetID:       asset.ID,
		AssetSymbol:   asset.Symbol,
		Units:         money.FormatUnits(units),
		Amount:        amount.String(),
		Kind:          ledger.KindInvestment,
		OccurredAt:    time.Now().UTC(),
	})

	return &Receipt{TransactionID: txID, Units: units, Amount: amount}, nil
}

// Sell executes the divestment: remove units from the holding, move the
// proceeds escrow-to-wallet, and return the units to the available pool.
func (c *Coordinator) Sell(ctx context.Context, principalID, assetID string, units decimal.Decimal) (*Receipt, error) {
	principal, asset, cerr := c.resolve(ctx, principalID, assetID)
	if cerr != nil {
		return nil, cerr
	}

	units = units.Truncate(money.UnitPlaces)
	if units.Sign() <= 0 {
		return nil, &Error{Kind: KindInvalidAmount, Detail: fmt.Sprintf("units %s must be positive", units)}
	}
	value := money.RoundMoney(units.Mul(asset.UnitPrice))
	if value.Sign() <= 0 {
		return nil, &Error{Kind: KindInvalidAmount, Detail: fmt.Sprintf("%s units of %s are worth zero", units, asset.Symbol)}
	}

	// Keep the average cost so a failed sale restores the position exactly.
	held, err := c.holdings.Holding(ctx, principal.WalletAccountID, asset.ID)
	if err != nil {
		return nil, newError(KindInternal, err)
	}
	averageCost := decimal.Zero
	if held != nil {
		averageCost = held.AverageCost
	}

	if err := c.holdings.RemoveUnits(ctx, principal.WalletAccountID, asset.ID, units); err != nil {
		var insufficient *holdings.InsufficientHoldingsError
		if errors.As(err, &insufficient) {
			return nil, newError(KindInvalidAmount, err)
		}
		return nil, newError(KindInternal, err)
	}
	restore := func() {
		if err := c.holdings.AddUnits(ctx, principal.WalletAccountID, asset.ID, units, units.Mul(averageCost)); err != nil {
			c.logger.Error("failed to restore holding during rollback",
				"account_id", principal.WalletAccountID, "asset_id", asset.ID, "error", err)
		}
	}

	description := fmt.Sprintf("divestment: %s units of %s", money.FormatUnits(units), asset.Symbol)
	txID, err := c.ledger.Transfer(ctx, principal.TenantID, asset.EscrowAccountID, principal.WalletAccountID,
		value, ledger.KindDivestment, description)
	if err != nil {
		restore()
		var insufficientFunds *ledger.InsufficientFundsError
		if errors.As(err, &insufficientFunds) {
			return nil, newError(KindInsufficientFunds, err)
		}
		return nil, newError(KindInternal, err)
	}

	if err := c.assets.Release(ctx, principal.TenantID, asset.ID, units); err != nil {
		// Releasing sold units past the total means the books disagree
		// with the catalog: reverse everything and surface the bug.
		if _, revErr := c.ledger.Transfer(ctx, principal.TenantID, principal.WalletAccountID, asset.EscrowAccountID,
			value, ledger.KindReversal, "reversal: inventory release failed"); revErr != nil {
			c.logger.Error("failed to reverse ledger transaction during rollback",
				"transaction_id", txID, "error", revErr)
		}
		restore()
		c.record(audit.Event{
			TenantID:    principal.TenantID,
			PrincipalID: principal.ID,
			ResourceID:  asset.ID,
			Action:      audit.ActionRollback,
			Detail:      err.Error(),
		})
		return nil, newError(KindInternal, err)
	}

	c.record(audit.Event{
		TenantID:    principal.TenantID,
		PrincipalID: principal.ID,
		ResourceID:  asset.ID,
		Action:      audit.ActionCommit,
		Detail:      description,
	})
	c.publish(ctx, events.InvestmentCompleted{
		TransactionID: txID,
		TenantID:      principal.TenantID,
		PrincipalID:   principal.ID,
		AssetID:       asset.ID,
		AssetSymbol:   asset.Symbol,
		Units:         money.FormatUnits(units),
		Amount:        value.String(),
		Kind:          ledger.KindDivestment,
		OccurredAt:    time.Now().UTC(),
	})

	return &Receipt{TransactionID: txID, Units: units, Amount: value}, nil
}

// GrantFunds credits a principal's wallet from the tenant reserve (the test
// fund faucet).
func (c *Coordinator) GrantFunds(ctx context.Context, principalID string, amount decimal.Decimal) (string, error) {
	principal, err := c.identity.Principal(ctx, principalID)
	if err != nil {
		var notFound *identity.NotFoundError
		if errors.As(err, &notFound) {
			return "", newError(KindNotFound, err)
		}
		return "", newError(KindInternal, err)
	}

	txID, err := c.ledger.GrantFunds(ctx, principal.TenantID, principal.WalletAccountID, amount)
	if err != nil {
		var invalid *ledger.InvalidAmountError
		if errors.As(err, &invalid) {
			return "", newError(KindInvalidAmount, err)
		}
		return "", newError(KindInternal, err)
	}

	c.record(audit.Event{
		TenantID:    principal.TenantID,
		PrincipalID: principal.ID,
		Action:      audit.ActionGrant,
		Detail:      fmt.Sprintf("granted %s", amount),
	})
	return txID, nil
}

// Balance returns the principal's wallet balance.
func (c *Coordinator) Balance(ctx context.Context, principalID string) (decimal.Decimal, error) {
	principal, err := c.identity.Principal(ctx, principalID)
	if err != nil {
		var notFound *identity.NotFoundError
		if errors.As(err, &notFound) {
			return decimal.Zero, newError(KindNotFound, err)
		}
		return decimal.Zero, newError(KindInternal, err)
	}

	balance, err := c.ledger.BalanceOf(ctx, principal.WalletAccountID)
	if err != nil {
		return decimal.Zero, newError(KindInternal, err)
	}
	return balance, nil
}

// Positions returns the principal's open holdings.
func (c *Coordinator) Positions(ctx context.Context, principalID string) ([]*holdings.Holding, error) {
	principal, err := c.identity.Principal(ctx, principalID)
	if err != nil {
		var notFound *identity.NotFoundError
		if errors.As(err, &notFound) {
			return nil, newError(KindNotFound, err)
		}
		return nil, newError(KindInternal, err)
	}

	positions, err := c.holdings.Holdings(ctx, principal.WalletAccountID)
	if err != nil {
		return nil, newError(KindInternal, err)
	}
	return positions, nil
}

func (c *Coordinator) releaseReservation(ctx context.Context, principal *identity.Principal, asset *catalog.Asset, units decimal.Decimal, reason string) {
	c.record(audit.Event{
		TenantID:    principal.TenantID,
		PrincipalID: principal.ID,
		ResourceID:  asset.ID,
		Action:      audit.ActionRollback,
		Detail:      reason,
	})
	if err := c.assets.Release(ctx, principal.TenantID, asset.ID, units); err != nil {
		// A reservation we made cannot legally fail to release.
		c.logger.Error("invariant breach: failed to release reserved inventory",
			"asset_id", asset.ID, "units", units.String(), "error", err)
	}
}

func (c *Coordinator) record(event audit.Event) {
	if c.audit == nil {
		return
	}
	if _, err := c.audit.Append(event); err != nil {
		c.logger.Error("failed to append audit record", "action", event.Action, "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, event events.InvestmentCompleted) {
	if err := c.events.PublishInvestment(ctx, event); err != nil {
		c.logger.Warn("failed to publish investment event",
			"transaction_id", event.TransactionID, "error", err)
	}
}
