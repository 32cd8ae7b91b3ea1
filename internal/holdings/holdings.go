// Package holdings tracks each account's fractional asset positions. Holding
// quantities are written only through the investment coordinator; they are
// never negative, and purchases maintain a weighted average cost per unit.
package holdings

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Holding relates one account to one asset.
type Holding struct {
	AccountID   string
	AssetID     string
	Units       decimal.Decimal
	AverageCost decimal.Decimal
	UpdatedAt   time.Time
}

// InsufficientHoldingsError reports a sale of more units than the account
// holds.
type InsufficientHoldingsError struct {
	AccountID string
	AssetID   string
	Held      decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientHoldingsError) Error() string {
	return fmt.Sprintf("account %s holds %s units of asset %s, cannot remove %s",
		e.AccountID, e.Held, e.AssetID, e.Requested)
}

// Store persists holdings. AddUnits creates the holding on first purchase and
// recomputes the weighted average cost; RemoveUnits never lets a holding go
// negative. Both are atomic check-and-mutate steps.
type Store interface {
	Holding(ctx context.Context, accountID, assetID string) (*Holding, error)
	Holdings(ctx context.Context, accountID string) ([]*Holding, error)
	AddUnits(ctx context.Context, accountID, assetID string, units, cost decimal.Decimal) error
	RemoveUnits(ctx context.Context, accountID, assetID string, units decimal.Decimal) error
}
