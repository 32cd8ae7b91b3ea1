// Package catalog tracks the asset catalog and its fractional inventory. The
// allocator performs the locked compare-and-decrement that keeps concurrent
// purchases from overselling an asset.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a tenant-scoped investable asset. UnitPrice is written by an
// external price process; this core only reads it. AvailableUnits is mutated
// exclusively by Reserve and Release, and satisfies
// 0 <= AvailableUnits <= TotalUnits at all times.
type Asset struct {
	ID                    string
	TenantID              string
	Symbol                string
	Name                  string
	UnitPrice             decimal.Decimal
	RiskLevel             int
	AccreditationRequired bool
	TotalUnits            decimal.Decimal
	AvailableUnits        decimal.Decimal
	EscrowAccountID       string
	CreatedAt             time.Time
}

// UnknownAssetError reports an asset that does not exist within the caller's
// tenant.
type UnknownAssetError struct {
	AssetID  string
	TenantID string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("asset %s not found in tenant %s", e.AssetID, e.TenantID)
}

// InsufficientInventoryError reports a reservation larger than the remaining
// inventory. This is an ordinary business rejection.
type InsufficientInventoryError struct {
	AssetID   string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("cannot reserve %s units of asset %s: only %s available", e.Requested, e.AssetID, e.Available)
}

// InvariantViolationError reports a state that the design makes impossible,
// such as a release that would push available units past the total. It
// indicates a bug and must never be treated as a normal denial.
type InvariantViolationError struct {
	AssetID string
	Detail  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("inventory invariant violated for asset %s: %s", e.AssetID, e.Detail)
}

// Store holds assets and performs the locked inventory mutations. Reserve and
// Release are atomic check-and-mutate operations: implementations hold
// exclusive access to the asset's counter for the full step, and operations on
// different assets never block each other.
type Store interface {
	CreateAsset(ctx context.Context, asset *Asset) error
	Asset(ctx context.Context, tenantID, assetID string) (*Asset, error)
	Assets(ctx context.Context, tenantID string) ([]*Asset, error)
	Reserve(ctx context.Context, tenantID, assetID string, units decimal.Decimal) error
	Release(ctx context.Context, tenantID, assetID string, units decimal.Decimal) error
}
