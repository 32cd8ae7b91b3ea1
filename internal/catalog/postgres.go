package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore is the pgx-backed catalog store. The inventory mutation is a
// storage-level conditional update rather than an in-process lock, so it stays
// correct when multiple process instances run against the same database.
//
// Persisted layout:
//
//	assets (id, tenant_id, symbol, name, unit_price, risk_level,
//	        accreditation_required, total_units, available_units,
//	        escrow_account_id, created_at)
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed catalog store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// CreateAsset inserts a new asset row.
func (ps *PostgresStore) CreateAsset(ctx context.Context, asset *Asset) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := ps.Pool.Exec(queryCtx, `
		INSERT INTO assets (id, tenant_id, symbol, name, unit_price, risk_level,
			accreditation_required, total_units, available_units, escrow_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, asset.ID, asset.TenantID, asset.Symbol, asset.Name, asset.UnitPrice, asset.RiskLevel,
		asset.AccreditationRequired, asset.TotalUnits, asset.AvailableUnits,
		asset.EscrowAccountID, asset.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

func scanAsset(row pgx.Row, tenantID, assetID string) (*Asset, error) {
	var a Asset
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Symbol, &a.Name, &a.UnitPrice, &a.RiskLevel,
		&a.AccreditationRequired, &a.TotalUnits, &a.AvailableUnits,
		&a.EscrowAccountID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &UnknownAssetError{AssetID: assetID, TenantID: tenantID}
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &a, nil
}

// Asset resolves an asset within a tenant.
func (ps *PostgresStore) Asset(ctx context.Context, tenantID, assetID string) (*Asset, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := ps.Pool.QueryRow(queryCtx, `
		SELECT id, tenant_id, symbol, name, unit_price, risk_level,
			accreditation_required, total_units, available_units, escrow_account_id, created_at
		FROM assets
		WHERE id = $1 AND tenant_id = $2
	`, assetID, tenantID)
	return scanAsset(row, tenantID, assetID)
}

// Assets lists a tenant's assets ordered by symbol.
func (ps *PostgresStore) Assets(ctx context.Context, tenantID string) ([]*Asset, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := ps.Pool.Query(queryCtx, `
		SELECT id, tenant_id, symbol, name, unit_price, risk_level,
			accreditation_required, total_units, available_units, escrow_account_id, created_at
		FROM assets
		WHERE tenant_id = $1
		ORDER BY symbol
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Symbol, &a.Name, &a.UnitPrice, &a.RiskLevel,
			&a.AccreditationRequired, &a.TotalUnits, &a.AvailableUnits,
			&a.EscrowAccountID, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

// Reserve performs the atomic compare-and-decrement: the row only changes when
// enough units remain, so concurrent reservations for the same asset serialize
// on the row and exactly one wins the last units.
func (ps *PostgresStore) Reserve(ctx context.Context, tenantID, assetID string, units decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("reservation units must be positive, got %s", units)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := ps.Pool.Exec(queryCtx, `
		UPDATE assets
		SET available_units = available_units - $3
		WHERE id = $1 AND tenant_id = $2 AND available_units >= $3
	`, assetID, tenantID, units)
	if err != nil {
		return fmt.Errorf("failed to reserve inventory: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing asset from an insufficient one.
	asset, lookupErr := ps.Asset(ctx, tenantID, assetID)
	if lookupErr != nil {
		return lookupErr
	}
	return &InsufficientInventoryError{
		AssetID:   assetID,
		Requested: units,
		Available: asset.AvailableUnits,
	}
}

// Release returns units to the pool with the symmetric conditional update. A
// release that would exceed total_units affects no row and surfaces as an
// invariant breach.
func (ps *PostgresStore) Release(ctx context.Context, tenantID, assetID string, units decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("release units must be positive, got %s", units)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := ps.Pool.Exec(queryCtx, `
		UPDATE assets
		SET available_units = available_units + $3
		WHERE id = $1 AND tenant_id = $2 AND available_units + $3 <= total_units
	`, assetID, tenantID, units)
	if err != nil {
		return fmt.Errorf("failed to release inventory: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, lookupErr := ps.Asset(ctx, tenantID, assetID); lookupErr != nil {
		return lookupErr
	}
	return &InvariantViolationError{
		AssetID: assetID,
		Detail:  fmt.Sprintf("release of %s units would exceed total inventory", units),
	}
}

var _ Store = (*PostgresStore)(nil)
