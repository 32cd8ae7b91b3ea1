package holdings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore is the pgx-backed holdings store. Both mutations are single
// conditional statements so they stay atomic across process instances.
//
// Persisted layout:
//
//	holdings (account_id, asset_id, units, average_cost, updated_at,
//	          PRIMARY KEY (account_id, asset_id))
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed holdings store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

func (ps *PostgresStore) Holding(ctx context.Context, accountID, assetID string) (*Holding, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var h Holding
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT account_id, asset_id, units, average_cost, updated_at
		FROM holdings
		WHERE account_id = $1 AND asset_id = $2
	`, accountID, assetID).Scan(&h.AccountID, &h.AssetID, &h.Units, &h.AverageCost, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return &h, nil
}

func (ps *PostgresStore) Holdings(ctx context.Context, accountID string) ([]*Holding, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := ps.Pool.Query(queryCtx, `
		SELECT account_id, asset_id, units, average_cost, updated_at
		FROM holdings
		WHERE account_id = $1 AND units > 0
		ORDER BY asset_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var out []*Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.AccountID, &h.AssetID, &h.Units, &h.AverageCost, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// AddUnits upserts the position. The weighted average cost is recomputed in
// the statement itself so concurrent purchases serialize on the row.
func (ps *PostgresStore) AddUnits(ctx context.Context, accountID, assetID string, units, cost decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("units must be positive, got %s", units)
	}
	if cost.Sign() < 0 {
		return fmt.Errorf("cost must not be negative, got %s", cost)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	avgCost := cost.DivRound(units, 8)
	_, err := ps.Pool.Exec(queryCtx, `
		INSERT INTO holdings (account_id, asset_id, units, average_cost, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (account_id, asset_id) DO UPDATE SET
			units = holdings.units + EXCLUDED.units,
			average_cost = round(
				(holdings.units * holdings.average_cost + EXCLUDED.units * EXCLUDED.average_cost)
				/ (holdings.units + EXCLUDED.units), 8),
			updated_at = now()
	`, accountID, assetID, units, avgCost)
	if err != nil {
		return fmt.Errorf("failed to add units: %w", err)
	}
	return nil
}

// RemoveUnits is a conditional decrement; zero rows affected means the
// position is too small.
func (ps *PostgresStore) RemoveUnits(ctx context.Context, accountID, assetID string, units decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("units must be positive, got %s", units)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := ps.Pool.Exec(queryCtx, `
		UPDATE holdings
		SET units = units - $3, updated_at = now()
		WHERE account_id = $1 AND asset_id = $2 AND units >= $3
	`, accountID, assetID, units)
	if err != nil {
		return fmt.Errorf("failed to remove units: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	held := decimal.Zero
	if h, lookupErr := ps.Holding(ctx, accountID, assetID); lookupErr == nil && h != nil {
		held = h.Units
	}
	return &InsufficientHoldingsError{AccountID: accountID, AssetID: assetID, Held: held, Requested: units}
}

var _ Store = (*PostgresStore)(nil)
