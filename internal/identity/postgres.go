package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed identity store.
//
// Persisted layout:
//
//	tenants    (id, slug, name, created_at)
//	principals (id, tenant_id, username, risk_tolerance, is_accredited,
//	            wallet_account_id, created_at)
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed identity store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

func (ps *PostgresStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := ps.Pool.Exec(queryCtx, `
		INSERT INTO tenants (id, slug, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, tenant.ID, tenant.Slug, tenant.Name, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Tenant(ctx context.Context, tenantID string) (*Tenant, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var t Tenant
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT id, slug, name, created_at FROM tenants WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Slug, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Kind: "tenant", ID: tenantID}
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

func (ps *PostgresStore) CreatePrincipal(ctx context.Context, principal *Principal) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := ps.Pool.Exec(queryCtx, `
		INSERT INTO principals (id, tenant_id, username, risk_tolerance, is_accredited, wallet_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, principal.ID, principal.TenantID, principal.Username, principal.RiskTolerance,
		principal.Accredited, principal.WalletAccountID, principal.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert principal: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Principal(ctx context.Context, principalID string) (*Principal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Principal
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT id, tenant_id, username, risk_tolerance, is_accredited, wallet_account_id, created_at
		FROM principals
		WHERE id = $1
	`, principalID).Scan(&p.ID, &p.TenantID, &p.Username, &p.RiskTolerance,
		&p.Accredited, &p.WalletAccountID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Kind: "principal", ID: principalID}
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return &p, nil
}

func (ps *PostgresStore) Principals(ctx context.Context, tenantID string) ([]*Principal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := ps.Pool.Query(queryCtx, `
		SELECT id, tenant_id, username, risk_tolerance, is_accredited, wallet_account_id, created_at
		FROM principals
		WHERE tenant_id = $1
		ORDER BY username
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query principals: %w", err)
	}
	defer rows.Close()

	var out []*Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Username, &p.RiskTolerance,
			&p.Accredited, &p.WalletAccountID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
