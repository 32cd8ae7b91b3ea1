// Package identity holds tenants and principals. Principals carry the
// attributes the policy engine consumes; attribute resolution happens here so
// the policy engine itself never touches storage.
package identity

import (
	"context"
	"fmt"
	"time"
)

// Tenant is the isolation boundary. Every principal, account, and asset
// belongs to exactly one tenant, and the id never changes once created.
type Tenant struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
}

// Principal is an investor. RiskTolerance is 1-5; WalletAccountID points at
// the principal's cash account in the ledger.
type Principal struct {
	ID              string
	TenantID        string
	Username        string
	RiskTolerance   int
	Accredited      bool
	WalletAccountID string
	CreatedAt       time.Time
}

// NotFoundError reports a missing tenant or principal.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Store persists tenants and principals.
type Store interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	Tenant(ctx context.Context, tenantID string) (*Tenant, error)
	CreatePrincipal(ctx context.Context, principal *Principal) error
	Principal(ctx context.Context, principalID string) (*Principal, error)
	Principals(ctx context.Context, tenantID string) ([]*Principal, error)
}
