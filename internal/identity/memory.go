package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is the in-memory Store used by demo mode and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	tenants    map[string]*Tenant
	principals map[string]*Principal
}

// NewMemoryStore returns an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[string]*Tenant),
		principals: make(map[string]*Principal),
	}
}

func (m *MemoryStore) CreateTenant(_ context.Context, tenant *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[tenant.ID]; exists {
		return fmt.Errorf("tenant %s already exists", tenant.ID)
	}
	copied := *tenant
	m.tenants[tenant.ID] = &copied
	return nil
}

func (m *MemoryStore) Tenant(_ context.Context, tenantID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant, ok := m.tenants[tenantID]
	if !ok {
		return nil, &NotFoundError{Kind: "tenant", ID: tenantID}
	}
	copied := *tenant
	return &copied, nil
}

func (m *MemoryStore) CreatePrincipal(_ context.Context, principal *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[principal.TenantID]; !ok {
		return &NotFoundError{Kind: "tenant", ID: principal.TenantID}
	}
	if _, exists := m.principals[principal.ID]; exists {
		return fmt.Errorf("principal %s already exists", principal.ID)
	}
	copied := *principal
	m.principals[principal.ID] = &copied
	return nil
}

func (m *MemoryStore) Principal(_ context.Context, principalID string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	principal, ok := m.principals[principalID]
	if !ok {
		return nil, &NotFoundError{Kind: "principal", ID: principalID}
	}
	copied := *principal
	return &copied, nil
}

func (m *MemoryStore) Principals(_ context.Context, tenantID string) ([]*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Principal
	for _, p := range m.principals {
		if p.TenantID == tenantID {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
