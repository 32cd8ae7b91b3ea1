package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type memoryAsset struct {
	mu    sync.Mutex // guards available only; the rest is immutable here
	asset Asset
}

// MemoryStore is an in-memory catalog store. Each asset carries its own lock,
// so reservations for different assets proceed independently while the
// check-and-decrement for one asset is a single critical section.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]*memoryAsset
}

// NewMemoryStore returns an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[string]*memoryAsset)}
}

// CreateAsset registers an asset with its full inventory available.
func (m *MemoryStore) CreateAsset(_ context.Context, asset *Asset) error {
	if asset.TotalUnits.Sign() < 0 {
		return fmt.Errorf("total units must not be negative")
	}
	if asset.AvailableUnits.Sign() < 0 || asset.AvailableUnits.GreaterThan(asset.TotalUnits) {
		return fmt.Errorf("available units must be within [0, total]")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assets[asset.ID]; exists {
		return fmt.Errorf("asset %s already exists", asset.ID)
	}
	m.assets[asset.ID] = &memoryAsset{asset: *asset}
	return nil
}

func (m *MemoryStore) lookup(tenantID, assetID string) (*memoryAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ma, ok := m.assets[assetID]
	if !ok || ma.asset.TenantID != tenantID {
		return nil, &UnknownAssetError{AssetID: assetID, TenantID: tenantID}
	}
	return ma, nil
}

// Asset returns a snapshot of the asset within a tenant.
func (m *MemoryStore) Asset(_ context.Context, tenantID, assetID string) (*Asset, error) {
	ma, err := m.lookup(tenantID, assetID)
	if err != nil {
		return nil, err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()
	copied := ma.asset
	return &copied, nil
}

// Assets lists a tenant's assets ordered by symbol.
func (m *MemoryStore) Assets(_ context.Context, tenantID string) ([]*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Asset
	for _, ma := range m.assets {
		if ma.asset.TenantID != tenantID {
			continue
		}
		ma.mu.Lock()
		copied := ma.asset
		ma.mu.Unlock()
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Reserve decrements available units if and only if enough remain. The check
// and the decrement happen under the asset's lock as one step.
func (m *MemoryStore) Reserve(_ context.Context, tenantID, assetID string, units decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("reservation units must be positive, got %s", units)
	}

	ma, err := m.lookup(tenantID, assetID)
	if err != nil {
		return err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	if units.GreaterThan(ma.asset.AvailableUnits) {
		return &InsufficientInventoryError{
			AssetID:   assetID,
			Requested: units,
			Available: ma.asset.AvailableUnits,
		}
	}
	ma.asset.AvailableUnits = ma.asset.AvailableUnits.Sub(units)
	return nil
}

// Release returns units to the available pool. Pushing available past total
// is an invariant breach, not a recoverable rejection.
func (m *MemoryStore) Release(_ context.Context, tenantID, assetID string, units decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("release units must be positive, got %s", units)
	}

	ma, err := m.lookup(tenantID, assetID)
	if err != nil {
		return err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	restored := ma.asset.AvailableUnits.Add(units)
	if restored.GreaterThan(ma.asset.TotalUnits) {
		return &InvariantViolationError{
			AssetID: assetID,
			Detail: fmt.Sprintf("release of %s units would leave %s available of %s total",
				units, restored, ma.asset.TotalUnits),
		}
	}
	ma.asset.AvailableUnits = restored
	return nil
}

var _ Store = (*MemoryStore)(nil)
