package holdings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/equishard/pkg/money"
)

type key struct {
	accountID string
	assetID   string
}

// MemoryStore is the in-memory Store used by demo mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	holdings map[key]*Holding
}

// NewMemoryStore returns an empty in-memory holdings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holdings: make(map[key]*Holding)}
}

// Holding returns the position for one account/asset pair, nil when the
// account has never held the asset.
func (m *MemoryStore) Holding(_ context.Context, accountID, assetID string) (*Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holdings[key{accountID, assetID}]
	if !ok {
		return nil, nil
	}
	copied := *h
	return &copied, nil
}

// Holdings lists an account's positions ordered by asset id.
func (m *MemoryStore) Holdings(_ context.Context, accountID string) ([]*Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Holding
	for k, h := range m.holdings {
		if k.accountID == accountID && h.Units.Sign() > 0 {
			copied := *h
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

// AddUnits grows a position, creating it on first purchase. The average cost
// is the cost-weighted mean over all purchases.
func (m *MemoryStore) AddUnits(_ context.Context, accountID, assetID string, units, cost decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("units must be positive, got %s", units)
	}
	if cost.Sign() < 0 {
		return fmt.Errorf("cost must not be negative, got %s", cost)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{accountID, assetID}
	h, ok := m.holdings[k]
	if !ok {
		h = &Holding{AccountID: accountID, AssetID: assetID, Units: decimal.Zero, AverageCost: decimal.Zero}
		m.holdings[k] = h
	}

	oldCost := h.Units.Mul(h.AverageCost)
	h.Units = h.Units.Add(units)
	h.AverageCost = oldCost.Add(cost).DivRound(h.Units, money.UnitPlaces)
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveUnits shrinks a position; it fails without effect when the account
// holds fewer units than requested.
func (m *MemoryStore) RemoveUnits(_ context.Context, accountID, assetID string, units decimal.Decimal) error {
	if units.Sign() <= 0 {
		return fmt.Errorf("units must be positive, got %s", units)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holdings[key{accountID, assetID}]
	if !ok || h.Units.LessThan(units) {
		held := decimal.Zero
		if ok {
			held = h.Units
		}
		return &InsufficientHoldingsError{AccountID: accountID, AssetID: assetID, Held: held, Requested: units}
	}

	h.Units = h.Units.Sub(units)
	h.UpdatedAt = time.Now().UTC()
	return nil
}

var _ Store = (*MemoryStore)(nil)
