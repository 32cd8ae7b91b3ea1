package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store implementation. It backs the demo mode
// and the unit tests, and mirrors the locking discipline of the Postgres
// store: appends touching an account are serialized by that account's lock,
// and multi-account appends acquire locks in account-id order so concurrent
// transactions never deadlock.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	entries  map[string][]Entry
	balances map[string]decimal.Decimal
	lastSeq  map[string]int64

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewMemoryStore returns an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		entries:  make(map[string][]Entry),
		balances: make(map[string]decimal.Decimal),
		lastSeq:  make(map[string]int64),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) accountLock(accountID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	if _, ok := m.locks[accountID]; !ok {
		m.locks[accountID] = &sync.Mutex{}
	}
	return m.locks[accountID]
}

// CreateAccount registers a new account with a zero balance.
func (m *MemoryStore) CreateAccount(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}

	copied := *account
	m.accounts[account.ID] = &copied
	m.balances[account.ID] = decimal.Zero
	return nil
}

// Account resolves an account within a tenant.
func (m *MemoryStore) Account(_ context.Context, tenantID, accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return nil, &UnknownAccountError{AccountID: accountID, TenantID: tenantID}
	}
	copied := *account
	return &copied, nil
}

// AccountByCategory finds the tenant's account with the given category and
// owner. System accounts use an empty owner id.
func (m *MemoryStore) AccountByCategory(_ context.Context, tenantID string, category Category, ownerID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, account := range m.accounts {
		if account.TenantID == tenantID && account.Category == category && account.OwnerID == ownerID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, &UnknownAccountError{AccountID: string(category), TenantID: tenantID}
}

// Append atomically writes all postings of a transaction. The overdraft check
// for asset accounts happens under the account locks, together with the
// append, so no interleaving can pass the check against a stale balance.
func (m *MemoryStore) Append(_ context.Context, tx *Transaction) error {
	// Resolve accounts up front; validation failures must leave no effects.
	accounts := make(map[string]*Account, len(tx.Postings))
	m.mu.RLock()
	for _, p := range tx.Postings {
		account, ok := m.accounts[p.AccountID]
		if !ok || account.TenantID != tx.TenantID {
			m.mu.RUnlock()
			return &UnknownAccountError{AccountID: p.AccountID, TenantID: tx.TenantID}
		}
		accounts[p.AccountID] = account
	}
	m.mu.RUnlock()

	// Fixed global lock order: account id ascending.
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lock := m.accountLock(id)
		lock.Lock()
		defer lock.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every prospective balance before mutating anything.
	next := make(map[string]decimal.Decimal, len(accounts))
	for id := range accounts {
		next[id] = m.balances[id]
	}
	for _, p := range tx.Postings {
		next[p.AccountID] = next[p.AccountID].Add(p.Amount)
	}
	for id, balance := range next {
		if accounts[id].Type == TypeAsset && balance.Sign() < 0 {
			return &InsufficientFundsError{
				AccountID: id,
				Balance:   m.balances[id],
				Requested: m.balances[id].Sub(balance),
			}
		}
	}

	now := tx.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	for _, p := range tx.Postings {
		seq := m.lastSeq[p.AccountID] + 1
		m.lastSeq[p.AccountID] = seq
		m.entries[p.AccountID] = append(m.entries[p.AccountID], Entry{
			ID:            uuid.NewString(),
			TransactionID: tx.ID,
			AccountID:     p.AccountID,
			Amount:        p.Amount,
			Currency:      accounts[p.AccountID].Currency,
			Sequence:      seq,
			CreatedAt:     now,
		})
		m.balances[p.AccountID] = next[p.AccountID]
	}
	return nil
}

// Balance returns the cached balance for an account.
func (m *MemoryStore) Balance(_ context.Context, accountID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.balances[accountID]
	if !ok {
		return decimal.Zero, &UnknownAccountError{AccountID: accountID}
	}
	return balance, nil
}

// Entries returns a copy of the account's entry log, ordered by sequence.
func (m *MemoryStore) Entries(_ context.Context, accountID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.balances[accountID]; !ok {
		return nil, &UnknownAccountError{AccountID: accountID}
	}
	copied := make([]Entry, len(m.entries[accountID]))
	copy(copied, m.entries[accountID])
	return copied, nil
}

var _ Store = (*MemoryStore)(nil)
