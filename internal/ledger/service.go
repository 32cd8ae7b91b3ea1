package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/equishard/pkg/money"
)

// Service provides the high-level API for double-entry bookkeeping. All money
// movement goes through Post so the zero-sum invariant is checked in one
// place.
type Service struct {
	store Store
}

// NewService creates a ledger service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateAccount validates and creates a ledger account.
func (s *Service) CreateAccount(ctx context.Context, account *Account) (*Account, error) {
	if account.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if account.Type != TypeAsset && account.Type != TypeLiability {
		return nil, fmt.Errorf("invalid account type: %s", account.Type)
	}
	if len(account.Currency) != 3 {
		return nil, fmt.Errorf("currency code must be 3 characters")
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// Post appends a balanced transaction. It fails with
// ImbalancedTransactionError when the postings do not sum to zero and
// UnknownAccountError when any account is not resolvable within the tenant.
// On success it returns the persisted transaction id.
func (s *Service) Post(ctx context.Context, tenantID, kind, description string, postings []Posting) (string, error) {
	if len(postings) < 2 {
		return "", fmt.Errorf("a transaction needs at least two postings, got %d", len(postings))
	}

	sum := decimal.Zero
	for _, p := range postings {
		if p.AccountID == "" {
			return "", &UnknownAccountError{AccountID: "", TenantID: tenantID}
		}
		if p.Amount.IsZero() {
			return "", &InvalidAmountError{Amount: p.Amount, Reason: "posting amount must be non-zero"}
		}
		if p.Amount.Abs().GreaterThan(money.MaxAmount) {
			return "", &InvalidAmountError{Amount: p.Amount, Reason: "posting amount exceeds maximum"}
		}
		sum = sum.Add(p.Amount)
	}

	tx := &Transaction{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Kind:        kind,
		Description: description,
		Postings:    postings,
		CreatedAt:   time.Now().UTC(),
	}
	tx.Reference = fmt.Sprintf("%s-%s", kind, strings.ToUpper(strings.ReplaceAll(tx.ID, "-", "")[:12]))

	if !sum.IsZero() {
		return "", &ImbalancedTransactionError{TransactionID: tx.ID, Sum: sum}
	}

	if err := s.store.Append(ctx, tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

// Transfer posts the canonical two-legged transaction: debit from, credit to.
func (s *Service) Transfer(ctx context.Context, tenantID, fromAccountID, toAccountID string, amount decimal.Decimal, kind, description string) (string, error) {
	if fromAccountID == toAccountID {
		return "", fmt.Errorf("from and to accounts must be different")
	}
	if !money.ValidAmount(amount) {
		return "", &InvalidAmountError{Amount: amount, Reason: "transfer amount must be a positive currency amount"}
	}

	return s.Post(ctx, tenantID, kind, description, []Posting{
		{AccountID: fromAccountID, Amount: amount.Neg()},
		{AccountID: toAccountID, Amount: amount},
	})
}

// GrantFunds credits a wallet from the tenant's system reserve. This is the
// only way money enters the system.
func (s *Service) GrantFunds(ctx context.Context, tenantID, walletAccountID string, amount decimal.Decimal) (string, error) {
	if !money.ValidAmount(amount) {
		return "", &InvalidAmountError{Amount: amount, Reason: "grant amount must be a positive currency amount"}
	}

	reserve, err := s.store.AccountByCategory(ctx, tenantID, CategoryReserve, "")
	if err != nil {
		return "", fmt.Errorf("failed to resolve system reserve: %w", err)
	}

	return s.Post(ctx, tenantID, KindFaucet, "test fund grant", []Posting{
		{AccountID: reserve.ID, Amount: amount.Neg()},
		{AccountID: walletAccountID, Amount: amount},
	})
}

// BalanceOf returns the account's current balance.
func (s *Service) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if accountID == "" {
		return decimal.Zero, fmt.Errorf("account ID is required")
	}
	return s.store.Balance(ctx, accountID)
}

// History returns the account's entries ordered by sequence.
func (s *Service) History(ctx context.Context, accountID string) ([]Entry, error) {
	return s.store.Entries(ctx, accountID)
}

// ReplayBalance recomputes a balance by replaying the entry log. Cached
// balances must always agree with this; disagreement means a bug, and callers
// treat it as an invariant breach rather than a recoverable condition.
func (s *Service) ReplayBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	entries, err := s.store.Entries(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero
	var lastSeq int64
	for _, e := range entries {
		if e.Sequence <= lastSeq {
			return decimal.Zero, fmt.Errorf("entry log for account %s is not strictly ordered at sequence %d", accountID, e.Sequence)
		}
		lastSeq = e.Sequence
		balance = balance.Add(e.Amount)
	}
	return balance, nil
}

// VerifyAccount cross-checks the cached balance against a full replay.
func (s *Service) VerifyAccount(ctx context.Context, accountID string) error {
	cached, err := s.store.Balance(ctx, accountID)
	if err != nil {
		return err
	}
	replayed, err := s.ReplayBalance(ctx, accountID)
	if err != nil {
		return err
	}
	if !cached.Equal(replayed) {
		return fmt.Errorf("balance drift on account %s: cached %s, replayed %s", accountID, cached, replayed)
	}
	return nil
}
