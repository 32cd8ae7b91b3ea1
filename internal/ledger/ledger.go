// Package ledger implements the double-entry accounting core. Entries are
// append-only: balances are projections of the entry log, corrections are made
// by posting reversing transactions, and nothing ever updates or deletes an
// entry.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType determines which side of the balance sheet an account sits on.
// Asset accounts (user wallets) may never go negative; liability accounts
// (system reserve, asset escrow) absorb the balancing side.
type AccountType string

const (
	TypeAsset     AccountType = "asset"
	TypeLiability AccountType = "liability"
)

// Category identifies the role an account plays in the system.
type Category string

const (
	CategoryWallet  Category = "user_wallet"
	CategoryReserve Category = "system_reserve"
	CategoryEscrow  Category = "asset_escrow"
)

// Account is a tenant-scoped ledger account. Its balance is never stored as
// ground truth; it is derived from entries (stores may cache it under the same
// write path used for appending).
type Account struct {
	ID        string
	TenantID  string
	OwnerID   string // empty for system accounts
	Type      AccountType
	Category  Category
	Currency  string
	Name      string
	CreatedAt time.Time
}

// Posting is one leg of a transaction: a signed amount against an account.
// Negative amounts debit the account, positive amounts credit it.
type Posting struct {
	AccountID string
	Amount    decimal.Decimal
}

// Entry is one immutable, persisted ledger record. Sequence increases
// monotonically per account so the log can be replayed in order.
type Entry struct {
	ID            string
	TransactionID string
	AccountID     string
	Amount        decimal.Decimal
	Currency      string
	Sequence      int64
	CreatedAt     time.Time
}

// Transaction is a balanced set of postings persisted atomically: either every
// entry is appended or none is.
type Transaction struct {
	ID          string
	TenantID    string
	Kind        string
	Reference   string
	Description string
	Postings    []Posting
	CreatedAt   time.Time
}

// Transaction kinds.
const (
	KindFaucet     = "FAUCET"
	KindInvestment = "INVESTMENT"
	KindDivestment = "DIVESTMENT"
	KindReversal   = "REVERSAL"
)

// ImbalancedTransactionError reports a transaction whose postings do not sum
// to zero. This indicates a bug in the caller, not a business rejection.
type ImbalancedTransactionError struct {
	TransactionID string
	Sum           decimal.Decimal
}

func (e *ImbalancedTransactionError) Error() string {
	return fmt.Sprintf("transaction %s is imbalanced: postings sum to %s, want 0", e.TransactionID, e.Sum)
}

// UnknownAccountError reports a posting against an account that does not exist
// within the caller's tenant.
type UnknownAccountError struct {
	AccountID string
	TenantID  string
}

func (e *UnknownAccountError) Error() string {
	return fmt.Sprintf("account %s not found in tenant %s", e.AccountID, e.TenantID)
}

// InsufficientFundsError reports that a debit would take an asset account
// below zero. The check happens atomically with the append, under the
// account's lock, so two concurrent debits can never both pass it.
type InsufficientFundsError struct {
	AccountID string
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %s: have %s, need %s", e.AccountID, e.Balance, e.Requested)
}

// InvalidAmountError reports an amount that is not usable for a posting.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

// Store persists accounts and entries. Append is the only write path for
// entries and must be atomic: all postings land with their sequences and the
// cached balances updated, or nothing changes. Implementations serialize
// appends per account and enforce the asset-account overdraft guard inside
// that critical section.
type Store interface {
	CreateAccount(ctx context.Context, account *Account) error
	Account(ctx context.Context, tenantID, accountID string) (*Account, error)
	AccountByCategory(ctx context.Context, tenantID string, category Category, ownerID string) (*Account, error)
	Append(ctx context.Context, tx *Transaction) error
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	Entries(ctx context.Context, accountID string) ([]Entry, error)
}
