package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore is the pgx-backed Store. Appends run in SERIALIZABLE
// transactions with the touched balance rows locked FOR UPDATE in account-id
// order, and serialization failures are retried with a linear backoff.
//
// Persisted layout:
//
//	ledger_accounts  (id, tenant_id, owner_id, account_type, category, currency, name, created_at)
//	ledger_balances  (account_id PK, balance, last_sequence)   -- cache, rebuildable from entries
//	ledger_entries   (id, transaction_id, account_id, amount, currency, sequence, created_at,
//	                  UNIQUE (account_id, sequence))
//	ledger_transactions (id, tenant_id, kind, reference, description, created_at)
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed ledger store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const maxRetries = 3

// withSerializableRetry runs fn in a SERIALIZABLE transaction, retrying on
// serialization failures (SQLSTATE 40001).
func (ps *PostgresStore) withSerializableRetry(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = ps.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(lastErr, &pgErr) && pgErr.Code == "40001" {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return lastErr
	}
	return fmt.Errorf("aborted after %d retries due to serialization failure: %w", maxRetries, lastErr)
}

func (ps *PostgresStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := ps.Pool.Acquire(queryCtx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	if err := fn(queryCtx, tx); err != nil {
		return err
	}
	return tx.Commit(queryCtx)
}

// CreateAccount inserts the account and initializes its balance cache row.
func (ps *PostgresStore) CreateAccount(ctx context.Context, account *Account) error {
	return ps.withSerializableRetry(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_accounts (id, tenant_id, owner_id, account_type, category, currency, name, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, account.ID, account.TenantID, account.OwnerID, account.Type, account.Category,
			account.Currency, account.Name, account.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_balances (account_id, balance, last_sequence)
			VALUES ($1, 0, 0)
		`, account.ID)
		if err != nil {
			return fmt.Errorf("failed to initialize balance: %w", err)
		}
		return nil
	})
}

func scanAccount(row pgx.Row, tenantID string, accountID string) (*Account, error) {
	var account Account
	err := row.Scan(
		&account.ID, &account.TenantID, &account.OwnerID, &account.Type,
		&account.Category, &account.Currency, &account.Name, &account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &UnknownAccountError{AccountID: accountID, TenantID: tenantID}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// Account resolves an account within a tenant.
func (ps *PostgresStore) Account(ctx context.Context, tenantID, accountID string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := ps.Pool.QueryRow(queryCtx, `
		SELECT id, tenant_id, owner_id, account_type, category, currency, name, created_at
		FROM ledger_accounts
		WHERE id = $1 AND tenant_id = $2
	`, accountID, tenantID)
	return scanAccount(row, tenantID, accountID)
}

// AccountByCategory finds the tenant's account for a category and owner.
func (ps *PostgresStore) AccountByCategory(ctx context.Context, tenantID string, category Category, ownerID string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := ps.Pool.QueryRow(queryCtx, `
		SELECT id, tenant_id, owner_id, account_type, category, currency, name, created_at
		FROM ledger_accounts
		WHERE tenant_id = $1 AND category = $2 AND owner_id = $3
	`, tenantID, category, ownerID)
	return scanAccount(row, tenantID, string(category))
}

// Append writes all postings of a transaction atomically. Balance rows are
// locked in account-id order; the asset-account overdraft guard runs against
// the locked balances, so concurrent debits serialize per account.
func (ps *PostgresStore) Append(ctx context.Context, ledgerTx *Transaction) error {
	return ps.withSerializableRetry(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ids := make([]string, 0, len(ledgerTx.Postings))
		seen := make(map[string]bool, len(ledgerTx.Postings))
		for _, p := range ledgerTx.Postings {
			if !seen[p.AccountID] {
				seen[p.AccountID] = true
				ids = append(ids, p.AccountID)
			}
		}

		rows, err := tx.Query(ctx, `
			SELECT a.id, a.account_type, a.currency, b.balance, b.last_sequence
			FROM ledger_accounts a
			JOIN ledger_balances b ON b.account_id = a.id
			WHERE a.id = ANY($1) AND a.tenant_id = $2
			ORDER BY a.id
			FOR UPDATE OF b
		`, ids, ledgerTx.TenantID)
		if err != nil {
			return fmt.Errorf("failed to lock balances: %w", err)
		}

		type lockedAccount struct {
			accountType AccountType
			currency    string
			balance     decimal.Decimal
			lastSeq     int64
		}
		locked := make(map[string]*lockedAccount, len(ids))
		for rows.Next() {
			var id string
			la := &lockedAccount{}
			if err := rows.Scan(&id, &la.accountType, &la.currency, &la.balance, &la.lastSeq); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan locked balance: %w", err)
			}
			locked[id] = la
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read locked balances: %w", err)
		}

		for _, id := range ids {
			if _, ok := locked[id]; !ok {
				return &UnknownAccountError{AccountID: id, TenantID: ledgerTx.TenantID}
			}
		}

		next := make(map[string]decimal.Decimal, len(ids))
		for id, la := range locked {
			next[id] = la.balance
		}
		for _, p := range ledgerTx.Postings {
			next[p.AccountID] = next[p.AccountID].Add(p.Amount)
		}
		for id, balance := range next {
			if locked[id].accountType == TypeAsset && balance.Sign() < 0 {
				return &InsufficientFundsError{
					AccountID: id,
					Balance:   locked[id].balance,
					Requested: locked[id].balance.Sub(balance),
				}
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_transactions (id, tenant_id, kind, reference, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ledgerTx.ID, ledgerTx.TenantID, ledgerTx.Kind, ledgerTx.Reference,
			ledgerTx.Description, ledgerTx.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		for _, p := range ledgerTx.Postings {
			la := locked[p.AccountID]
			la.lastSeq++
			_, err = tx.Exec(ctx, `
				INSERT INTO ledger_entries (id, transaction_id, account_id, amount, currency, sequence, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, uuid.NewString(), ledgerTx.ID, p.AccountID, p.Amount, la.currency, la.lastSeq, ledgerTx.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert entry: %w", err)
			}
		}

		for id, la := range locked {
			_, err = tx.Exec(ctx, `
				UPDATE ledger_balances SET balance = $2, last_sequence = $3 WHERE account_id = $1
			`, id, next[id], la.lastSeq)
			if err != nil {
				return fmt.Errorf("failed to update balance cache: %w", err)
			}
		}
		return nil
	})
}

// Balance returns the cached balance for an account.
func (ps *PostgresStore) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var balance decimal.Decimal
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT balance FROM ledger_balances WHERE account_id = $1
	`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, &UnknownAccountError{AccountID: accountID}
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Entries returns the account's entry log ordered by sequence.
func (ps *PostgresStore) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := ps.Pool.Query(queryCtx, `
		SELECT id, transaction_id, account_id, amount, currency, sequence, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY sequence ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Amount, &e.Currency, &e.Sequence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying pool.
func (ps *PostgresStore) Close() {
	ps.Pool.Close()
}

var _ Store = (*PostgresStore)(nil)
