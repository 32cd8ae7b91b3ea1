package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink persists audit records to a local sqlite database. The table is
// append-only; loading it back allows the chain to be verified offline.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (and if needed initializes) the audit database at path.
// Use ":memory:" for an ephemeral sink.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      TEXT NOT NULL,
			previous_hash  TEXT NOT NULL,
			tenant_id      TEXT NOT NULL,
			principal_id   TEXT NOT NULL,
			resource_id    TEXT NOT NULL DEFAULT '',
			action         TEXT NOT NULL,
			rule           TEXT NOT NULL DEFAULT '',
			detail         TEXT NOT NULL DEFAULT '',
			hash           TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write appends one record.
func (s *SQLiteSink) Write(record *Record) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_records (timestamp, previous_hash, tenant_id, principal_id, resource_id, action, rule, detail, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.Timestamp, record.PreviousHash, record.Event.TenantID, record.Event.PrincipalID,
		record.Event.ResourceID, record.Event.Action, record.Event.Rule, record.Event.Detail, record.Hash)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Load reads the full trail back in append order.
func (s *SQLiteSink) Load() ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, previous_hash, tenant_id, principal_id, resource_id, action, rule, detail, hash
		FROM audit_records
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record := &Record{}
		if err := rows.Scan(&record.Timestamp, &record.PreviousHash,
			&record.Event.TenantID, &record.Event.PrincipalID, &record.Event.ResourceID,
			&record.Event.Action, &record.Event.Rule, &record.Event.Detail, &record.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// LastHash returns the hash of the most recent record, or the empty string
// for a fresh trail. A recorder resuming over this sink must chain from it.
func (s *SQLiteSink) LastHash() (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM audit_records ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read audit chain head: %w", err)
	}
	return hash, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*SQLiteSink)(nil)
