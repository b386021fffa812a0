package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"awards-miles-api/internal/awards"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB creates a new database connection and initializes the schema.
// Write transactions take the database lock up front so that two requests
// against the same account cannot interleave their load and save.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS awards_accounts (
			customer_id TEXT PRIMARY KEY,
			active INTEGER NOT NULL,
			transit_count INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS miles_batches (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL REFERENCES awards_accounts(customer_id),
			seq INTEGER NOT NULL,
			transit_id TEXT NOT NULL DEFAULT '',
			granted_on TEXT NOT NULL,
			expires_on TEXT,
			original_amount INTEGER NOT NULL CHECK (original_amount > 0),
			remaining_amount INTEGER NOT NULL CHECK (remaining_amount >= 0 AND remaining_amount <= original_amount),
			UNIQUE (customer_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS customer_profiles (
			customer_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			transit_count INTEGER NOT NULL DEFAULT 0,
			claim_count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_miles_customer_seq ON miles_batches(customer_id, seq)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// CreateAccount inserts a new account. It fails with awards.ErrAccountExists
// when the customer already has one.
func (db *DB) CreateAccount(ctx context.Context, account *awards.Account) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM awards_accounts WHERE customer_id = ?`, account.CustomerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if exists > 0 {
		return awards.ErrAccountExists
	}

	if err := saveAccount(ctx, tx, account); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindAccount loads an account with all of its batches. Both reads run in
// one transaction so the batches always match the account row.
func (db *DB) FindAccount(ctx context.Context, customerID string) (*awards.Account, error) {
	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := loadAccount(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return account, nil
}

// UpdateAccount loads the full account, passes it to fn and saves the full
// account back, all inside one transaction. Nothing is written if fn fails.
func (db *DB) UpdateAccount(ctx context.Context, customerID string, fn func(*awards.Account) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := loadAccount(ctx, tx, customerID)
	if err != nil {
		return err
	}

	if err := fn(account); err != nil {
		return err
	}

	if err := saveAccount(ctx, tx, account); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func loadAccount(ctx context.Context, q querier, customerID string) (*awards.Account, error) {
	account := &awards.Account{CustomerID: customerID}
	var createdAtStr string

	err := q.QueryRowContext(ctx,
		`SELECT active, transit_count, version, created_at FROM awards_accounts WHERE customer_id = ?`,
		customerID,
	).Scan(&account.Active, &account.TransitCount, &account.Version, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, awards.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	account.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, transit_id, granted_on, expires_on, original_amount, remaining_amount
		FROM miles_batches
		WHERE customer_id = ?
		ORDER BY seq`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query miles batches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		batch := &awards.MilesBatch{CustomerID: customerID}
		var grantedOnStr string
		var expiresOnStr sql.NullString

		err := rows.Scan(
			&batch.ID,
			&batch.TransitID,
			&grantedOnStr,
			&expiresOnStr,
			&batch.OriginalAmount,
			&batch.RemainingAmount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan miles batch: %w", err)
		}

		batch.GrantedOn, err = parseTime(grantedOnStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse granted_on: %w", err)
		}

		if expiresOnStr.Valid {
			expiresOn, err := parseTime(expiresOnStr.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse expires_on: %w", err)
			}
			batch.ExpiresOn = &expiresOn
		}

		account.Batches = append(account.Batches, batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating miles batches: %w", err)
	}

	return account, nil
}

// saveAccount writes the account row and every batch and bumps the account
// version. Existing batches only have their remaining amount updated; the
// rest of a batch is immutable.
func saveAccount(ctx context.Context, q querier, account *awards.Account) error {
	account.Version++

	_, err := q.ExecContext(ctx,
		`INSERT INTO awards_accounts (customer_id, active, transit_count, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			active = excluded.active,
			transit_count = excluded.transit_count,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		account.CustomerID,
		account.Active,
		account.TransitCount,
		account.Version,
		formatTime(account.CreatedAt),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	for seq, batch := range account.Batches {
		var expiresOn sql.NullString
		if batch.ExpiresOn != nil {
			expiresOn = sql.NullString{String: formatTime(*batch.ExpiresOn), Valid: true}
		}

		_, err := q.ExecContext(ctx,
			`INSERT INTO miles_batches (
				id, customer_id, seq, transit_id, granted_on, expires_on,
				original_amount, remaining_amount
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				remaining_amount = excluded.remaining_amount`,
			batch.ID,
			account.CustomerID,
			seq,
			batch.TransitID,
			formatTime(batch.GrantedOn),
			expiresOn,
			batch.OriginalAmount,
			batch.RemainingAmount,
		)
		if err != nil {
			return fmt.Errorf("failed to save miles batch %s: %w", batch.ID, err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
