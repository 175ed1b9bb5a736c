package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrInvalidReference is returned when a rule references a missing account
var ErrInvalidReference = errors.New("referenced account does not exist")

// ErrInvalidConfig is returned when a record violates a model invariant
var ErrInvalidConfig = errors.New("invalid configuration")

// CreateAccount creates a new account. New accounts always start
// disconnected; only a completed handshake or connectivity test flips them.
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	if !account.AccountType.Valid() {
		return fmt.Errorf("%w: unknown account type %q", ErrInvalidConfig, account.AccountType)
	}
	if account.Name == "" {
		return fmt.Errorf("%w: account name is required", ErrInvalidConfig)
	}

	query := `
		INSERT INTO accounts (name, account_type, credentials_json, connected, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		account.Name,
		account.AccountType,
		account.CredentialsJSON,
		false,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.Connected = false
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListAccounts returns all accounts in creation order
func (db *DB) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts ORDER BY id`
	err := db.SelectContext(ctx, &accounts, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// SetAccountConnected sets the connection state of an account
func (db *DB) SetAccountConnected(ctx context.Context, id int64, connected bool) error {
	query := `UPDATE accounts SET connected = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, connected, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set account connected: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccountCredentials replaces the account's credential bundle
func (db *DB) UpdateAccountCredentials(ctx context.Context, id int64, credentialsJSON string) error {
	query := `UPDATE accounts SET credentials_json = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, credentialsJSON, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update account credentials: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount deletes an account. Rules referencing it stay in place but
// are suspended: the scheduler never evaluates a rule whose source account
// is missing or disconnected.
func (db *DB) DeleteAccount(ctx context.Context, id int64) error {
	query := `DELETE FROM accounts WHERE id = ?`
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
