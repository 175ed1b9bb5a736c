package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// validateRule checks a rule against the model invariants and the accounts
// it references. Returns ErrInvalidReference or ErrInvalidConfig.
func (db *DB) validateRule(ctx context.Context, rule *models.RoutingRule) error {
	if !rule.ForwardingType.Valid() {
		return fmt.Errorf("%w: unknown forwarding type %q", ErrInvalidConfig, rule.ForwardingType)
	}
	if rule.SourceAccountID == rule.DestinationAccountID {
		return fmt.Errorf("%w: source and destination account must differ", ErrInvalidConfig)
	}
	if rule.ForwardingType == models.ForwardDigest && rule.IntervalMinutes < 1 {
		return fmt.Errorf("%w: digest interval must be at least 1 minute", ErrInvalidConfig)
	}

	filter, err := rule.SourceFilter()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if len(filter) == 0 {
		return fmt.Errorf("%w: source filter must list source ids or the %q wildcard", ErrInvalidConfig, models.WildcardSource)
	}

	source, err := db.GetAccountByID(ctx, rule.SourceAccountID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: source account %d", ErrInvalidReference, rule.SourceAccountID)
	}
	if err != nil {
		return err
	}
	if source.AccountType == models.AccountMailSMTP {
		return fmt.Errorf("%w: outbound mail account %d cannot be a message source", ErrInvalidConfig, source.ID)
	}

	dest, err := db.GetAccountByID(ctx, rule.DestinationAccountID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: destination account %d", ErrInvalidReference, rule.DestinationAccountID)
	}
	if err != nil {
		return err
	}

	destCfg, err := rule.Destination()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	switch dest.AccountType {
	case models.AccountTelegram:
		if destCfg.ChatID == "" {
			return fmt.Errorf("%w: messenger destination requires chat_id", ErrInvalidConfig)
		}
	case models.AccountMailSMTP:
		if destCfg.Email == "" {
			return fmt.Errorf("%w: mail destination requires email", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: account %d (%s) cannot be a destination", ErrInvalidConfig, dest.ID, dest.AccountType)
	}

	return nil
}

// CreateRule creates a new routing rule after validating it
func (db *DB) CreateRule(ctx context.Context, rule *models.RoutingRule) error {
	if err := db.validateRule(ctx, rule); err != nil {
		return err
	}

	query := `
		INSERT INTO routing_rules (name, source_account_id, destination_account_id, source_filter_json, destination_config_json, forwarding_type, interval_minutes, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		rule.Name,
		rule.SourceAccountID,
		rule.DestinationAccountID,
		rule.SourceFilterJSON,
		rule.DestinationJSON,
		rule.ForwardingType,
		rule.IntervalMinutes,
		rule.Enabled,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// GetRuleByID returns a rule by ID
func (db *DB) GetRuleByID(ctx context.Context, id int64) (*models.RoutingRule, error) {
	var rule models.RoutingRule
	query := `SELECT * FROM routing_rules WHERE id = ?`
	err := db.GetContext(ctx, &rule, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// ListRules returns rules in creation order. The stable ordering makes
// fan-out across overlapping rules deterministic.
func (db *DB) ListRules(ctx context.Context, enabledOnly bool) ([]*models.RoutingRule, error) {
	var rules []*models.RoutingRule
	query := `SELECT * FROM routing_rules ORDER BY id`
	if enabledOnly {
		query = `SELECT * FROM routing_rules WHERE enabled = true ORDER BY id`
	}
	err := db.SelectContext(ctx, &rules, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// UpdateRule replaces a rule's definition, re-validating the result
func (db *DB) UpdateRule(ctx context.Context, id int64, rule *models.RoutingRule) error {
	if _, err := db.GetRuleByID(ctx, id); err != nil {
		return err
	}
	if err := db.validateRule(ctx, rule); err != nil {
		return err
	}

	query := `
		UPDATE routing_rules
		SET name = ?, source_account_id = ?, destination_account_id = ?, source_filter_json = ?, destination_config_json = ?, forwarding_type = ?, interval_minutes = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		rule.Name,
		rule.SourceAccountID,
		rule.DestinationAccountID,
		rule.SourceFilterJSON,
		rule.DestinationJSON,
		rule.ForwardingType,
		rule.IntervalMinutes,
		rule.Enabled,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rule.ID = id
	rule.UpdatedAt = now
	return nil
}

// SetRuleEnabled enables or disables a rule. Disabling keeps any buffered
// digest messages; only deletion discards them.
func (db *DB) SetRuleEnabled(ctx context.Context, id int64, enabled bool) error {
	query := `UPDATE routing_rules SET enabled = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, enabled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set rule enabled: %w", err)
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

// DeleteRule removes a rule. Buffered-but-unflushed digest messages are
// discarded by the scheduler on its next rule sync.
func (db *DB) DeleteRule(ctx context.Context, id int64) error {
	query := `DELETE FROM routing_rules WHERE id = ?`
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
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
