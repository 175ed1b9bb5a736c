package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// CreateLog creates a forwarding history entry
func (db *DB) CreateLog(ctx context.Context, log *models.MessageLog) error {
	query := `
		INSERT INTO message_logs (rule_id, source_account_id, source_id, sender_name, content_excerpt, status, batch_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		log.RuleID,
		log.SourceAccountID,
		log.SourceID,
		log.SenderName,
		log.ContentExcerpt,
		log.Status,
		log.BatchID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create log entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	log.ID = id
	log.CreatedAt = now
	log.UpdatedAt = now
	return nil
}

// SetLogsStatus updates the status and batch id of a set of history entries
func (db *DB) SetLogsStatus(ctx context.Context, ids []int64, status, batchID string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(
		`UPDATE message_logs SET status = ?, batch_id = ?, updated_at = ? WHERE id IN (%s)`,
		placeholders,
	)

	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, status, batchID, time.Now())
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update log status: %w", err)
	}
	return nil
}

// ListLogs returns the most recent history entries, newest first
func (db *DB) ListLogs(ctx context.Context, limit int) ([]*models.MessageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []*models.MessageLog
	query := `SELECT * FROM message_logs ORDER BY id DESC LIMIT ?`
	err := db.SelectContext(ctx, &logs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}

// ListLogsByRule returns history entries for one rule, newest first
func (db *DB) ListLogsByRule(ctx context.Context, ruleID int64, limit int) ([]*models.MessageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []*models.MessageLog
	query := `SELECT * FROM message_logs WHERE rule_id = ? ORDER BY id DESC LIMIT ?`
	err := db.SelectContext(ctx, &logs, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}
