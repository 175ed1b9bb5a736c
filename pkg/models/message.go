package models

import "time"

// InboundMessage is one event from an external message source
type InboundMessage struct {
	AccountID  int64     // source account the message arrived on
	SourceID   string    // chat id, mailbox, or other provider source identifier
	SenderName string
	Text       string
	ReceivedAt time.Time
}

// Delivery status values for forwarding history entries
const (
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
	StatusPending = "PENDING" // buffered for a digest, not yet flushed
)

// MessageLog is one forwarding history entry. Every dispatch attempt
// produces one; digest-buffered messages start PENDING and are marked SENT
// when their batch flushes.
type MessageLog struct {
	ID              int64     `db:"id" json:"id"`
	RuleID          int64     `db:"rule_id" json:"rule_id"`
	SourceAccountID int64     `db:"source_account_id" json:"source_account_id"`
	SourceID        string    `db:"source_id" json:"source_id"`
	SenderName      string    `db:"sender_name" json:"sender_name"`
	ContentExcerpt  string    `db:"content_excerpt" json:"content_excerpt"`
	Status          string    `db:"status" json:"status"`
	BatchID         string    `db:"batch_id" json:"batch_id,omitempty"` // digest flush attempts only
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// KnownSource is one entry from a provider's source listing, used to help
// an operator populate a rule's source filter.
type KnownSource struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name"`
	SourceType string `json:"source_type,omitempty"`
}
