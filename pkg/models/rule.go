package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ForwardingType how a rule delivers matched messages
type ForwardingType string

const (
	ForwardInstant ForwardingType = "instant" // one dispatch per matched message
	ForwardDigest  ForwardingType = "digest"  // buffered, flushed as a batch on interval
)

// Valid reports whether t is a known forwarding type
func (t ForwardingType) Valid() bool {
	return t == ForwardInstant || t == ForwardDigest
}

// WildcardSource matches every source identifier
const WildcardSource = "*"

// SourceFilter is the set of source identifiers a rule listens on.
// It is either explicit ids or the single wildcard entry; an empty
// filter is invalid, never "match all".
type SourceFilter []string

// Matches reports whether the filter admits the given source id
func (f SourceFilter) Matches(sourceID string) bool {
	for _, id := range f {
		if id == WildcardSource || id == sourceID {
			return true
		}
	}
	return false
}

// IsWildcard reports whether the filter contains the wildcard entry
func (f SourceFilter) IsWildcard() bool {
	for _, id := range f {
		if id == WildcardSource {
			return true
		}
	}
	return false
}

// DestinationConfig destination-type-specific addressing. ChatID is set for
// messenger destinations, Email for mail destinations.
type DestinationConfig struct {
	ChatID string `json:"chat_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// RoutingRule is a forwarding path between two accounts
type RoutingRule struct {
	ID                   int64          `db:"id" json:"id"`
	Name                 string         `db:"name" json:"name"`
	SourceAccountID      int64          `db:"source_account_id" json:"source_account_id"`
	DestinationAccountID int64          `db:"destination_account_id" json:"destination_account_id"`
	SourceFilterJSON     string         `db:"source_filter_json" json:"source_filter_json"`           // JSON array, "*" is wildcard
	DestinationJSON      string         `db:"destination_config_json" json:"destination_config_json"` // DestinationConfig
	ForwardingType       ForwardingType `db:"forwarding_type" json:"forwarding_type"`
	IntervalMinutes      int            `db:"interval_minutes" json:"interval_minutes"` // digest only, >= 1
	Enabled              bool           `db:"enabled" json:"enabled"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

// SourceFilter decodes the rule's source filter
func (r *RoutingRule) SourceFilter() (SourceFilter, error) {
	var filter SourceFilter
	if r.SourceFilterJSON == "" {
		return nil, fmt.Errorf("rule %d has no source filter", r.ID)
	}
	if err := json.Unmarshal([]byte(r.SourceFilterJSON), &filter); err != nil {
		return nil, fmt.Errorf("failed to decode source filter: %w", err)
	}
	return filter, nil
}

// Destination decodes the rule's destination config
func (r *RoutingRule) Destination() (DestinationConfig, error) {
	var dest DestinationConfig
	if r.DestinationJSON == "" {
		return dest, fmt.Errorf("rule %d has no destination config", r.ID)
	}
	if err := json.Unmarshal([]byte(r.DestinationJSON), &dest); err != nil {
		return dest, fmt.Errorf("failed to decode destination config: %w", err)
	}
	return dest, nil
}

// Interval returns the digest interval as a duration
func (r *RoutingRule) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}
