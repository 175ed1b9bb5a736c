package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AccountType distinguishes the kinds of connected accounts
type AccountType string

const (
	AccountTelegram AccountType = "telegram"   // messenger account (MTProto session)
	AccountMailIMAP AccountType = "email_imap" // inbound mail account
	AccountMailSMTP AccountType = "email_smtp" // outbound mail account
)

// Valid reports whether t is a known account type
func (t AccountType) Valid() bool {
	switch t {
	case AccountTelegram, AccountMailIMAP, AccountMailSMTP:
		return true
	}
	return false
}

// IsMail reports whether the account is a mail account (either direction)
func (t AccountType) IsMail() bool {
	return t == AccountMailIMAP || t == AccountMailSMTP
}

// Account represents a connected messenger or mail account
type Account struct {
	ID              int64       `db:"id"`
	Name            string      `db:"name"`
	AccountType     AccountType `db:"account_type"`
	CredentialsJSON string      `db:"credentials_json"` // tagged union, see Credentials
	Connected       bool        `db:"connected"`        // true only after handshake / connectivity test
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
}

// TelegramCredentials session material for a messenger account
type TelegramCredentials struct {
	Phone   string `json:"phone,omitempty"`
	Session string `json:"session,omitempty"` // provider-issued session token
}

// MailCredentials connection parameters for a mail account
type MailCredentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Addr returns host:port
func (c MailCredentials) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Credentials is a tagged union keyed by account type. Exactly one variant
// is set for a valid account; the raw JSON never leaves the database and
// account-manager layers.
type Credentials struct {
	Telegram *TelegramCredentials `json:"telegram,omitempty"`
	Mail     *MailCredentials     `json:"mail,omitempty"`
}

// Credentials decodes the account's credential bundle and checks that the
// variant matches the account type.
func (a *Account) Credentials() (Credentials, error) {
	var creds Credentials
	if a.CredentialsJSON == "" {
		return creds, fmt.Errorf("account %d has no credentials", a.ID)
	}
	if err := json.Unmarshal([]byte(a.CredentialsJSON), &creds); err != nil {
		return creds, fmt.Errorf("failed to decode credentials: %w", err)
	}
	switch {
	case a.AccountType == AccountTelegram && creds.Telegram == nil:
		return creds, fmt.Errorf("account %d: telegram credentials missing", a.ID)
	case a.AccountType.IsMail() && creds.Mail == nil:
		return creds, fmt.Errorf("account %d: mail credentials missing", a.ID)
	}
	return creds, nil
}

// Encode serializes the credential bundle for storage
func (c Credentials) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}
	return string(data), nil
}
