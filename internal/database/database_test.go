package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mixelka/messenger2mail/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func createTestAccount(t *testing.T, db *DB, name string, accountType models.AccountType) *models.Account {
	t.Helper()

	creds := models.Credentials{}
	switch accountType {
	case models.AccountTelegram:
		creds.Telegram = &models.TelegramCredentials{Phone: "+15550001111"}
	default:
		creds.Mail = &models.MailCredentials{
			Host:     "mail.example.com",
			Port:     993,
			Username: name + "@example.com",
			Password: "secret",
		}
	}
	encoded, err := creds.Encode()
	require.NoError(t, err)

	account := &models.Account{
		Name:            name,
		AccountType:     accountType,
		CredentialsJSON: encoded,
	}
	require.NoError(t, db.CreateAccount(context.Background(), account))
	return account
}

func testRule(sourceID, destID int64) *models.RoutingRule {
	return &models.RoutingRule{
		Name:                 "test rule",
		SourceAccountID:      sourceID,
		DestinationAccountID: destID,
		SourceFilterJSON:     `["*"]`,
		DestinationJSON:      `{"email":"inbox@example.com"}`,
		ForwardingType:       models.ForwardInstant,
		Enabled:              true,
	}
}

func createTestRule(t *testing.T, db *DB, sourceID, destID int64) *models.RoutingRule {
	t.Helper()
	rule := testRule(sourceID, destID)
	require.NoError(t, db.CreateRule(context.Background(), rule))
	return rule
}
