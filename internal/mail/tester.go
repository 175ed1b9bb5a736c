package mail

import (
	"context"
	"time"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// Tester bundles the connectivity checks behind one value so callers do
// not carry the dial timeout around.
type Tester struct {
	dialTimeout time.Duration
}

// NewTester creates a new connectivity tester
func NewTester(dialTimeout time.Duration) *Tester {
	return &Tester{dialTimeout: dialTimeout}
}

// TestIMAP verifies the credentials can log in and open INBOX
func (t *Tester) TestIMAP(ctx context.Context, creds models.MailCredentials) error {
	return TestIMAPConnection(ctx, creds, t.dialTimeout)
}

// TestSMTP verifies the credentials can open an authenticated session
func (t *Tester) TestSMTP(ctx context.Context, creds models.MailCredentials) error {
	return TestSMTPConnection(ctx, creds)
}

// ListFolders lists the mailboxes visible to the credentials
func (t *Tester) ListFolders(ctx context.Context, creds models.MailCredentials) ([]models.KnownSource, error) {
	return ListFolders(ctx, creds, t.dialTimeout)
}
