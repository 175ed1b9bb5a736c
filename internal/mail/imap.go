package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// connect dials the IMAP server over TLS and logs in
func connect(creds models.MailCredentials, dialTimeout time.Duration) (*client.Client, error) {
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", creds.Addr(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}

	if err := imapClient.Login(creds.Username, creds.Password); err != nil {
		imapClient.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return imapClient, nil
}

// TestIMAPConnection checks that the credentials can open the INBOX. Used
// as the connectivity test that marks a mail-inbound account connected.
func TestIMAPConnection(ctx context.Context, creds models.MailCredentials, dialTimeout time.Duration) error {
	imapClient, err := connect(creds, dialTimeout)
	if err != nil {
		return err
	}
	defer imapClient.Logout()

	if _, err := imapClient.Select("INBOX", true); err != nil {
		return fmt.Errorf("failed to select INBOX: %w", err)
	}
	return nil
}

// ListFolders lists the account's mailboxes. For a mail-inbound account the
// known sources an operator can filter on are its folders.
func ListFolders(ctx context.Context, creds models.MailCredentials, dialTimeout time.Duration) ([]models.KnownSource, error) {
	imapClient, err := connect(creds, dialTimeout)
	if err != nil {
		return nil, err
	}
	defer imapClient.Logout()

	mailboxes := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.List("", "*", mailboxes)
	}()

	var sources []models.KnownSource
	for m := range mailboxes {
		sources = append(sources, models.KnownSource{
			SourceID:   m.Name,
			SourceName: m.Name,
			SourceType: "mailbox",
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return sources, nil
}
