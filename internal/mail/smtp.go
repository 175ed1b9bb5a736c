package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// Message is an outbound mail message
type Message struct {
	To       string
	Subject  string
	BodyHTML string
	BodyText string
	BatchID  string // digest batches only, stamped as X-Batch-Id
}

// smtpClient dials the SMTP server and negotiates TLS. Port 465 is
// implicit TLS, everything else goes through STARTTLS.
func smtpClient(ctx context.Context, creds models.MailCredentials) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", creds.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	tlsConfig := &tls.Config{ServerName: creds.Host}
	if creds.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, creds.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if creds.Port != 465 {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if creds.Password != "" {
		auth := smtp.PlainAuth("", creds.Username, creds.Password, creds.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	return c, nil
}

// TestSMTPConnection checks that the credentials can authenticate. Used as
// the connectivity test that marks a mail-outbound account connected.
func TestSMTPConnection(ctx context.Context, creds models.MailCredentials) error {
	c, err := smtpClient(ctx, creds)
	if err != nil {
		return err
	}
	return c.Quit()
}

// Send sends one message through the account's SMTP server
func Send(ctx context.Context, creds models.MailCredentials, msg Message) error {
	c, err := smtpClient(ctx, creds)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(creds.Username); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", msg.To, err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(buildMessage(creds.Username, msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return c.Quit()
}

// buildMessage renders the message in MIME format
func buildMessage(from string, msg Message) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	if msg.BatchID != "" {
		// Stable across retries of the same batch so receivers can
		// deduplicate a partially delivered flush
		fmt.Fprintf(&buf, "X-Batch-Id: %s\r\n", msg.BatchID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	if msg.BodyHTML != "" {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.BodyHTML)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.BodyText)
	}

	return buf.Bytes()
}
