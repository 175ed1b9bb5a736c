package mail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	gomail "github.com/emersion/go-message/mail"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// MessageHandler receives messages pulled from inbound mail accounts
type MessageHandler func(msg models.InboundMessage)

// Poller polls connected mail-inbound accounts and feeds their new
// messages into the forwarding scheduler. Each account runs its own poll
// loop; a fresh connection is opened per poll and torn down after it.
type Poller struct {
	mu      sync.Mutex
	workers map[int64]*pollWorker

	dialTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	onMessage    MessageHandler
}

type pollWorker struct {
	account models.Account
	creds   models.MailCredentials
	cancel  context.CancelFunc
}

// NewPoller creates a new mail poller
func NewPoller(dialTimeout, pollInterval time.Duration, logger *slog.Logger) *Poller {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Poller{
		workers:      make(map[int64]*pollWorker),
		dialTimeout:  dialTimeout,
		pollInterval: pollInterval,
		logger:       logger.With("component", "mail_poller"),
	}
}

// SetHandler sets the handler for pulled messages
func (p *Poller) SetHandler(handler MessageHandler) {
	p.onMessage = handler
}

// StartAccount begins polling a mail-inbound account
func (p *Poller) StartAccount(account *models.Account) error {
	if account.AccountType != models.AccountMailIMAP {
		return fmt.Errorf("account %d is not a mail-inbound account", account.ID)
	}
	creds, err := account.Credentials()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.workers[account.ID]; exists {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := &pollWorker{
		account: *account,
		creds:   *creds.Mail,
		cancel:  cancel,
	}
	p.workers[account.ID] = worker

	go p.runWorker(ctx, worker)

	p.logger.Info("started polling mail account", "account_id", account.ID, "host", creds.Mail.Host)
	return nil
}

// StopAccount stops polling an account
func (p *Poller) StopAccount(accountID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, exists := p.workers[accountID]
	if !exists {
		return
	}
	worker.cancel()
	delete(p.workers, accountID)

	p.logger.Info("stopped polling mail account", "account_id", accountID)
}

// StopAll stops every poll loop
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, worker := range p.workers {
		worker.cancel()
		delete(p.workers, id)
	}
	p.logger.Info("all mail pollers stopped")
}

// RestoreAll starts polling for every connected mail-inbound account
func (p *Poller) RestoreAll(accounts []*models.Account) {
	for _, account := range accounts {
		if account.AccountType != models.AccountMailIMAP || !account.Connected {
			continue
		}
		if err := p.StartAccount(account); err != nil {
			p.logger.Error("failed to restore mail account", "account_id", account.ID, "error", err)
		}
	}
}

func (p *Poller) runWorker(ctx context.Context, worker *pollWorker) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// First poll right away, then on the interval
	p.poll(ctx, worker)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, worker)
		}
	}
}

// poll fetches unseen messages from the INBOX, emits them, and marks them
// seen so a restart does not replay them.
func (p *Poller) poll(ctx context.Context, worker *pollWorker) {
	accountID := worker.account.ID

	imapClient, err := connect(worker.creds, p.dialTimeout)
	if err != nil {
		p.logger.Error("poll failed to connect", "account_id", accountID, "error", err)
		return
	}
	defer imapClient.Logout()

	if _, err := imapClient.Select("INBOX", false); err != nil {
		p.logger.Error("poll failed to select INBOX", "account_id", accountID, "error", err)
		return
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := imapClient.UidSearch(criteria)
	if err != nil {
		p.logger.Error("poll failed to search", "account_id", accountID, "error", err)
		return
	}
	if len(uids) == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.UidFetch(seqSet, items, messages)
	}()

	var emitted int
	for msg := range messages {
		inbound, err := p.parseMessage(accountID, msg, section)
		if err != nil {
			p.logger.Warn("failed to parse message", "account_id", accountID, "uid", msg.Uid, "error", err)
			continue
		}
		if p.onMessage != nil {
			p.onMessage(inbound)
		}
		emitted++
	}
	if err := <-done; err != nil {
		p.logger.Error("poll failed to fetch", "account_id", accountID, "error", err)
		return
	}

	// Mark everything we fetched as seen
	flagItem := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := imapClient.UidStore(seqSet, flagItem, []interface{}{imap.SeenFlag}, nil); err != nil {
		p.logger.Warn("failed to mark messages seen", "account_id", accountID, "error", err)
	}

	if emitted > 0 {
		p.logger.Info("pulled new mail", "account_id", accountID, "count", emitted)
	}
}

// parseMessage converts an IMAP message into an inbound message event
func (p *Poller) parseMessage(accountID int64, msg *imap.Message, section *imap.BodySectionName) (models.InboundMessage, error) {
	inbound := models.InboundMessage{
		AccountID:  accountID,
		SourceID:   "INBOX",
		ReceivedAt: time.Now(),
	}

	if msg.Envelope != nil {
		inbound.ReceivedAt = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			inbound.SenderName = from.PersonalName
			if inbound.SenderName == "" {
				inbound.SenderName = from.Address()
			}
		}
		inbound.Text = msg.Envelope.Subject
	}

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return inbound, nil
	}

	mr, err := gomail.CreateReader(bodyReader)
	if err != nil {
		return inbound, nil
	}

	var bodyText, bodyHTML string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		if h, ok := part.Header.(*gomail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if strings.HasPrefix(ct, "text/plain") {
				bodyText = string(body)
			} else if strings.HasPrefix(ct, "text/html") {
				bodyHTML = string(body)
			}
		}
	}

	switch {
	case bodyText != "":
		inbound.Text = strings.TrimSpace(inbound.Text + "\n\n" + bodyText)
	case bodyHTML != "":
		inbound.Text = strings.TrimSpace(inbound.Text + "\n\n" + bodyHTML)
	}
	return inbound, nil
}
