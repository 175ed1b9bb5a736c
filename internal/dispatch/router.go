// Package dispatch routes dispatch calls from the scheduler to the sink
// matching the destination account's type.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mixelka/messenger2mail/internal/formatter"
	"github.com/mixelka/messenger2mail/internal/mail"
	"github.com/mixelka/messenger2mail/pkg/models"
)

// ErrDeliveryFailed wraps every sink failure, instant or batch
var ErrDeliveryFailed = errors.New("delivery failed")

// AccountStore is the slice of the account store the router reads
type AccountStore interface {
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
}

// TelegramSink sends messages into chats via the Bot API
type TelegramSink interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// SessionSink sends messages into chats as a connected user session, used
// when no Bot API sink is configured.
type SessionSink interface {
	SendMessage(ctx context.Context, accountID int64, chatID, text string) error
}

// Router implements the scheduler's Dispatcher over the concrete sinks
type Router struct {
	accounts AccountStore
	telegram TelegramSink // may be nil
	session  SessionSink  // may be nil
	digest   *formatter.DigestBuilder
	logger   *slog.Logger
}

// RouterDeps dependencies for creating a router
type RouterDeps struct {
	Accounts AccountStore
	Telegram TelegramSink
	Session  SessionSink
	Digest   *formatter.DigestBuilder
	Logger   *slog.Logger
}

// NewRouter creates a new dispatch router
func NewRouter(deps RouterDeps) *Router {
	digest := deps.Digest
	if digest == nil {
		digest = formatter.NewDigestBuilder()
	}
	return &Router{
		accounts: deps.Accounts,
		telegram: deps.Telegram,
		session:  deps.Session,
		digest:   digest,
		logger:   deps.Logger.With("component", "dispatch"),
	}
}

// resolve loads the destination account and addressing for a rule
func (r *Router) resolve(ctx context.Context, rule *models.RoutingRule) (*models.Account, models.DestinationConfig, error) {
	dest, err := r.accounts.GetAccountByID(ctx, rule.DestinationAccountID)
	if err != nil {
		return nil, models.DestinationConfig{}, fmt.Errorf("%w: destination account: %s", ErrDeliveryFailed, err)
	}
	cfg, err := rule.Destination()
	if err != nil {
		return nil, models.DestinationConfig{}, fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}
	return dest, cfg, nil
}

// DispatchMessage delivers one message per the rule's destination config
func (r *Router) DispatchMessage(ctx context.Context, rule *models.RoutingRule, msg models.InboundMessage) error {
	dest, cfg, err := r.resolve(ctx, rule)
	if err != nil {
		return err
	}

	switch dest.AccountType {
	case models.AccountTelegram:
		text := msg.Text
		if msg.SenderName != "" {
			text = fmt.Sprintf("Forwarded from %s:\n%s", msg.SenderName, msg.Text)
		}
		return r.sendTelegram(ctx, dest, cfg.ChatID, text)

	case models.AccountMailSMTP:
		creds, err := dest.Credentials()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
		}
		subject := "Forwarded message"
		if msg.SenderName != "" {
			subject = fmt.Sprintf("Forward: %s", msg.SenderName)
		}
		err = mail.Send(ctx, *creds.Mail, mail.Message{
			To:       cfg.Email,
			Subject:  subject,
			BodyText: fmt.Sprintf("Sender: %s\n\n%s", msg.SenderName, msg.Text),
		})
		if err != nil {
			return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: account %d (%s) cannot receive messages", ErrDeliveryFailed, dest.ID, dest.AccountType)
	}
}

// DispatchBatch delivers a digest batch as a single unit
func (r *Router) DispatchBatch(ctx context.Context, rule *models.RoutingRule, batchID string, msgs []models.InboundMessage) error {
	dest, cfg, err := r.resolve(ctx, rule)
	if err != nil {
		return err
	}

	switch dest.AccountType {
	case models.AccountTelegram:
		return r.sendTelegram(ctx, dest, cfg.ChatID, r.digest.Text(msgs))

	case models.AccountMailSMTP:
		creds, err := dest.Credentials()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
		}
		err = mail.Send(ctx, *creds.Mail, mail.Message{
			To:       cfg.Email,
			Subject:  r.digest.Subject(rule),
			BodyHTML: r.digest.HTML(msgs),
			BatchID:  batchID,
		})
		if err != nil {
			return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: account %d (%s) cannot receive messages", ErrDeliveryFailed, dest.ID, dest.AccountType)
	}
}

// sendTelegram prefers the Bot API sink and falls back to sending as the
// destination account's own user session.
func (r *Router) sendTelegram(ctx context.Context, dest *models.Account, chatID, text string) error {
	if chatID == "" {
		return fmt.Errorf("%w: messenger destination has no chat_id", ErrDeliveryFailed)
	}

	if r.telegram != nil {
		if err := r.telegram.SendMessage(ctx, chatID, text); err != nil {
			return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
		}
		return nil
	}
	if r.session != nil {
		if err := r.session.SendMessage(ctx, dest.ID, chatID, text); err != nil {
			return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
		}
		return nil
	}
	return fmt.Errorf("%w: no messenger sink configured", ErrDeliveryFailed)
}
