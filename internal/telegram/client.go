package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
)

// Client sends messages into Telegram chats via the Bot API. It is the
// concrete sink for messenger destinations.
type Client struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// NewClient creates a new Bot API client
func NewClient(token string, logger *slog.Logger) (*Client, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Client{
		bot:    b,
		logger: logger.With("component", "telegram_client"),
	}, nil
}

// SendMessage sends one text message to a chat
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
