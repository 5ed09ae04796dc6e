// Package notify delivers batch summaries to a person.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"gitlab.com/yelinaung/finmail/internal/logger"
)

// maxMessageLength is Telegram's limit for one text message.
const maxMessageLength = 4096

// ErrNoRecipient is returned when neither the call nor the notifier names a chat.
var ErrNoRecipient = errors.New("no notification recipient")

// Sender is the subset of the Telegram API the notifier uses.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

var _ Sender = (*bot.Bot)(nil)

// TelegramNotifier sends plain-text messages to a Telegram chat.
type TelegramNotifier struct {
	sender      Sender
	defaultChat int64
}

// NewTelegramNotifier connects a bot with token. Extra options are passed to
// bot.New, which tests use to point the client at a local server.
func NewTelegramNotifier(token string, defaultChat int64, opts ...bot.Option) (*TelegramNotifier, error) {
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return NewTelegramNotifierWithSender(b, defaultChat), nil
}

// NewTelegramNotifierWithSender wraps an existing sender.
func NewTelegramNotifierWithSender(sender Sender, defaultChat int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, defaultChat: defaultChat}
}

// Notify sends text to recipient, a numeric chat ID. An empty recipient means
// the default chat. Long texts are split on line boundaries.
func (n *TelegramNotifier) Notify(ctx context.Context, recipient, text string) error {
	chatID, err := n.chatID(recipient)
	if err != nil {
		return err
	}

	for _, part := range splitMessage(text, maxMessageLength) {
		if _, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   part,
		}); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}

	logger.Log.Debug().Str("chat", logger.HashID(strconv.FormatInt(chatID, 10))).Msg("Notification sent")
	return nil
}

func (n *TelegramNotifier) chatID(recipient string) (int64, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		if n.defaultChat == 0 {
			return 0, ErrNoRecipient
		}
		return n.defaultChat, nil
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", recipient, err)
	}
	return id, nil
}

// splitMessage cuts text into chunks of at most limit bytes, preferring
// newline boundaries and never splitting a rune.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		parts = append(parts, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// LogNotifier writes summaries to the application log. It is used when no
// messaging channel is configured.
type LogNotifier struct{}

// Notify implements pipeline.Notifier.
func (LogNotifier) Notify(_ context.Context, recipient, text string) error {
	logger.Log.Info().
		Str("recipient", logger.HashID(recipient)).
		Str("summary", text).
		Msg("Batch summary")
	return nil
}
