package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"lodge-codevault/internal/domain/ports/adapter"
)

var _ adapter.OperatorAlerter = (*BotAlerter)(nil)

// maxMessageLen is Telegram's limit for a single text message.
const maxMessageLen = 4096

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotAlerter sends operator alerts as Telegram messages to a fixed set of chats.
type BotAlerter struct {
	bot     messageSender
	chatIDs []int64
	log     *zerolog.Logger
}

// NewBotAlerter authenticates the bot token and returns an alerter that
// posts to chatIDs.
func NewBotAlerter(token string, chatIDs []int64, logger *zerolog.Logger) (*BotAlerter, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(chatIDs) == 0 {
		return nil, errors.New("no alert chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newBotAlerter(bot, chatIDs, logger), nil
}

func newBotAlerter(bot messageSender, chatIDs []int64, logger *zerolog.Logger) *BotAlerter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "telegram_alert").Logger()
	return &BotAlerter{bot: bot, chatIDs: chatIDs, log: &l}
}

// Alert delivers to every chat and returns the joined errors of the chats
// that failed.
func (a *BotAlerter) Alert(ctx context.Context, sev adapter.Severity, title, body string) error {
	text := formatAlert(sev, title, body)
	var errs []error
	for _, id := range a.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			a.log.Error().Err(err).Int64("chat_id", id).Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func formatAlert(sev adapter.Severity, title, body string) string {
	text := fmt.Sprintf("[%s] %s", strings.ToUpper(string(sev)), title)
	if body != "" {
		text += "\n\n" + body
	}
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen-1]) + "…"
	}
	return text
}
