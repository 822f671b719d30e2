package notification

import (
	"context"
	"fmt"
	"log"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends alerts to one chat through the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegramNotifier authenticates the bot token and returns a notifier
// for chatID.
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	return newTelegram(botToken, tgbot.APIEndpoint, chatID)
}

func newTelegram(botToken, endpoint string, chatID int64) (*TelegramNotifier, error) {
	b, err := tgbot.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return &TelegramNotifier{bot: b, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	msg := tgbot.NewMessage(t.chatID,
		fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message)))
	msg.ParseMode = tgbot.ModeMarkdownV2

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`, "~", `\~`, "`", "\\`",
	">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`,
	".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
