package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram handles Telegram notifications.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a new Telegram sender against the public Bot API.
func NewTelegram(botToken, chatID string) (*Telegram, error) {
	return NewTelegramWithEndpoint(botToken, chatID, tgbotapi.APIEndpoint)
}

// NewTelegramWithEndpoint creates a Telegram sender against a custom Bot API
// endpoint of the form "https://host/bot%s/%s".
func NewTelegramWithEndpoint(botToken, chatID, endpoint string) (*Telegram, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return &Telegram{bot: bot, chatID: chatIDInt}, nil
}

// Telegram caps a message at 4096 characters. Escaping can at most double a
// chunk, so chunks are cut at half the limit before escaping.
const (
	telegramLimit = 4096
	telegramChunk = telegramLimit / 2
)

// Send delivers text as escaped MarkdownV2 messages.
func (t *Telegram) Send(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text, telegramChunk) {
		if err := t.sendMarkdownV2(ctx, escapeMarkdownV2(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// sendMarkdownV2 sends a single MarkdownV2 message.
func (t *Telegram) sendMarkdownV2(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
