// Package telegram delivers refresh failure and recovery alerts via the
// Telegram Bot API. Messages use MarkdownV2 and are sent with retry.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/robotd/internal/refresh"
)

// sender is the subset of *tgbotapi.BotAPI used by Client
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SendFailure reports the first failed cycle of a streak
func (c *Client) SendFailure(ev refresh.Event) error {
	return c.send(formatFailure(ev))
}

// SendRecovery reports the first good cycle after failures failed ones
func (c *Client) SendRecovery(failures int, ev refresh.Event) error {
	return c.send(formatRecovery(failures, ev))
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	// Send with retry
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func formatFailure(ev refresh.Event) string {
	var b strings.Builder
	b.WriteString("🚨 *Robot telemetry refresh failing*\n\n")
	fmt.Fprintf(&b, "📅 Since: %s\n", escapeMarkdownV2(ev.StartedAt.UTC().Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "❌ Kind: `%s`\n", escapeMarkdownV2(string(ev.Kind)))
	if ev.Err != nil {
		fmt.Fprintf(&b, "💬 %s\n", escapeMarkdownV2(ev.Err.Error()))
	}
	fmt.Fprintf(&b, "🆔 Cycle: `%s`\n", escapeMarkdownV2(ev.CycleID))
	return b.String()
}

func formatRecovery(failures int, ev refresh.Event) string {
	var b strings.Builder
	b.WriteString("✅ *Robot telemetry refresh recovered*\n\n")
	plural := "s"
	if failures == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "🔁 After %d failed cycle%s\n", failures, plural)
	fmt.Fprintf(&b, "📦 Records: %d\n", ev.Records)
	fmt.Fprintf(&b, "⏱ Cycle time: %s\n", escapeMarkdownV2(formatDuration(ev.Duration)))
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a cycle duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}
