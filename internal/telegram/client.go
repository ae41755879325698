// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
)

// PositionLister supplies open positions for the /positions command.
type PositionLister interface {
	ListOpen(ctx context.Context) ([]models.Position, error)
}

// BlacklistCounter supplies blacklist sizes for the /blacklist command.
type BlacklistCounter interface {
	Len() (tokens, issuers int)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, positions PositionLister, blacklist BlacklistCounter) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if c.accepts(update.Message) {
					c.handleCommand(ctx, update.Message, positions, blacklist)
				}
			}
		}
	}()
}

// accepts reports whether msg is a command sent from the configured chat.
func (c *Client) accepts(msg *tgbotapi.Message) bool {
	if msg == nil || msg.Chat == nil || msg.Chat.ID != c.chatID {
		return false
	}
	return msg.IsCommand()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, positions PositionLister, blacklist BlacklistCounter) {
	var text string
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
		return
	case "positions":
		open, err := positions.ListOpen(ctx)
		if err != nil {
			logger.Warn("Failed to list positions for command: %v", err)
			text = escapeMarkdownV2("Failed to load positions")
			break
		}
		text = formatPositions(open)
	case "blacklist":
		tokens, issuers := blacklist.Len()
		text = formatBlacklist(tokens, issuers)
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	c.bot.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a cycle error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Screening error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Screening recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendTradeExecuted announces a completed buy.
func (c *Client) SendTradeExecuted(cand models.Candidate, res *models.TradeResult, tag models.EventTag) error {
	return c.sendMarkdownV2(formatTradeExecuted(cand, res, tag))
}

// SendTradeFailed announces a buy or sell that did not complete.
func (c *Client) SendTradeFailed(side models.Side, token, name string, tradeErr error) error {
	return c.sendMarkdownV2(formatTradeFailed(side, token, name, tradeErr))
}

// SendPositionClosed announces a sold position.
func (c *Client) SendPositionClosed(pos models.Position, res *models.TradeResult, m models.Metrics) error {
	return c.sendMarkdownV2(formatPositionClosed(pos, res, m))
}

func formatTradeExecuted(cand models.Candidate, res *models.TradeResult, tag models.EventTag) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🟢 *Bought %s*\n", escapeMarkdownV2(cand.DisplayName()))
	fmt.Fprintf(&b, "Event: %s\n", escapeMarkdownV2(string(tag)))
	fmt.Fprintf(&b, "Token: `%s`\n", escapeMarkdownV2(cand.Address))
	b.WriteString(formatMetrics(cand.Metrics))
	fmt.Fprintf(&b, "Amount: %s\n", escapeMarkdownV2(res.AmountIn))
	fmt.Fprintf(&b, "Tx: `%s`\n", escapeMarkdownV2(res.TxRef))
	if cand.URL != "" {
		fmt.Fprintf(&b, "[Chart](%s)\n", cand.URL)
	}
	return b.String()
}

func formatTradeFailed(side models.Side, token, name string, tradeErr error) string {
	label := name
	if label == "" {
		label = token
	}
	return fmt.Sprintf("🔴 *%s failed for %s*\nToken: `%s`\n`%s`",
		escapeMarkdownV2(strings.ToUpper(string(side))),
		escapeMarkdownV2(label),
		escapeMarkdownV2(token),
		escapeMarkdownV2(tradeErr.Error()))
}

func formatPositionClosed(pos models.Position, res *models.TradeResult, m models.Metrics) string {
	name := pos.Symbol
	if name == "" {
		name = pos.Token
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🟠 *Closed %s*\n", escapeMarkdownV2(name))
	fmt.Fprintf(&b, "Event: %s\n", escapeMarkdownV2(string(models.EventRugPull)))
	fmt.Fprintf(&b, "Token: `%s`\n", escapeMarkdownV2(pos.Token))
	b.WriteString(formatMetrics(m))
	fmt.Fprintf(&b, "Held since %s\n", escapeMarkdownV2(humanize.Time(pos.CreatedAt)))
	if res != nil && res.TxRef != "" {
		fmt.Fprintf(&b, "Tx: `%s`\n", escapeMarkdownV2(res.TxRef))
	}
	return b.String()
}

func formatMetrics(m models.Metrics) string {
	return fmt.Sprintf("FDV: %s \\| Vol 24h: %s\n1h: %s \\| 24h: %s\n",
		escapeMarkdownV2(usd(m.FDV)),
		escapeMarkdownV2(usd(m.Volume24h)),
		escapeMarkdownV2(pct(m.Change1h)),
		escapeMarkdownV2(pct(m.Change24h)))
}

func formatPositions(open []models.Position) string {
	if len(open) == 0 {
		return "No open positions"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Open positions: %d*\n", len(open))
	for i, p := range open {
		name := p.Symbol
		if name == "" {
			name = p.Token
		}
		fmt.Fprintf(&b, "%d\\. %s `%s` %s\n", i+1,
			escapeMarkdownV2(name),
			escapeMarkdownV2(p.Token),
			escapeMarkdownV2(humanize.Time(p.CreatedAt)))
	}
	return b.String()
}

func formatBlacklist(tokens, issuers int) string {
	return fmt.Sprintf("*Blacklist*\nTokens: %s\nIssuers: %s",
		escapeMarkdownV2(humanize.Comma(int64(tokens))),
		escapeMarkdownV2(humanize.Comma(int64(issuers))))
}

func usd(v float64) string {
	if !models.Finite(v) {
		return "n/a"
	}
	return "$" + humanize.CommafWithDigits(v, 0)
}

func pct(v float64) string {
	if !models.Finite(v) {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f%%", v)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
