package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/meltingclock/safeguard_v1/internal/audit"
	"github.com/meltingclock/safeguard_v1/internal/config"
	"github.com/meltingclock/safeguard_v1/internal/firewall"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
	"github.com/meltingclock/safeguard_v1/internal/oracle"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// Controller is the guardian chat: a Telegram bot wired straight to the
// engine's kill switch. Whoever holds the chat can pause execution from a
// phone without a dashboard login.
type Controller struct {
	bot           *tgbotapi.BotAPI
	cfg           *config.Config
	path          string
	allowedChatID int64

	engine  *firewall.Engine
	journal *audit.Journal // optional
	gate    *oracle.Gate   // optional
}

func NewController(cfg *config.Config, path string, engine *firewall.Engine, journal *audit.Journal, gate *oracle.Gate) (*Controller, error) {
	if cfg.TELEGRAM_TOKEN == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TELEGRAM_TOKEN)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	c := &Controller{
		bot:           bot,
		cfg:           cfg,
		path:          path,
		allowedChatID: cfg.TELEGRAM_CHAT_ID,
		engine:        engine,
		journal:       journal,
		gate:          gate,
	}
	telemetry.Infof("[telegram] guardian online as @%s", bot.Self.UserName)
	return c, nil
}

// Start runs the update loop until ctx is canceled.
func (c *Controller) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	c.Alert("🛡 *Safeguard guardian online.*")

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			chatID := update.Message.Chat.ID
			if c.allowedChatID != 0 && chatID != c.allowedChatID {
				continue
			}
			c.handle(ctx, chatID, strings.TrimSpace(update.Message.Text))
		}
	}
}

// Alert pushes text to the guardian chat. With no bound chat the alert is
// dropped; /set_chat binds one.
func (c *Controller) Alert(text string) {
	if c.allowedChatID == 0 {
		return
	}
	c.reply(c.allowedChatID, text)
}

func (c *Controller) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := c.bot.Send(msg); err != nil {
		telemetry.Warnf("[telegram] send failed: %v", err)
	}
}

func (c *Controller) handle(ctx context.Context, chatID int64, text string) {
	switch {
	case strings.HasPrefix(text, "/start"), strings.HasPrefix(text, "/help"):
		c.reply(chatID, helpText)

	case strings.HasPrefix(text, "/status"):
		c.reply(chatID, c.statusText())

	case strings.HasPrefix(text, "/pause"):
		c.engine.SetPaused(true)
		c.reply(chatID, "⏸ Execution paused. Screening stays live.")

	case strings.HasPrefix(text, "/resume"):
		c.engine.SetPaused(false)
		c.reply(chatID, "▶️ Execution resumed.")

	case strings.HasPrefix(text, "/rules"):
		c.reply(chatID, c.rulesText())

	case strings.HasPrefix(text, "/recent"):
		c.reply(chatID, c.recentText(ctx, argN(text, 5)))

	case strings.HasPrefix(text, "/tail"):
		c.reply(chatID, tailText(argN(text, 20)))

	case strings.HasPrefix(text, "/gate"):
		c.reply(chatID, c.gateText(text))

	case strings.HasPrefix(text, "/show_config"):
		c.reply(chatID, c.configText())

	case strings.HasPrefix(text, "/whoami"):
		c.reply(chatID, fmt.Sprintf("Chat ID: `%d`", chatID))

	case strings.HasPrefix(text, "/set_chat"):
		c.allowedChatID = chatID
		c.cfg.TELEGRAM_CHAT_ID = chatID
		if err := config.Save(c.path, c.cfg); err != nil {
			c.reply(chatID, fmt.Sprintf("⚠️ Bound to this chat, but saving failed: %v", err))
			return
		}
		c.reply(chatID, "✅ Alerts bound to this chat.")
	}
}

const helpText = `🛡 *Safeguard guardian*
/status - engine state and counters
/pause - block execution (screening stays live)
/resume - allow execution again
/rules - registered policy rules
/recent [n] - latest screening verdicts
/tail [n] - latest log lines
/gate up|down - override the sequencer gate
/show_config - running configuration
/whoami - show this chat id
/set_chat - bind alerts to this chat`

func (c *Controller) statusText() string {
	var b strings.Builder
	b.WriteString("🛡 *Safeguard status*\n")
	fmt.Fprintf(&b, "Account: `%s`\n", c.engine.Account().Hex())
	fmt.Fprintf(&b, "Paused: %s\n", yesNo(c.engine.Paused()))
	fmt.Fprintf(&b, "Forwarding: %s\n", yesNo(c.engine.Forwarding()))
	fmt.Fprintf(&b, "Rules: %d (rev %d)\n", c.engine.Rules().Size(), c.engine.Rules().Revision())
	if c.gate != nil {
		state := "up"
		if c.gate.Down() {
			state = "down"
		}
		fmt.Fprintf(&b, "Sequencer: %s\n", state)
	}
	fmt.Fprintf(&b, "Uptime: %s\n", telemetry.Uptime().Round(time.Second))
	s := telemetry.Stats()
	fmt.Fprintf(&b, "Screened %d, rejected %d, forwarded %d", s.BatchesScreened, s.BatchesRejected, s.BatchesForwarded)
	return b.String()
}

const maxRuleLines = 20

func (c *Controller) rulesText() string {
	entries := c.engine.Rules().Entries()
	if len(entries) == 0 {
		return "No rules registered."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 *%d rules* (rev %d)\n", len(entries), c.engine.Rules().Revision())
	for i, e := range entries {
		if i == maxRuleLines {
			fmt.Fprintf(&b, "… and %d more", len(entries)-maxRuleLines)
			break
		}
		name, ok := c.engine.ValidatorName(e.Rule.Validator)
		if !ok {
			name = e.Rule.Validator.String()
		}
		fmt.Fprintf(&b, "`%s` `%s` %s v%d", helpers.FormatAddress(e.Key.Target), e.Key.Selector.String(), name, e.Rule.Version)
		if e.Rule.Disabled {
			b.WriteString(" (disabled)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Controller) recentText(ctx context.Context, n int) string {
	if c.journal == nil {
		return "No audit journal configured."
	}
	rows, err := c.journal.RecentScreenings(ctx, n)
	if err != nil {
		return fmt.Sprintf("⚠️ Journal read failed: %v", err)
	}
	if len(rows) == 0 {
		return "Nothing screened yet."
	}
	var b strings.Builder
	b.WriteString("🧾 *Recent screenings*\n")
	for _, r := range rows {
		mark := "✅"
		switch r.Verdict {
		case audit.VerdictRejected:
			mark = "🚫"
		case audit.VerdictShadow:
			mark = "👁"
		case audit.VerdictForwarded:
			mark = "📤"
		}
		fmt.Fprintf(&b, "%s %s %d calls %s", mark, r.CreatedAt.Format("15:04:05"), r.Calls, r.Verdict)
		if r.Reason != "" {
			fmt.Fprintf(&b, ": %s", r.Reason)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func tailText(n int) string {
	lines := telemetry.Tail(n)
	if len(lines) == 0 {
		return "Log buffer is empty."
	}
	return "```\n" + strings.Join(lines, "\n") + "\n```"
}

func (c *Controller) gateText(text string) string {
	if c.gate == nil {
		return "No sequencer gate configured."
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		state := "up"
		if c.gate.Down() {
			state = "down"
		}
		return fmt.Sprintf("Sequencer gate: %s. Use /gate up or /gate down to override.", state)
	}
	switch fields[1] {
	case "down":
		c.gate.SetDown(true)
		return "🔻 Gate forced down. Oracle-priced calls will reject."
	case "up":
		c.gate.SetDown(false)
		return "🔺 Gate forced up."
	default:
		return "Use /gate up or /gate down."
	}
}

func (c *Controller) configText() string {
	key := "(unset)"
	if c.cfg.PRIVATE_KEY != "" {
		key = short(c.cfg.PRIVATE_KEY)
	}
	var b strings.Builder
	b.WriteString("⚙️ *Config*\n")
	fmt.Fprintf(&b, "RPC: `%s`\n", c.cfg.RPC_URL)
	fmt.Fprintf(&b, "Chain: %d\n", c.cfg.CHAIN_ID)
	fmt.Fprintf(&b, "Account: `%s`\n", c.cfg.ACCOUNT_ADDRESS)
	fmt.Fprintf(&b, "Executor: `%s`\n", c.cfg.EXECUTOR_ADDRESS)
	fmt.Fprintf(&b, "Bundle: %s\n", c.cfg.POLICY_BUNDLE)
	fmt.Fprintf(&b, "Forwarding: %s\n", yesNo(c.cfg.FORWARD_ENABLED))
	fmt.Fprintf(&b, "Max gas: %s gwei\n", c.cfg.MAX_GAS_PRICE_GWEI)
	fmt.Fprintf(&b, "Key: %s", key)
	return b.String()
}

func argN(text string, def int) int {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return def
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:8] + "…" + s[len(s)-4:]
}
