package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"signal-engine/internal/engine"
	"signal-engine/internal/filter"
	"signal-engine/pkg/i18n"
)

// Commands answers the bot's read-only commands.
type Commands interface {
	Status() engine.SystemStatus
	Positions(ctx context.Context) []engine.PositionView
	FilterStats() filter.Stats
}

// Telegram sends HTML messages to one chat and serves /status, /positions
// and /stats to that chat only.
type Telegram struct {
	bot  *tele.Bot
	chat tele.ChatID
	log  *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chat: tele.ChatID(chatID), log: logger.Named("telegram")}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
	return err
}

// HandleCommands registers the command handlers.
func (t *Telegram) HandleCommands(cmds Commands) {
	t.bot.Use(t.authorize)
	t.bot.Handle("/status", func(c tele.Context) error {
		return c.Send(StatusText(cmds.Status()), tele.ModeHTML)
	})
	t.bot.Handle("/positions", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return c.Send(PositionsText(cmds.Positions(ctx)), tele.ModeHTML)
	})
	t.bot.Handle("/stats", func(c tele.Context) error {
		return c.Send(StatsText(cmds.FilterStats()), tele.ModeHTML)
	})
}

func (t *Telegram) authorize(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Chat() == nil || c.Chat().ID != int64(t.chat) {
			t.log.Warn("unauthorized telegram command", zap.String("text", c.Text()))
			return c.Send(i18n.M().Unauthorized)
		}
		return next(c)
	}
}

// Start polls for commands until Stop.
func (t *Telegram) Start() {
	t.log.Info("telegram bot started")
	t.bot.Start()
}

func (t *Telegram) Stop() {
	t.bot.Stop()
}

// StatusText renders the /status reply.
func StatusText(s engine.SystemStatus) string {
	m := i18n.M()
	halted := m.No
	if s.Halted {
		halted = m.Yes
		if s.HaltReason != "" {
			halted += " (" + s.HaltReason + ")"
		}
	}
	uptime := s.ServerTime.Sub(s.StartedAt).Truncate(time.Second)
	return fmt.Sprintf(m.StatusReply, s.Mode, halted, s.ActivePositions, s.PendingOrders, uptime)
}

// PositionsText renders the /positions reply.
func PositionsText(list []engine.PositionView) string {
	m := i18n.M()
	if len(list) == 0 {
		return m.NoPositions
	}
	lines := make([]string, 0, len(list))
	for _, p := range list {
		lines = append(lines, fmt.Sprintf(m.PositionLine, p.Symbol, p.Side, num(p.RemainingQuantity), num(p.AvgEntryPrice),
			fmt.Sprintf("%.4f", p.UnrealizedPnL)))
	}
	return strings.Join(lines, "\n")
}

// StatsText renders the /stats reply.
func StatsText(s filter.Stats) string {
	m := i18n.M()
	text := fmt.Sprintf(m.StatsReply,
		s.Global.Passed, s.Global.Total,
		s.Local.Passed, s.Local.Total,
		s.AI.Passed, s.AI.Total, s.AI.Ignored)
	if len(s.Local.TopFailReasons) == 0 {
		return text
	}
	reasons := make([]string, 0, len(s.Local.TopFailReasons))
	for _, r := range s.Local.TopFailReasons {
		reasons = append(reasons, fmt.Sprintf("%s (%d)", r.Reason, r.Count))
	}
	return text + fmt.Sprintf(m.TopFailures, strings.Join(reasons, ", "))
}
