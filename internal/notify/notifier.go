// Package notify formats operator notifications and delivers them to a sink
// without blocking the caller.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-engine/internal/filter"
	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/i18n"
)

const sendTimeout = 10 * time.Second

// Sink delivers one formatted message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

// DailyReport is the end-of-day summary.
type DailyReport struct {
	Date            string
	TotalSignals    int
	ApprovedSignals int
	RejectedSignals int
	WinRate         float64
	TotalPnL        float64
	WinningTrades   int
	LosingTrades    int
}

// Notifier formats events with the current language and sends them in the
// background. Delivery failures are logged and never returned.
type Notifier struct {
	sink Sink
	log  *zap.Logger
	wg   sync.WaitGroup
}

// New creates a notifier. A nil sink drops every message.
func New(sink Sink, logger *zap.Logger) *Notifier {
	if sink == nil {
		sink = Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sink: sink, log: logger.Named("notify")}
}

func (n *Notifier) send(kind, text string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.sink.Send(ctx, text); err != nil {
			n.log.Warn("notification failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

// Wait blocks until queued messages are sent.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) Started() {
	n.send("started", i18n.M().BotActive)
}

func (n *Notifier) SignalApproved(res filter.ProcessResult, p order.Params) {
	n.send("signal_approved", FormatApproved(res, p))
}

func (n *Notifier) SignalRejected(res filter.ProcessResult, reason string) {
	n.send("signal_rejected", FormatRejected(res, reason))
}

func (n *Notifier) PositionClosed(t position.ClosedTrade) {
	n.send("position_closed", FormatClosed(t))
}

func (n *Notifier) EmergencyStop(reason string) {
	n.send("emergency_stop", fmt.Sprintf(i18n.M().EmergencyStop, html.EscapeString(reason)))
}

func (n *Notifier) Error(where string, err error) {
	n.send("error", fmt.Sprintf(i18n.M().ErrorAlert, html.EscapeString(where), html.EscapeString(err.Error())))
}

func (n *Notifier) Daily(r DailyReport) {
	n.send("daily_report", FormatDaily(r))
}

// num prints v without trailing zeros.
func num(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func mark(o filter.Outcome) string {
	switch {
	case o.Skipped:
		return "➖"
	case o.Passed:
		return "✅"
	}
	return "❌"
}

func actionEmoji(a strategy.Action) string {
	if a == strategy.ActionSell {
		return "🔴"
	}
	return "🟢"
}

func filterSummary(r filter.Results) string {
	return fmt.Sprintf(i18n.M().FilterSummary,
		mark(r.Global), html.EscapeString(r.Global.Reason),
		mark(r.Local), html.EscapeString(r.Local.Reason),
		mark(r.AI), html.EscapeString(r.AI.Reason))
}

// FormatApproved renders an approved signal with its order parameters.
func FormatApproved(res filter.ProcessResult, p order.Params) string {
	m := i18n.M()
	sig := res.Signal
	var b strings.Builder
	fmt.Fprintf(&b, m.SignalApproved, actionEmoji(sig.Action), sig.Symbol, sig.Action, num(sig.Price), sig.Timeframe)
	b.WriteString("\n\n")
	b.WriteString(filterSummary(res.FilterResults))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, m.OrderDetails, p.Type, num(p.Quantity), num(p.TakeProfitPrice), num(p.StopPrice))
	return b.String()
}

// FormatRejected renders a rejected signal.
func FormatRejected(res filter.ProcessResult, reason string) string {
	m := i18n.M()
	sig := res.Signal
	var b strings.Builder
	fmt.Fprintf(&b, m.SignalRejected, sig.Symbol, sig.Action, num(sig.Price), html.EscapeString(reason))
	b.WriteString("\n\n")
	b.WriteString(filterSummary(res.FilterResults))
	return b.String()
}

// FormatClosed renders a closed position.
func FormatClosed(t position.ClosedTrade) string {
	emoji := "🟢"
	if t.PnL < 0 {
		emoji = "🔴"
	}
	p := t.Position
	return fmt.Sprintf(i18n.M().PositionClosed, emoji, p.Symbol, p.Side,
		num(p.AvgEntryPrice), num(t.ExitPrice), num(p.Quantity),
		decimal.NewFromFloat(t.PnL).StringFixed(4), t.Reason)
}

// FormatDaily renders the daily summary.
func FormatDaily(r DailyReport) string {
	return fmt.Sprintf(i18n.M().DailyReport, r.Date,
		r.TotalSignals, r.ApprovedSignals, r.RejectedSignals, r.WinRate,
		r.TotalPnL, r.WinningTrades, r.LosingTrades)
}
