package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/engine"
	"signal-engine/internal/filter"
	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/exchanges/common"
	"signal-engine/pkg/i18n"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (s *recordingSink) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, text)
	return s.err
}

func approvedResult() filter.ProcessResult {
	return filter.ProcessResult{
		Signal:   strategy.Signal{Symbol: "ETHUSDT", Action: strategy.ActionBuy, Price: 100, Timeframe: "15m"},
		Approved: true,
		FilterResults: filter.Results{
			Global: filter.Outcome{Passed: true, Reason: "BULLISH trend allows BUY"},
			Local:  filter.Outcome{Passed: true, Reason: "All local filters passed"},
			AI:     filter.Outcome{Skipped: true, Reason: "skipped"},
		},
	}
}

func TestFormatApproved(t *testing.T) {
	p := order.Params{Type: common.OrderTypeMarket, Quantity: 0.1, TakeProfitPrice: 100.5, StopPrice: 99.7}
	text := FormatApproved(approvedResult(), p)
	for _, want := range []string{"🟢", "SIGNAL APPROVED", "ETHUSDT", "$100", "15m", "TP: 100.5", "SL: 99.7", "Quantity: 0.1", "🤖 AI: ➖"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestFormatRejectedEscapesReason(t *testing.T) {
	res := approvedResult()
	res.Signal.Action = strategy.ActionSell
	text := FormatRejected(res, "ADX < 20")
	if !strings.Contains(text, "ADX &lt; 20") || !strings.Contains(text, "SELL") {
		t.Fatalf("message:\n%s", text)
	}
}

func TestFormatClosedTurkish(t *testing.T) {
	i18n.SetLanguage(i18n.LangTR)
	defer i18n.SetLanguage(i18n.LangEN)

	text := FormatClosed(position.ClosedTrade{
		Position:  position.Position{Symbol: "BTCUSDT", Side: common.SideSell, AvgEntryPrice: 50000, Quantity: 0.001},
		ExitPrice: 50500,
		PnL:       -0.5,
		Reason:    position.ReasonStopLoss,
	})
	for _, want := range []string{"🔴", "POZİSYON KAPANDI", "50500", "-0.5000", "stop_loss"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestNotifierSendsInBackground(t *testing.T) {
	sink := &recordingSink{err: errors.New("telegram down")}
	n := New(sink, nil)
	n.Error("entry order ETHUSDT", errors.New("gateway place_order: <timeout>"))
	n.EmergencyStop("manual")
	n.Daily(DailyReport{Date: "2025-03-01", TotalSignals: 4, ApprovedSignals: 1, RejectedSignals: 3, WinRate: 100, TotalPnL: 0.05, WinningTrades: 1})
	n.Wait()

	if len(sink.msgs) != 3 {
		t.Fatalf("messages=%d, expected 3", len(sink.msgs))
	}
	joined := strings.Join(sink.msgs, "\n")
	for _, want := range []string{"&lt;timeout&gt;", "EMERGENCY STOP", "Total signals: 4", "Win rate: 100.0%", "$0.05"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("messages missing %q:\n%s", want, joined)
		}
	}
}

func TestCommandTexts(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	status := StatusText(engine.SystemStatus{Mode: "paper", Halted: true, HaltReason: "manual", ActivePositions: 2, StartedAt: start, ServerTime: start.Add(90 * time.Minute)})
	if !strings.Contains(status, "Halted: yes (manual)") || !strings.Contains(status, "Uptime: 1h30m0s") {
		t.Fatalf("status:\n%s", status)
	}

	if PositionsText(nil) != "No open positions" {
		t.Fatalf("empty positions text=%q", PositionsText(nil))
	}
	views := []engine.PositionView{{
		Position:      position.Position{Symbol: "ETHUSDT", Side: common.SideBuy, RemainingQuantity: 0.1, AvgEntryPrice: 100},
		UnrealizedPnL: 0.2,
	}}
	if got := PositionsText(views); !strings.Contains(got, "ETHUSDT BUY 0.1 @ 100") || !strings.Contains(got, "0.2000") {
		t.Fatalf("positions text=%q", got)
	}

	stats := StatsText(filter.Stats{AI: filter.AIStats{Total: 3, Passed: 2, Ignored: 1}})
	if !strings.Contains(stats, "AI: 2/3 passed, 1 ignored") || strings.Contains(stats, "Top local failures") {
		t.Fatalf("stats:\n%s", stats)
	}

	stats = StatsText(filter.Stats{Local: filter.LocalStats{
		Total:          4,
		Failed:         3,
		TopFailReasons: []filter.ReasonCount{{Reason: "adx", Count: 2}, {Reason: "rvol", Count: 1}},
	}})
	if !strings.Contains(stats, "Top local failures:</b> adx (2), rvol (1)") {
		t.Fatalf("stats with failures:\n%s", stats)
	}
}
