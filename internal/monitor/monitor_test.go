package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"signal-engine/internal/events"
	"signal-engine/internal/filter"
	"signal-engine/internal/position"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/exchanges/common"
)

func TestObserveSignals(t *testing.T) {
	m := NewMetrics()
	mon := New(nil, m, nil)

	mon.Observe(events.EventSignalProcessed, filter.ProcessResult{
		Signal:           strategy.Signal{Action: strategy.ActionBuy},
		Approved:         true,
		ProcessingTimeMs: 120,
	})
	mon.Observe(events.EventSignalProcessed, filter.ProcessResult{
		Signal: strategy.Signal{Action: strategy.ActionSell},
		FilterResults: filter.Results{
			Global: filter.Outcome{Passed: true},
			Local:  filter.Outcome{Reason: "ADX too low"},
			AI:     filter.Outcome{Skipped: true},
		},
		ProcessingTimeMs: 40,
	})

	if got := testutil.ToFloat64(m.signals.WithLabelValues("BUY", "approved")); got != 1 {
		t.Fatalf("approved=%v, expected 1", got)
	}
	if got := testutil.ToFloat64(m.filterRejects.WithLabelValues(filter.StageLocal)); got != 1 {
		t.Fatalf("local rejections=%v, expected 1", got)
	}
	if s := m.SignalLatency.Stats(); s.Count != 2 || s.Max != 120 || s.Min != 40 {
		t.Fatalf("latency=%+v", s)
	}
}

func TestObserveOrdersAndPositions(t *testing.T) {
	m := NewMetrics()
	mon := New(nil, m, nil)

	mon.Observe(events.EventOrderPlaced, common.OrderResult{Status: common.StatusFilled})
	mon.Observe(events.EventOrderPlaced, common.OrderResult{Status: common.StatusNew})
	mon.Observe(events.EventOrderFailed, map[string]any{"symbol": "ETHUSDT"})
	mon.Observe(events.EventPositionOpened, position.Position{Side: common.SideBuy})
	mon.Observe(events.EventPositionClosed, position.ClosedTrade{Reason: position.ReasonTakeProfit, PnL: 0.25})
	mon.Observe(events.EventPositionClosed, position.ClosedTrade{Reason: position.ReasonStopLoss, PnL: -0.1})
	mon.Observe(events.EventRiskAlert, map[string]any{"type": "risk_denied"})
	mon.Observe(events.EventRiskAlert, "free text")

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"filled", testutil.ToFloat64(m.orders.WithLabelValues("filled")), 1},
		{"placed", testutil.ToFloat64(m.orders.WithLabelValues("placed")), 1},
		{"failed", testutil.ToFloat64(m.orders.WithLabelValues("failed")), 1},
		{"opened", testutil.ToFloat64(m.positionsOpened.WithLabelValues("BUY")), 1},
		{"tp win", testutil.ToFloat64(m.positionsClosed.WithLabelValues(position.ReasonTakeProfit, "win")), 1},
		{"sl loss", testutil.ToFloat64(m.positionsClosed.WithLabelValues(position.ReasonStopLoss, "loss")), 1},
		{"risk denied", testutil.ToFloat64(m.riskAlerts.WithLabelValues("risk_denied")), 1},
		{"message", testutil.ToFloat64(m.riskAlerts.WithLabelValues("message")), 1},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s=%v, expected %v", tc.name, tc.got, tc.want)
		}
	}
	if pnl := testutil.ToFloat64(m.realizedPnL); pnl < 0.1499 || pnl > 0.1501 {
		t.Fatalf("pnl=%v, expected 0.15", pnl)
	}
}

func TestRunConsumesBus(t *testing.T) {
	bus := events.NewBus()
	m := NewMetrics()
	m.Gauges(func() int { return 2 }, func() int { return 1 }, bus.Dropped)
	mon := New(bus, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.ticks) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("tick never observed")
		}
		bus.Publish(events.EventPriceTick, nil)
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if n, err := testutil.GatherAndCount(m.Registry, "signal_engine_open_positions", "signal_engine_pending_orders"); err != nil || n != 2 {
		t.Fatalf("gauges=%d err=%v, expected 2", n, err)
	}
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 || s.Max != 3 || s.Avg != 2 {
		t.Fatalf("stats=%+v, expected oldest sample evicted", s)
	}
}
