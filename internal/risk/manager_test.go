package risk

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"signal-engine/pkg/config"
)

func limits() Limits {
	return Limits{MaxActiveTrades: 5, MaxTradesPerCoin: 2, DailyLossCapPercent: 5, USDTAmount: 10}
}

func TestEvaluate(t *testing.T) {
	noon := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		in      Input
		allowed bool
		failed  []string
	}{
		{"all pass", Input{Symbol: "ETHUSDT", ActiveTrades: 1, SymbolTrades: 0, DailyLoss: 1, FreeBalance: 100, Limits: limits(), Now: noon}, true, nil},
		{"max active", Input{Symbol: "ETHUSDT", ActiveTrades: 5, FreeBalance: 100, Limits: limits(), Now: noon}, false, []string{CheckMaxActiveTrades}},
		{"per coin", Input{Symbol: "ETHUSDT", SymbolTrades: 2, FreeBalance: 100, Limits: limits(), Now: noon}, false, []string{CheckMaxTradesPerCoin}},
		// cap = 5 * 10 * 5% = 2.5
		{"daily loss", Input{Symbol: "ETHUSDT", DailyLoss: 2.5, FreeBalance: 100, Limits: limits(), Now: noon}, false, []string{CheckDailyLossLimit}},
		{"balance", Input{Symbol: "ETHUSDT", FreeBalance: 9.99, Limits: limits(), Now: noon}, false, []string{CheckSufficientBalance}},
		{"balance exact", Input{Symbol: "ETHUSDT", FreeBalance: 10, Limits: limits(), Now: noon}, true, nil},
		{"balance error", Input{Symbol: "ETHUSDT", BalanceErr: errors.New("timeout"), Limits: limits(), Now: noon}, false, []string{CheckSufficientBalance}},
		{"every failure reported", Input{Symbol: "ETHUSDT", ActiveTrades: 9, SymbolTrades: 9, DailyLoss: 99, Limits: limits(), Now: noon}, false,
			[]string{CheckMaxActiveTrades, CheckMaxTradesPerCoin, CheckDailyLossLimit, CheckSufficientBalance}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.in)
			if d.Allowed != tt.allowed {
				t.Fatalf("Allowed=%v, expected %v (%s)", d.Allowed, tt.allowed, d.Reason)
			}
			if !reflect.DeepEqual(d.Failed(), tt.failed) {
				t.Fatalf("Failed=%v, expected %v", d.Failed(), tt.failed)
			}
			if len(d.Checks) != 5 {
				t.Fatalf("checks=%d, expected 5", len(d.Checks))
			}
			if !tt.allowed && strings.Count(d.Reason, "; ") != len(tt.failed)-1 {
				t.Fatalf("Reason=%q, expected %d joined reasons", d.Reason, len(tt.failed))
			}
		})
	}
}

func TestMarketConditionsAlwaysPasses(t *testing.T) {
	night := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	c := marketConditions(night)
	if !c.Passed || !strings.HasPrefix(c.Reason, "Outside") {
		t.Fatalf("check=%+v", c)
	}
}

func TestPositionSize(t *testing.T) {
	tests := []struct {
		balance, usdt, sl float64
		expected          Sizing
	}{
		{1000, 10, 0.3, Sizing{USDTAmount: 10, RiskAmount: 0.03}},
		{100, 10, 0.5, Sizing{USDTAmount: 5, RiskAmount: 0.05}},
		{50, 10, 1, Sizing{USDTAmount: 2.5, RiskAmount: 0.05}},
	}
	for _, tt := range tests {
		got := PositionSize(tt.balance, tt.usdt, tt.sl)
		if math.Abs(got.USDTAmount-tt.expected.USDTAmount) > 1e-12 || math.Abs(got.RiskAmount-tt.expected.RiskAmount) > 1e-12 {
			t.Fatalf("PositionSize(%v,%v,%v)=%+v, expected %+v", tt.balance, tt.usdt, tt.sl, got, tt.expected)
		}
	}
}

type fakeExposure struct{ active, symbol int }

func (f fakeExposure) ActiveCount() int       { return f.active }
func (f fakeExposure) SymbolCount(string) int { return f.symbol }

type memStore struct{ saved []Metrics }

func (m *memStore) SaveDailyRisk(_ context.Context, metrics Metrics) error {
	m.saved = append(m.saved, metrics)
	return nil
}

func newGate(store MetricsStore) (*Gate, *time.Time) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGate(fakeExposure{}, func(context.Context) (float64, error) { return 100, nil },
		func() config.Trading { return config.DefaultTrading() }, store, nil)
	g.now = func() time.Time { return now }
	g.metrics.Date = g.today()
	return g, &now
}

func TestGateDailyLossAndReset(t *testing.T) {
	store := &memStore{}
	g, now := newGate(store)
	ctx := context.Background()

	g.RecordTradeResult(ctx, 1.5)
	g.RecordTradeResult(ctx, -3)
	m := g.Metrics()
	if m.DailyLoss != 3 || m.DailyProfit != 1.5 || m.DailyTrades != 2 || m.DailyWins != 1 {
		t.Fatalf("metrics=%+v", m)
	}
	if m.MaxDrawdown != 3 || m.TotalRealizedPnL != -1.5 {
		t.Fatalf("metrics=%+v", m)
	}
	if len(store.saved) != 2 {
		t.Fatalf("saved=%d, expected 2", len(store.saved))
	}

	d := g.Check(ctx, "ETHUSDT")
	if d.Allowed || !reflect.DeepEqual(d.Failed(), []string{CheckDailyLossLimit}) {
		t.Fatalf("decision=%+v", d)
	}

	*now = now.Add(13 * time.Hour)
	d = g.Check(ctx, "ETHUSDT")
	if !d.Allowed {
		t.Fatalf("Allowed=false after UTC day change: %s", d.Reason)
	}
	m = g.Metrics()
	if m.DailyLoss != 0 || m.Date != "2025-03-02" || m.TotalRealizedPnL != -1.5 {
		t.Fatalf("metrics=%+v", m)
	}
	if m.ChecksTotal != 2 || m.RejectionsTotal != 1 {
		t.Fatalf("counters=%+v", m)
	}
}

func TestGateHaltResume(t *testing.T) {
	g, _ := newGate(nil)
	ctx := context.Background()

	g.Halt("manual")
	d := g.Check(ctx, "ETHUSDT")
	if d.Allowed || d.Reason != "Emergency stop active: manual" {
		t.Fatalf("decision=%+v", d)
	}
	if halted, reason := g.Halted(); !halted || reason != "manual" {
		t.Fatalf("Halted=%v,%q", halted, reason)
	}

	g.Resume()
	if d := g.Check(ctx, "ETHUSDT"); !d.Allowed {
		t.Fatalf("Allowed=false after resume: %s", d.Reason)
	}
}

func TestGatePositionSize(t *testing.T) {
	g, _ := newGate(nil)
	s, err := g.PositionSize(context.Background())
	if err != nil {
		t.Fatalf("PositionSize error: %v", err)
	}
	if s.USDTAmount != 5 {
		t.Fatalf("USDTAmount=%v, expected 5", s.USDTAmount)
	}
}
