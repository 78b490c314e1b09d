package backtest

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"signal-engine/internal/filter"
	"signal-engine/internal/market"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
	"signal-engine/pkg/db"
)

// breakoutSeries is flat for 15 bars, jumps at bar 15 and then holds above
// the take profit of a BUY at 110.
func breakoutSeries(start int64) []market.Bar {
	bars := make([]market.Bar, 20)
	for i := range bars {
		t := start + int64(i)*900_000
		b := market.Bar{OpenTime: t, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
		switch {
		case i == 15:
			b = market.Bar{OpenTime: t, Open: 100, High: 111, Low: 109, Close: 110, Volume: 1}
		case i > 15:
			b = market.Bar{OpenTime: t, Open: 110, High: 112, Low: 110, Close: 111, Volume: 1}
		}
		bars[i] = b
	}
	return bars
}

type stubEvaluator struct {
	approve bool
	calls   int
	visible []int
}

func (e *stubEvaluator) Evaluate(ctx context.Context, sig strategy.Signal, src market.Source) filter.ProcessResult {
	e.calls++
	bars, err := src.GetBars(ctx, sig.Symbol, sig.Timeframe, 500)
	if err == nil {
		e.visible = append(e.visible, len(bars))
	}
	res := filter.ProcessResult{Signal: sig, Approved: e.approve}
	res.FilterResults.Global = filter.Outcome{Passed: true}
	if e.approve {
		res.FilterResults.Local = filter.Outcome{Passed: true}
		res.FilterResults.AI = filter.Outcome{Passed: true}
		res.Reason = "All filters passed"
	} else {
		res.FilterResults.Local = filter.Outcome{Reason: "Failed filters"}
		res.FilterResults.AI = filter.Outcome{Skipped: true}
		res.Reason = "Local filter: Failed filters"
	}
	return res
}

type rangeSource struct {
	series map[string][]market.Bar
	err    map[string]error
}

func (r *rangeSource) GetBarsRange(_ context.Context, symbol, timeframe string, _, _ time.Time) ([]market.Bar, error) {
	key := symbol + "|" + timeframe
	if err := r.err[key]; err != nil {
		return nil, market.Unavailable(symbol, timeframe, err)
	}
	return r.series[key], nil
}

func defaults() config.Trading { return config.DefaultTrading() }

func TestResolve(t *testing.T) {
	bars := []market.Bar{
		{Close: 100},
		{High: 100.5, Low: 99.5, Close: 100},
		{High: 101.2, Low: 98.5, Close: 100},
	}
	tests := []struct {
		name   string
		bars   []market.Bar
		action strategy.Action
		tp, sl float64
		exit   float64
		reason string
		index  int
	}{
		{"tp checked before sl", bars, strategy.ActionBuy, 101, 99, 101, ExitTakeProfit, 2},
		{"sl", []market.Bar{{Close: 100}, {High: 100.2, Low: 98.9, Close: 99}}, strategy.ActionBuy, 101, 99, 99, ExitStopLoss, 1},
		{"short tp before sl", bars, strategy.ActionSell, 99, 101, 99, ExitTakeProfit, 2},
		{"short sl", []market.Bar{{Close: 100}, {High: 101.5, Low: 99.5, Close: 101}}, strategy.ActionSell, 99, 101, 101, ExitStopLoss, 1},
		{"end of data", bars, strategy.ActionBuy, 105, 95, 100, ExitEndOfData, 2},
		{"entry on last bar", bars[:1], strategy.ActionBuy, 101, 99, 100, ExitEndOfData, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit, reason, index := Resolve(tt.bars, 0, tt.action, tt.tp, tt.sl)
			if exit != tt.exit || reason != tt.reason || index != tt.index {
				t.Fatalf("Resolve=(%v, %s, %d), expected (%v, %s, %d)", exit, reason, index, tt.exit, tt.reason, tt.index)
			}
		})
	}
}

func TestSimulateApproved(t *testing.T) {
	bars := breakoutSeries(0)
	replay := market.NewReplay()
	replay.Load("ETHUSDT", "15m", bars)
	eval := &stubEvaluator{approve: true}
	sim := NewSimulator(nil, eval, defaults, nil)

	res, err := sim.Simulate(context.Background(), Options{Symbol: "ETHUSDT", Timeframe: "15m"}, bars, replay, 0)
	if err != nil {
		t.Fatalf("Simulate error: %v", err)
	}
	if res.TotalSignals != 1 || res.ApprovedSignals != 1 || res.RejectedSignals != 0 {
		t.Fatalf("signals=%d/%d/%d, expected 1/1/0", res.TotalSignals, res.ApprovedSignals, res.RejectedSignals)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades=%d, expected 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != ExitTakeProfit || tr.EntryPrice != 110 || tr.ExitPrice != 110.55 || tr.ExitIndex != 16 {
		t.Fatalf("trade=%+v", tr)
	}
	wantPnL := 0.55 * 10 / 110.0
	if math.Abs(tr.PnL-wantPnL) > 1e-9 || math.Abs(res.FinalBalance-(1000+wantPnL)) > 1e-9 {
		t.Fatalf("PnL=%v balance=%v, expected %v", tr.PnL, res.FinalBalance, wantPnL)
	}
	if res.WinRate != 100 || res.MaxDrawdown != 0 {
		t.Fatalf("winRate=%v maxDrawdown=%v", res.WinRate, res.MaxDrawdown)
	}
	if len(eval.visible) != 1 || eval.visible[0] != 16 {
		t.Fatalf("visible bars=%v, expected [16]", eval.visible)
	}
	if res.FilterStats.AI.Passed != 1 || res.FilterStats.Global.SuccessRate != 100 {
		t.Fatalf("filterStats=%+v", res.FilterStats)
	}
}

func TestSimulateRejected(t *testing.T) {
	bars := breakoutSeries(0)
	replay := market.NewReplay()
	replay.Load("ETHUSDT", "15m", bars)
	sim := NewSimulator(nil, &stubEvaluator{}, defaults, nil)

	res, err := sim.Simulate(context.Background(), Options{Symbol: "ETHUSDT", Timeframe: "15m"}, bars, replay, 0)
	if err != nil {
		t.Fatalf("Simulate error: %v", err)
	}
	if res.TotalSignals != 1 || res.RejectedSignals != 1 || len(res.Trades) != 0 {
		t.Fatalf("result=%+v", res)
	}
	fs := res.FilterStats
	if fs.Global.Passed != 1 || fs.Local.Failed != 1 || fs.AI.Passed+fs.AI.Failed != 0 {
		t.Fatalf("filterStats=%+v", fs)
	}
	if res.FinalBalance != 1000 || res.WinRate != 0 {
		t.Fatalf("balance=%v winRate=%v", res.FinalBalance, res.WinRate)
	}
}

func TestRunFetchesReferences(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &rangeSource{
		series: map[string][]market.Bar{"ETHUSDT|15m": breakoutSeries(start.UnixMilli())},
		err:    map[string]error{"BTCUSDT|1h": errors.New("timeout")},
	}
	eval := &stubEvaluator{approve: true}
	sim := NewSimulator(src, eval, defaults, nil)

	res, err := sim.Run(context.Background(), Options{Start: start, End: start.Add(5 * time.Hour)})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Symbol != "ETHUSDT" || res.Timeframe != "15m" || res.TotalSignals != 1 {
		t.Fatalf("result=%+v", res)
	}
}

func TestRunAbortsOnDataError(t *testing.T) {
	src := &rangeSource{err: map[string]error{"ETHUSDT|15m": errors.New("connection reset")}}
	sim := NewSimulator(src, &stubEvaluator{}, defaults, nil)
	if _, err := sim.Run(context.Background(), Options{}); !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("err=%v, expected ErrDataUnavailable", err)
	}

	empty := NewSimulator(&rangeSource{}, &stubEvaluator{}, defaults, nil)
	if _, err := empty.Run(context.Background(), Options{}); !errors.Is(err, ErrNoData) {
		t.Fatalf("err=%v, expected ErrNoData", err)
	}
}

func TestPresetOptions(t *testing.T) {
	now := time.Date(2025, 3, 31, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		start time.Time
	}{
		{PresetLastWeek, time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)},
		{PresetLastMonth, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{PresetLast3Months, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		opts, err := PresetOptions(tt.name, "", now)
		if err != nil {
			t.Fatalf("PresetOptions(%s) error: %v", tt.name, err)
		}
		if !opts.Start.Equal(tt.start) || !opts.End.Equal(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("%s: start=%v end=%v", tt.name, opts.Start, opts.End)
		}
		if opts.Symbol != "ETHUSDT" || opts.Timeframe != "15m" || opts.InitialBalance != 1000 || opts.USDTPerTrade != 10 {
			t.Fatalf("%s: defaults not applied: %+v", tt.name, opts)
		}
	}
	if _, err := PresetOptions("yesterday", "", now); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("err=%v, expected ErrUnknownPreset", err)
	}
}

type memArchive struct{ runs []db.BacktestRun }

func (m *memArchive) SaveBacktestRun(_ context.Context, r db.BacktestRun) error {
	m.runs = append(m.runs, r)
	return nil
}

func (m *memArchive) ListBacktestRuns(context.Context, int) ([]db.BacktestRun, error) {
	return m.runs, nil
}

func TestServicePersistsReport(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &rangeSource{series: map[string][]market.Bar{"ETHUSDT|15m": breakoutSeries(start.UnixMilli())}}
	path := filepath.Join(t.TempDir(), "results", "backtest_results.json")
	archive := &memArchive{}
	svc := NewService(NewSimulator(src, &stubEvaluator{approve: true}, defaults, nil), path, archive, defaults, nil)

	if _, err := svc.Latest(); !errors.Is(err, ErrNoResults) {
		t.Fatalf("Latest err=%v, expected ErrNoResults", err)
	}
	rep, err := svc.Run(context.Background(), Options{Start: start, End: start.Add(5 * time.Hour)})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	saved, err := svc.Latest()
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if saved.ID != rep.ID || len(saved.Result.Trades) != 1 || saved.Config.TPPercent != 0.5 {
		t.Fatalf("saved=%+v", saved)
	}
	runs, _ := svc.History(context.Background(), 10)
	if len(runs) != 1 || runs[0].ID != rep.ID || runs[0].Trades != 1 {
		t.Fatalf("runs=%+v", runs)
	}
}
