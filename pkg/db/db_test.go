package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openMemory(t *testing.T) *Database {
	t.Helper()
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database := openMemory(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second ApplyMigrations error: %v", err)
	}
	ok, err := columnExists(database.DB, "signals", "processing_ms")
	if err != nil || !ok {
		t.Fatalf("processing_ms column exists=%v err=%v", ok, err)
	}
}

func TestClosedPositions(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, pnl := range []float64{0.5, -0.3} {
		p := ClosedPosition{
			ID:              []string{"a", "b"}[i],
			Symbol:          "ETHUSDT",
			Side:            "BUY",
			EntryPrice:      100,
			AvgEntryPrice:   100,
			ExitPrice:       100 + pnl,
			Quantity:        1,
			PnL:             pnl,
			Reason:          "take_profit",
			PartialExecuted: i == 0,
			OpenedAt:        base,
			ClosedAt:        base.Add(time.Duration(i+1) * time.Hour),
		}
		if err := database.SaveClosedPosition(ctx, p); err != nil {
			t.Fatalf("SaveClosedPosition error: %v", err)
		}
	}

	got, err := database.ListClosedPositions(ctx, 10)
	if err != nil {
		t.Fatalf("ListClosedPositions error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("order=%+v, expected newest first", got)
	}
	if !got[1].PartialExecuted || got[0].PartialExecuted {
		t.Fatalf("PartialExecuted not round-tripped")
	}
	if !got[1].OpenedAt.Equal(base) {
		t.Fatalf("OpenedAt=%v, expected %v", got[1].OpenedAt, base)
	}
}

func TestSignalsBatch(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	records := []SignalRecord{
		{ID: "s1", Symbol: "ETHUSDT", Action: "BUY", Timeframe: "15m", Price: 100, Approved: true, Reason: "All filters passed", ReceivedAt: now},
		{ID: "s2", Symbol: "BTCUSDT", Action: "SELL", Timeframe: "15m", Price: 60000, Reason: "Global filter: Market trend unclear", ReceivedAt: now.Add(time.Second)},
	}
	if err := database.SaveSignals(ctx, records); err != nil {
		t.Fatalf("SaveSignals error: %v", err)
	}
	if err := database.SaveSignals(ctx, nil); err != nil {
		t.Fatalf("SaveSignals(nil) error: %v", err)
	}

	got, err := database.ListSignals(ctx, 1)
	if err != nil {
		t.Fatalf("ListSignals error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s2" || got[0].Approved {
		t.Fatalf("signals=%+v", got)
	}
}

func TestOrdersLifecycle(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()

	if err := database.CreateOrder(ctx, Order{ID: "o1", Symbol: "ETHUSDT", Side: "BUY", Type: "LIMIT", Price: 99, Qty: 0.1, Status: "NEW"}); err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if err := database.CreateOrder(ctx, Order{ID: "o2", Symbol: "ETHUSDT", Side: "BUY", Type: "LIMIT", Price: 98, Qty: 0.1, Status: "NEW"}); err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if err := database.UpdateOrderFill(ctx, "o1", "FILLED", 0.1, 98.9); err != nil {
		t.Fatalf("UpdateOrderFill error: %v", err)
	}
	if err := database.UpdateOrderFill(ctx, "missing", "FILLED", 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}

	open, err := database.ListOpenOrders(ctx)
	if err != nil {
		t.Fatalf("ListOpenOrders error: %v", err)
	}
	if len(open) != 1 || open[0].ID != "o2" {
		t.Fatalf("open=%+v, expected only o2", open)
	}
}

func TestBacktestRuns(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	run := BacktestRun{
		ID:              "r1",
		Symbol:          "ETHUSDT",
		Timeframe:       "15m",
		Start:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:             time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		TotalSignals:    4,
		ApprovedSignals: 1,
		RejectedSignals: 3,
		Trades:          1,
		WinRate:         100,
		TotalProfit:     0.05,
		FinalBalance:    1000.05,
	}
	if err := database.SaveBacktestRun(ctx, run); err != nil {
		t.Fatalf("SaveBacktestRun error: %v", err)
	}
	got, err := database.ListBacktestRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListBacktestRuns error: %v", err)
	}
	if len(got) != 1 || got[0].TotalSignals != 4 || !got[0].End.Equal(run.End) {
		t.Fatalf("runs=%+v", got)
	}
}

func TestDailyRiskUpsert(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()

	if _, err := database.GetDailyRisk(ctx, "2025-03-01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
	if err := database.UpsertDailyRisk(ctx, DailyRisk{Date: "2025-03-01", DailyPnL: -1, DailyTrades: 1, DailyLoss: 1}); err != nil {
		t.Fatalf("UpsertDailyRisk error: %v", err)
	}
	if err := database.UpsertDailyRisk(ctx, DailyRisk{Date: "2025-03-01", DailyPnL: 1, DailyTrades: 2, DailyWins: 1, DailyLoss: 1, DailyProfit: 2}); err != nil {
		t.Fatalf("UpsertDailyRisk error: %v", err)
	}
	got, err := database.GetDailyRisk(ctx, "2025-03-01")
	if err != nil {
		t.Fatalf("GetDailyRisk error: %v", err)
	}
	if got.DailyTrades != 2 || got.DailyPnL != 1 || got.DailyWins != 1 {
		t.Fatalf("risk=%+v", got)
	}
}

func TestSummarize(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	signals := []SignalRecord{
		{ID: "s1", Symbol: "ETHUSDT", Action: "BUY", Price: 100, Approved: true, ReceivedAt: day.Add(time.Hour)},
		{ID: "s2", Symbol: "ETHUSDT", Action: "SELL", Price: 101, ReceivedAt: day.Add(2 * time.Hour)},
		{ID: "s3", Symbol: "ETHUSDT", Action: "BUY", Price: 99, Approved: true, ReceivedAt: day.Add(-time.Hour)},
	}
	if err := database.SaveSignals(ctx, signals); err != nil {
		t.Fatalf("SaveSignals error: %v", err)
	}
	for i, pnl := range []float64{0.4, -0.1, 0.2} {
		closed := day.Add(time.Duration(i*10) * time.Hour)
		p := ClosedPosition{ID: []string{"a", "b", "c"}[i], Symbol: "ETHUSDT", Side: "BUY", PnL: pnl, OpenedAt: closed, ClosedAt: closed}
		if err := database.SaveClosedPosition(ctx, p); err != nil {
			t.Fatalf("SaveClosedPosition error: %v", err)
		}
	}

	// c closes at 20:00 and is inside the day; nothing before midnight counts.
	s, err := database.Summarize(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if s.TotalSignals != 2 || s.ApprovedSignals != 1 {
		t.Fatalf("signals=%d approved=%d, expected 2/1", s.TotalSignals, s.ApprovedSignals)
	}
	if s.Trades != 3 || s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Fatalf("trades=%+v", s)
	}
	if s.TotalPnL < 0.4999 || s.TotalPnL > 0.5001 {
		t.Fatalf("pnl=%v, expected 0.5", s.TotalPnL)
	}
}
