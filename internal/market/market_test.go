package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

func hourlyBars(n int, start int64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		p := float64(100 + i)
		bars[i] = Bar{OpenTime: start + int64(i)*time.Hour.Milliseconds(), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	return bars
}

func TestReplayHidesUnclosedBars(t *testing.T) {
	r := NewReplay()
	r.Load("BTCUSDT", "1h", hourlyBars(10, 0))

	// Bar 3 opens at 3h and closes at 4h.
	r.Advance(4 * time.Hour.Milliseconds())
	bars, err := r.GetBars(context.Background(), "BTCUSDT", "1h", 200)
	if err != nil {
		t.Fatalf("GetBars error: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("len=%d, expected 4", len(bars))
	}

	r.Advance(4*time.Hour.Milliseconds() - 1)
	bars, _ = r.GetBars(context.Background(), "BTCUSDT", "1h", 2)
	if len(bars) != 2 || bars[1].OpenTime != 2*time.Hour.Milliseconds() {
		t.Fatalf("bars=%+v, expected last visible bar to be bar 2", bars)
	}
}

func TestReplayUnavailable(t *testing.T) {
	r := NewReplay()
	_, err := r.GetBars(context.Background(), "ETHUSDT", "1h", 10)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err=%v, expected ErrDataUnavailable", err)
	}
}

type countingSource struct {
	calls int
	bars  []Bar
}

func (c *countingSource) GetBars(context.Context, string, string, int) ([]Bar, error) {
	c.calls++
	return c.bars, nil
}

func TestCachedSource(t *testing.T) {
	next := &countingSource{bars: hourlyBars(3, 0)}
	src := NewCachedSource(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := src.GetBars(ctx, "BTCUSDT", "1h", 200); err != nil {
			t.Fatalf("GetBars error: %v", err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("calls=%d, expected 1", next.calls)
	}
	if _, err := src.GetBars(ctx, "BTCUSDT", "1h", 100); err != nil {
		t.Fatalf("GetBars error: %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("calls=%d, expected 2 for a different limit", next.calls)
	}
	if n := src.Clear(); n != 2 {
		t.Fatalf("Clear=%d, expected 2", n)
	}
}

func TestIntervalDuration(t *testing.T) {
	d, err := IntervalDuration("15m")
	if err != nil || d != 15*time.Minute {
		t.Fatalf("IntervalDuration(15m)=%v,%v", d, err)
	}
	if _, err := IntervalDuration("7m"); err == nil {
		t.Fatalf("expected error for unknown timeframe")
	}
}
