package strategy

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"signal-engine/internal/market"
)

// breakoutSeries is flat for 15 bars, jumps at bar 15 and then holds.
func breakoutSeries() []market.Bar {
	bars := make([]market.Bar, 20)
	for i := range bars {
		b := market.Bar{OpenTime: int64(i) * 900_000, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
		switch {
		case i == 15:
			b = market.Bar{OpenTime: b.OpenTime, Open: 100, High: 111, Low: 109, Close: 110, Volume: 1}
		case i > 15:
			b = market.Bar{OpenTime: b.OpenTime, Open: 110, High: 112, Low: 110, Close: 111, Volume: 1}
		}
		bars[i] = b
	}
	return bars
}

func TestAlphaTrendCrossover(t *testing.T) {
	bars := breakoutSeries()
	gen := AlphaTrend{Params: DefaultAlphaTrendParams()}

	var signals []Signal
	var crossings []Crossover
	for i := range bars {
		if sig, x, ok := gen.SignalAt("ETHUSDT", "15m", bars, i); ok {
			signals = append(signals, sig)
			crossings = append(crossings, x)
		}
	}
	if len(signals) != 1 {
		t.Fatalf("signals=%d, expected 1: %+v", len(signals), signals)
	}
	sig := signals[0]
	if sig.Action != ActionBuy || sig.Price != 110 || sig.Strategy != AlphaTrendName {
		t.Fatalf("signal=%+v, expected AlphaTrend BUY at 110", sig)
	}
	x := crossings[0]
	if x.Index != 15 || x.ATR != 2.5 || x.MFI != 100 || x.AT != 106.5 || x.ATPrev != 100 {
		t.Fatalf("crossover=%+v", x)
	}
}

func TestSignalAtNeedsWarmup(t *testing.T) {
	bars := breakoutSeries()
	gen := AlphaTrend{}
	for i := 0; i < 14; i++ {
		if _, _, ok := gen.SignalAt("ETHUSDT", "15m", bars, i); ok {
			t.Fatalf("signal at index %d before warmup", i)
		}
	}
}

func TestSignalValidate(t *testing.T) {
	base := Signal{Strategy: "AlphaTrend", Action: ActionBuy, Symbol: "ETHUSDT", Timeframe: "15m", Price: 100}
	tests := []struct {
		name   string
		mutate func(*Signal)
		err    error
	}{
		{"ok", func(*Signal) {}, nil},
		{"zero price", func(s *Signal) { s.Price = 0 }, ErrInvalidPrice},
		{"nan price", func(s *Signal) { s.Price = math.NaN() }, ErrInvalidPrice},
		{"bad action", func(s *Signal) { s.Action = "HOLD" }, ErrInvalidSignal},
		{"no symbol", func(s *Signal) { s.Symbol = "" }, ErrInvalidSignal},
	}
	for _, tt := range tests {
		s := base
		tt.mutate(&s)
		err := s.Validate()
		if tt.err == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if tt.err != nil && !errors.Is(err, tt.err) {
			t.Fatalf("%s: err=%v, expected %v", tt.name, err, tt.err)
		}
	}
}

func TestNormalize(t *testing.T) {
	s := Signal{Action: "buy", Symbol: " ethusdt "}.Normalize()
	if s.Action != ActionBuy || s.Symbol != "ETHUSDT" {
		t.Fatalf("Normalize=%+v", s)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	if err := os.WriteFile(path, []byte("alphatrend:\n  period: 21\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if p.Period != 21 || p.Coeff != 1 {
		t.Fatalf("params=%+v, expected period 21 coeff 1", p)
	}
}
