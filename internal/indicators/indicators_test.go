package indicators

import (
	"errors"
	"math"
	"testing"

	"signal-engine/internal/market"
)

func closesToBars(closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{OpenTime: int64(i), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func risingBars(n int) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		f := float64(i)
		bars[i] = market.Bar{OpenTime: int64(i), Open: f, High: f + 1, Low: f, Close: f + 0.5, Volume: 10}
	}
	return bars
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"EMA", func() error { _, err := EMA(risingBars(5), 10); return err }},
		{"ADX", func() error { _, err := ADX(risingBars(27), 14); return err }},
		{"RelativeVolume", func() error { _, err := RelativeVolume(risingBars(20), 20); return err }},
		{"BollingerWidth", func() error { _, err := BollingerWidth(risingBars(19), 20, 2); return err }},
		{"SMA", func() error { _, err := SMA([]float64{1, 2}, 3); return err }},
		{"AlphaTrend", func() error { _, err := AlphaTrend(risingBars(5), 0, 1, 50, 1); return err }},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("%s err=%v, expected ErrInsufficientData", tt.name, err)
		}
	}

	if v := ATR(risingBars(3), 14); v != 0 {
		t.Fatalf("ATR short window=%v, expected neutral 0", v)
	}
	if v := MFI(risingBars(3), 14); v != NeutralMFI {
		t.Fatalf("MFI short window=%v, expected neutral %v", v, NeutralMFI)
	}
}

func TestEMA(t *testing.T) {
	bars := closesToBars(1, 2, 3, 4, 5)
	got, err := EMA(bars, 3)
	if err != nil {
		t.Fatalf("EMA error: %v", err)
	}
	if got != 4 {
		t.Fatalf("EMA=%v, expected 4", got)
	}

	again, _ := EMA(bars, 3)
	if again != got {
		t.Fatalf("EMA not deterministic: %v vs %v", again, got)
	}
	if bars[4].Close != 5 {
		t.Fatalf("EMA mutated input")
	}
}

func TestATR(t *testing.T) {
	bars := []market.Bar{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
	}
	if got := ATR(bars, 2); got != 2 {
		t.Fatalf("ATR=%v, expected 2", got)
	}
}

func TestMFI(t *testing.T) {
	bars := []market.Bar{
		{High: 10, Low: 10, Close: 10, Volume: 1},
		{High: 12, Low: 12, Close: 12, Volume: 1},
		{High: 11, Low: 11, Close: 11, Volume: 2},
	}
	expected := 100 - 100/(1+12.0/22.0)
	if got := MFI(bars, 3); !almostEqual(got, expected) {
		t.Fatalf("MFI=%v, expected %v", got, expected)
	}
	if got := MFI(risingBars(14), 14); got != 100 {
		t.Fatalf("MFI rising=%v, expected 100", got)
	}
}

func TestADX(t *testing.T) {
	got, err := ADX(risingBars(30), 14)
	if err != nil {
		t.Fatalf("ADX error: %v", err)
	}
	if !almostEqual(got, 100) {
		t.Fatalf("ADX rising=%v, expected 100", got)
	}

	flat := closesToBars(make([]float64, 30)...)
	got, err = ADX(flat, 14)
	if err != nil || got != 0 {
		t.Fatalf("ADX flat=%v,%v, expected 0,nil", got, err)
	}
}

func TestBollingerWidth(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 9
		if i%2 == 1 {
			closes[i] = 11
		}
	}
	got, err := BollingerWidth(closesToBars(closes...), 20, 2)
	if err != nil {
		t.Fatalf("BollingerWidth error: %v", err)
	}
	if !almostEqual(got, 0.4) {
		t.Fatalf("BollingerWidth=%v, expected 0.4", got)
	}
}

func TestRelativeVolume(t *testing.T) {
	bars := risingBars(21)
	bars[20].Volume = 30
	got, err := RelativeVolume(bars, 20)
	if err != nil {
		t.Fatalf("RelativeVolume error: %v", err)
	}
	if got != 3 {
		t.Fatalf("RelativeVolume=%v, expected 3", got)
	}
}

func TestAlphaTrend(t *testing.T) {
	prevBar := market.Bar{High: 12, Low: 8}
	tests := []struct {
		name     string
		cur      market.Bar
		atr, mfi float64
		expected float64
	}{
		{"bullish above prev", market.Bar{High: 13, Low: 11}, 0.5, 60, 10.5},
		{"bullish clamped to prev", market.Bar{High: 13, Low: 11}, 2, 60, 10},
		{"bearish clamped to prev", market.Bar{High: 13, Low: 11}, 0.5, 40, 10},
		{"bearish below prev", market.Bar{High: 9, Low: 7}, 0.5, 40, 9.5},
	}
	for _, tt := range tests {
		got, err := AlphaTrend([]market.Bar{prevBar, tt.cur}, 1, tt.atr, tt.mfi, AlphaTrendCoeff)
		if err != nil {
			t.Fatalf("%s: error %v", tt.name, err)
		}
		if got != tt.expected {
			t.Fatalf("%s: AlphaTrend=%v, expected %v", tt.name, got, tt.expected)
		}
	}
}

func TestCompute(t *testing.T) {
	s := Compute(risingBars(50), DefaultPeriods())
	if !errors.Is(s.EMA.Err, ErrInsufficientData) {
		t.Fatalf("EMA200 over 50 bars err=%v, expected ErrInsufficientData", s.EMA.Err)
	}
	if s.ADX.Err != nil || s.RelativeVolume.Err != nil || s.BBWidth.Err != nil {
		t.Fatalf("unexpected errors: %+v", s)
	}
	if s.Price != 49.5 {
		t.Fatalf("Price=%v, expected 49.5", s.Price)
	}
}
