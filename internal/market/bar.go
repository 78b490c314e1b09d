package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDataUnavailable reports that bars could not be fetched from upstream.
var ErrDataUnavailable = errors.New("market data unavailable")

// Bar is one OHLCV candle. Series are ordered ascending by OpenTime.
type Bar struct {
	OpenTime int64   `json:"openTime"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Tick is a single price update for a symbol.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// Source returns the latest limit bars for a symbol/timeframe.
type Source interface {
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
}

// RangeSource returns all bars whose open time falls in [start, end].
type RangeSource interface {
	GetBarsRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error)
}

// PriceSource returns the last traded price for a symbol.
type PriceSource interface {
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
}

// Closes extracts closing prices.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Unavailable wraps err so that errors.Is(err, ErrDataUnavailable) holds.
func Unavailable(symbol, timeframe string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrDataUnavailable, symbol, timeframe, err)
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration maps an exchange timeframe such as "15m" to its length.
func IntervalDuration(timeframe string) (time.Duration, error) {
	d, ok := intervals[timeframe]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", timeframe)
	}
	return d, nil
}
