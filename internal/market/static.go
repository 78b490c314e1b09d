package market

import (
	"context"
	"fmt"
	"sync"
)

// Static is an in-memory Source and PriceSource.
type Static struct {
	mu     sync.RWMutex
	series map[string][]Bar
	prices map[string]float64
	errs   map[string]error
}

// NewStatic creates an empty static source.
func NewStatic() *Static {
	return &Static{
		series: make(map[string][]Bar),
		prices: make(map[string]float64),
		errs:   make(map[string]error),
	}
}

// Set stores bars for symbol/timeframe.
func (s *Static) Set(symbol, timeframe string, bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[seriesKey(symbol, timeframe)] = bars
	if len(bars) > 0 {
		s.prices[symbol] = bars[len(bars)-1].Close
	}
}

// SetPrice overrides the last price for symbol.
func (s *Static) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// Fail makes every request for symbol return err.
func (s *Static) Fail(symbol string, err error) {
	s.mu.Lock()
	s.errs[symbol] = err
	s.mu.Unlock()
}

func (s *Static) GetBars(_ context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.errs[symbol]; err != nil {
		return nil, Unavailable(symbol, timeframe, err)
	}
	bars, ok := s.series[seriesKey(symbol, timeframe)]
	if !ok {
		return nil, Unavailable(symbol, timeframe, fmt.Errorf("no series"))
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (s *Static) GetMarketPrice(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.errs[symbol]; err != nil {
		return 0, err
	}
	p, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}
