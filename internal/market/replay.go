package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Replay serves pre-loaded series and hides every bar that has not closed by
// the current cursor, so consumers never see the future.
type Replay struct {
	mu     sync.RWMutex
	series map[string][]Bar
	asOf   int64
}

// NewReplay creates an empty replay source.
func NewReplay() *Replay {
	return &Replay{series: make(map[string][]Bar)}
}

func seriesKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// Load registers a series. Bars are sorted by open time.
func (r *Replay) Load(symbol, timeframe string, bars []Bar) {
	cp := append([]Bar(nil), bars...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].OpenTime < cp[j].OpenTime })
	r.mu.Lock()
	r.series[seriesKey(symbol, timeframe)] = cp
	r.mu.Unlock()
}

// Advance moves the cursor. Bars closing after asOf (ms) become invisible.
func (r *Replay) Advance(asOf int64) {
	r.mu.Lock()
	r.asOf = asOf
	r.mu.Unlock()
}

// GetBars returns up to limit closed bars as of the cursor.
func (r *Replay) GetBars(_ context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	d, err := IntervalDuration(timeframe)
	if err != nil {
		return nil, Unavailable(symbol, timeframe, err)
	}
	r.mu.RLock()
	bars, ok := r.series[seriesKey(symbol, timeframe)]
	asOf := r.asOf
	r.mu.RUnlock()
	if !ok {
		return nil, Unavailable(symbol, timeframe, fmt.Errorf("series not loaded"))
	}

	width := d.Milliseconds()
	end := sort.Search(len(bars), func(i int) bool { return bars[i].OpenTime+width > asOf })
	if end == 0 {
		return nil, Unavailable(symbol, timeframe, fmt.Errorf("no bars closed by %s", time.UnixMilli(asOf).UTC()))
	}
	start := 0
	if limit > 0 && end > limit {
		start = end - limit
	}
	return bars[start:end], nil
}
