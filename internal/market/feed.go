package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/events"
	wsmarket "signal-engine/pkg/market/binance"
)

// Feed publishes price ticks for tracked symbols to the event bus. Websocket
// streams push updates; a polling loop fills gaps.
type Feed struct {
	Stream       *wsmarket.StreamClient
	Prices       PriceSource
	Bus          *events.Bus
	PollInterval time.Duration
	Log          *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	tracked map[string]context.CancelFunc
}

// Start begins the polling loop. Streams start as symbols are tracked.
func (f *Feed) Start(ctx context.Context) {
	if f.Log == nil {
		f.Log = zap.NewNop()
	}
	if f.Bus == nil {
		f.Log.Warn("market feed: bus not set; skipping start")
		return
	}
	f.mu.Lock()
	f.ctx = ctx
	if f.tracked == nil {
		f.tracked = make(map[string]context.CancelFunc)
	}
	pending := make([]string, 0, len(f.tracked))
	for sym, cancel := range f.tracked {
		if cancel == nil {
			pending = append(pending, sym)
		}
	}
	f.mu.Unlock()

	for _, sym := range pending {
		f.Track(sym)
	}
	if f.Prices != nil {
		go f.poll(ctx)
	}
}

// Track starts streaming symbol if it is not streamed yet.
func (f *Feed) Track(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tracked == nil {
		f.tracked = make(map[string]context.CancelFunc)
	}
	if cancel, ok := f.tracked[symbol]; ok && cancel != nil {
		return
	}
	if f.ctx == nil || f.Stream == nil {
		f.tracked[symbol] = nil
		return
	}
	ctx, cancel := context.WithCancel(f.ctx)
	f.tracked[symbol] = cancel
	go func() {
		for t := range f.Stream.WatchTicker(ctx, symbol) {
			f.publish(Tick{Symbol: t.Symbol, Price: t.Price, Time: time.UnixMilli(t.Time)})
		}
	}()
}

// Untrack stops streaming symbol.
func (f *Feed) Untrack(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cancel := f.tracked[symbol]; cancel != nil {
		cancel()
	}
	delete(f.tracked, symbol)
}

// Symbols lists tracked symbols.
func (f *Feed) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tracked))
	for sym := range f.tracked {
		out = append(out, sym)
	}
	return out
}

func (f *Feed) publish(t Tick) {
	f.Bus.Publish(events.EventPriceTick, t)
}

func (f *Feed) poll(ctx context.Context) {
	interval := f.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range f.Symbols() {
				price, err := f.Prices.GetMarketPrice(ctx, sym)
				if err != nil {
					f.Log.Warn("market feed poll failed", zap.String("symbol", sym), zap.Error(err))
					continue
				}
				f.publish(Tick{Symbol: sym, Price: price, Time: time.Now()})
			}
		}
	}
}
