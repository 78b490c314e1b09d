package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/events"
)

// MockFeed generates random-walk ticks for local development. It also serves
// as a PriceSource so the paper gateway can fill against the same prices.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Log        *zap.Logger

	mu     sync.RWMutex
	prices map[string]float64
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if m.Bus == nil {
		m.Log.Warn("mock feed: bus not set")
		return
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, sym := range m.symbols() {
					price := m.step(sym)
					m.Bus.Publish(events.EventPriceTick, Tick{Symbol: sym, Price: price, Time: now})
				}
			}
		}
	}()
}

// Track adds a symbol to the walk.
func (m *MockFeed) Track(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Symbols {
		if s == symbol {
			return
		}
	}
	m.Symbols = append(m.Symbols, symbol)
}

func (m *MockFeed) symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Symbols...)
}

func (m *MockFeed) step(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	price, ok := m.prices[symbol]
	if !ok {
		price = m.StartPrice
	}
	price += (rand.Float64()*2 - 1) * m.Step
	if price <= 0 {
		price = m.Step
	}
	m.prices[symbol] = price
	return price
}

// GetMarketPrice returns the current walk price, seeding unseen symbols.
func (m *MockFeed) GetMarketPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	price, ok := m.prices[symbol]
	if !ok {
		price = m.StartPrice
		if price == 0 {
			price = 100
		}
		m.prices[symbol] = price
	}
	return price, nil
}
