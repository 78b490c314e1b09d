package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/position"
)

// DefaultBalance is the starting paper balance.
const DefaultBalance = 1000.0

// profitFactorCap is reported when there is profit and no loss.
const profitFactorCap = 999

// Stats are the running performance figures. Rates and drawdowns are
// percentages.
type Stats struct {
	TotalTrades     int       `json:"totalTrades"`
	WinningTrades   int       `json:"winningTrades"`
	LosingTrades    int       `json:"losingTrades"`
	TotalProfit     float64   `json:"totalProfit"`
	TotalLoss       float64   `json:"totalLoss"`
	WinRate         float64   `json:"winRate"`
	ProfitFactor    float64   `json:"profitFactor"`
	MaxDrawdown     float64   `json:"maxDrawdown"`
	CurrentDrawdown float64   `json:"currentDrawdown"`
	HighestBalance  float64   `json:"highestBalance"`
	StartDate       time.Time `json:"startDate"`
}

// TradeRecord is a closed trade as kept in the ledger.
type TradeRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
}

// Snapshot is the persisted form of the ledger.
type Snapshot struct {
	Stats      Stats         `json:"stats"`
	Balance    float64       `json:"balance"`
	Trades     []TradeRecord `json:"trades"`
	LastUpdate time.Time     `json:"lastUpdate"`
}

// Performance is the summary served to operators.
type Performance struct {
	Stats          Stats         `json:"stats"`
	Balance        float64       `json:"balance"`
	InitialBalance float64       `json:"initialBalance"`
	ReturnPercent  float64       `json:"returnPercent"`
	RecentTrades   []TradeRecord `json:"recentTrades"`
}

// Ledger keeps paper-trading results in memory and mirrors them to a JSON
// snapshot after every change. Writes happen under mu.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	initial float64
	balance float64
	stats   Stats
	trades  []TradeRecord
	log     *zap.Logger
	now     func() time.Time
}

// NewLedger creates a ledger starting at initial. An empty path disables
// persistence.
func NewLedger(path string, initial float64, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial <= 0 {
		initial = DefaultBalance
	}
	l := &Ledger{path: path, initial: initial, log: logger.Named("simulation"), now: time.Now}
	l.resetLocked(initial)
	return l
}

func (l *Ledger) resetLocked(balance float64) {
	l.balance = balance
	l.trades = nil
	l.stats = Stats{HighestBalance: balance, StartDate: l.now().UTC()}
}

// Load restores the snapshot written by an earlier run. A missing file is
// not an error.
func (l *Ledger) Load() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = snap.Stats
	l.balance = snap.Balance
	if l.balance <= 0 {
		l.balance = l.initial
	}
	l.trades = snap.Trades
	l.log.Info("ledger restored",
		zap.Int("trades", l.stats.TotalTrades),
		zap.Float64("winRate", l.stats.WinRate),
		zap.Float64("balance", l.balance))
	return nil
}

// Record books a closed trade and persists the ledger.
func (l *Ledger) Record(t TradeRecord) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += t.PnL
	l.trades = append(l.trades, t)
	l.update(t.PnL)
	if err := l.save(l.snapshotLocked()); err != nil {
		l.log.Error("save ledger failed", zap.Error(err))
	}
	return l.stats
}

// update requires l.mu.
func (l *Ledger) update(pnl float64) {
	s := &l.stats
	s.TotalTrades++
	if pnl > 0 {
		s.WinningTrades++
		s.TotalProfit += pnl
	} else {
		s.LosingTrades++
		s.TotalLoss -= pnl
	}
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100

	switch {
	case s.TotalLoss > 0:
		s.ProfitFactor = s.TotalProfit / s.TotalLoss
	case s.TotalProfit > 0:
		s.ProfitFactor = profitFactorCap
	default:
		s.ProfitFactor = 0
	}

	if l.balance > s.HighestBalance {
		s.HighestBalance = l.balance
		s.CurrentDrawdown = 0
	} else if s.HighestBalance > 0 {
		s.CurrentDrawdown = (s.HighestBalance - l.balance) / s.HighestBalance * 100
		s.MaxDrawdown = max(s.MaxDrawdown, s.CurrentDrawdown)
	}
}

// Hook books every position the manager closes.
func (l *Ledger) Hook() position.CloseHook {
	return func(_ context.Context, t position.ClosedTrade) {
		p := t.Position
		l.Record(TradeRecord{
			ID:         p.ID,
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			EntryPrice: p.AvgEntryPrice,
			ExitPrice:  t.ExitPrice,
			Quantity:   p.Quantity,
			PnL:        t.PnL,
			Reason:     t.Reason,
			EntryTime:  p.OpenedAt,
			ExitTime:   t.ClosedAt,
		})
	}
}

// Stats returns a copy of the running figures.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Balance is the current paper balance.
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// Trades returns the newest n trades, oldest first. n <= 0 returns all.
func (l *Ledger) Trades(n int) []TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if n > 0 && len(l.trades) > n {
		start = len(l.trades) - n
	}
	return append([]TradeRecord(nil), l.trades[start:]...)
}

// Performance summarises the ledger with its last ten trades.
func (l *Ledger) Performance() Performance {
	recent := l.Trades(10)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Performance{
		Stats:          l.stats,
		Balance:        l.balance,
		InitialBalance: l.initial,
		ReturnPercent:  (l.balance - l.initial) / l.initial * 100,
		RecentTrades:   recent,
	}
}

// Reset clears history and restarts at balance (the initial balance when
// balance <= 0).
func (l *Ledger) Reset(balance float64) error {
	if balance <= 0 {
		balance = l.initial
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initial = balance
	l.resetLocked(balance)
	l.log.Info("ledger reset", zap.Float64("balance", balance))
	return l.save(l.snapshotLocked())
}

func (l *Ledger) snapshotLocked() Snapshot {
	return Snapshot{
		Stats:      l.stats,
		Balance:    l.balance,
		Trades:     append([]TradeRecord(nil), l.trades...),
		LastUpdate: l.now().UTC(),
	}
}

func (l *Ledger) save(snap Snapshot) error {
	if l.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return os.Rename(tmp, l.path)
}
