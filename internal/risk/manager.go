package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-engine/pkg/config"
)

// Active trading hours in UTC. Outside them the market_conditions check
// still passes but says so.
const (
	ActiveHourStart = 6
	ActiveHourEnd   = 22
)

// Evaluate runs every check and denies if any fails. No check is skipped.
func Evaluate(in Input) Decision {
	l := in.Limits
	checks := []Check{
		bound(CheckMaxActiveTrades, in.ActiveTrades < l.MaxActiveTrades,
			fmt.Sprintf("Active trades %d/%d", in.ActiveTrades, l.MaxActiveTrades),
			fmt.Sprintf("Max active trades reached (%d/%d)", in.ActiveTrades, l.MaxActiveTrades)),
		bound(CheckMaxTradesPerCoin, in.SymbolTrades < l.MaxTradesPerCoin,
			fmt.Sprintf("%s trades %d/%d", in.Symbol, in.SymbolTrades, l.MaxTradesPerCoin),
			fmt.Sprintf("Max trades for %s reached (%d/%d)", in.Symbol, in.SymbolTrades, l.MaxTradesPerCoin)),
		bound(CheckDailyLossLimit, in.DailyLoss < l.MaxDailyLoss(),
			fmt.Sprintf("Daily loss %.2f/%.2f USDT", in.DailyLoss, l.MaxDailyLoss()),
			fmt.Sprintf("Daily loss limit exceeded (%.2f/%.2f USDT)", in.DailyLoss, l.MaxDailyLoss())),
		balanceCheck(in),
		marketConditions(in.Now),
	}

	d := Decision{Allowed: true, Checks: checks}
	var reasons []string
	for _, c := range checks {
		if !c.Passed {
			d.Allowed = false
			reasons = append(reasons, c.Reason)
		}
	}
	if d.Allowed {
		d.Reason = "All risk checks passed"
	} else {
		d.Reason = strings.Join(reasons, "; ")
	}
	return d
}

func bound(name string, ok bool, passReason, failReason string) Check {
	if ok {
		return Check{Name: name, Passed: true, Reason: passReason}
	}
	return Check{Name: name, Reason: failReason}
}

func balanceCheck(in Input) Check {
	if in.BalanceErr != nil {
		return Check{Name: CheckSufficientBalance, Reason: "Balance unavailable: " + in.BalanceErr.Error()}
	}
	return bound(CheckSufficientBalance, in.FreeBalance >= in.Limits.USDTAmount,
		fmt.Sprintf("Balance %.2f USDT", in.FreeBalance),
		fmt.Sprintf("Insufficient balance (%.2f < %.2f USDT)", in.FreeBalance, in.Limits.USDTAmount))
}

func marketConditions(now time.Time) Check {
	h := now.UTC().Hour()
	reason := "Within active hours (06-22 UTC)"
	if h < ActiveHourStart || h >= ActiveHourEnd {
		reason = "Outside active hours (06-22 UTC)"
	}
	return Check{Name: CheckMarketConditions, Passed: true, Reason: reason}
}

// PositionSize caps the order at 5% of balance and the risked amount at
// 10% of balance times the stop distance.
func PositionSize(balance, usdtAmount, slPercent float64) Sizing {
	return Sizing{
		USDTAmount: math.Min(usdtAmount, balance*0.05),
		RiskAmount: math.Min(usdtAmount, balance*0.10) * slPercent / 100,
	}
}

// Exposure reports open positions.
type Exposure interface {
	ActiveCount() int
	SymbolCount(symbol string) int
}

// BalanceFunc returns the free quote balance.
type BalanceFunc func(ctx context.Context) (float64, error)

// MetricsStore persists daily aggregates.
type MetricsStore interface {
	SaveDailyRisk(ctx context.Context, m Metrics) error
}

// Gate is the stateful risk manager around Evaluate.
type Gate struct {
	exposure Exposure
	balance  BalanceFunc
	settings func() config.Trading
	store    MetricsStore
	log      *zap.Logger
	now      func() time.Time

	mu         sync.RWMutex
	metrics    Metrics
	halted     bool
	haltReason string
}

// NewGate creates a risk gate. store may be nil.
func NewGate(exposure Exposure, balance BalanceFunc, settings func() config.Trading, store MetricsStore, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		exposure: exposure,
		balance:  balance,
		settings: settings,
		store:    store,
		log:      logger.Named("risk"),
		now:      time.Now,
	}
	g.metrics.Date = g.today()
	return g
}

func (g *Gate) today() string {
	return g.now().UTC().Format("2006-01-02")
}

// rollover resets daily counters on the first call of a new UTC day.
// Caller holds mu.
func (g *Gate) rollover() {
	today := g.today()
	if g.metrics.Date == today {
		return
	}
	g.log.Info("daily risk metrics reset",
		zap.String("previous", g.metrics.Date),
		zap.Float64("pnl", g.metrics.DailyPnL),
		zap.Int("trades", g.metrics.DailyTrades),
		zap.Float64("loss", g.metrics.DailyLoss))
	g.metrics.Date = today
	g.metrics.DailyPnL = 0
	g.metrics.DailyTrades = 0
	g.metrics.DailyWins = 0
	g.metrics.DailyLoss = 0
	g.metrics.DailyProfit = 0
}

// Check evaluates a new entry for symbol.
func (g *Gate) Check(ctx context.Context, symbol string) Decision {
	cfg := g.settings()
	in := Input{
		Symbol:       symbol,
		ActiveTrades: g.exposure.ActiveCount(),
		SymbolTrades: g.exposure.SymbolCount(symbol),
		Limits: Limits{
			MaxActiveTrades:     cfg.MaxActiveTrades,
			MaxTradesPerCoin:    cfg.MaxTradesPerCoin,
			DailyLossCapPercent: cfg.DailyLossCapPercent,
			USDTAmount:          cfg.USDTAmount,
		},
		Now: g.now(),
	}
	in.FreeBalance, in.BalanceErr = g.balance(ctx)

	g.mu.Lock()
	g.rollover()
	in.DailyLoss = g.metrics.DailyLoss
	in.DailyProfit = g.metrics.DailyProfit
	halted, haltReason := g.halted, g.haltReason
	g.mu.Unlock()

	d := Evaluate(in)
	if halted {
		stop := "Emergency stop active: " + haltReason
		d.Checks = append(d.Checks, Check{Name: CheckEmergencyStop, Reason: stop})
		if d.Allowed {
			d.Reason = stop
		} else {
			d.Reason += "; " + stop
		}
		d.Allowed = false
	}

	g.mu.Lock()
	g.metrics.ChecksTotal++
	if !d.Allowed {
		g.metrics.RejectionsTotal++
	}
	g.mu.Unlock()

	if !d.Allowed {
		g.log.Warn("risk check denied", zap.String("symbol", symbol), zap.Strings("failed", d.Failed()), zap.String("reason", d.Reason))
	}
	return d
}

// RecordTradeResult books a realized pnl.
func (g *Gate) RecordTradeResult(ctx context.Context, pnl float64) {
	g.mu.Lock()
	g.rollover()
	g.metrics.DailyTrades++
	g.metrics.DailyPnL += pnl
	if pnl > 0 {
		g.metrics.DailyWins++
		g.metrics.DailyProfit += pnl
	} else if pnl < 0 {
		g.metrics.DailyLoss += -pnl
	}
	g.metrics.TotalRealizedPnL += pnl
	if g.metrics.TotalRealizedPnL > g.metrics.MaxProfit {
		g.metrics.MaxProfit = g.metrics.TotalRealizedPnL
	}
	if dd := g.metrics.MaxProfit - g.metrics.TotalRealizedPnL; dd > g.metrics.MaxDrawdown {
		g.metrics.MaxDrawdown = dd
	}
	snapshot := g.metrics
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.SaveDailyRisk(ctx, snapshot); err != nil {
			g.log.Warn("persist risk metrics failed", zap.Error(err))
		}
	}
}

// PositionSize sizes an entry from the current balance.
func (g *Gate) PositionSize(ctx context.Context) (Sizing, error) {
	bal, err := g.balance(ctx)
	if err != nil {
		return Sizing{}, err
	}
	cfg := g.settings()
	return PositionSize(bal, cfg.USDTAmount, cfg.SLPercent), nil
}

// Halt denies every new entry until Resume.
func (g *Gate) Halt(reason string) {
	g.mu.Lock()
	g.halted = true
	g.haltReason = reason
	g.mu.Unlock()
	g.log.Warn("risk gate halted", zap.String("reason", reason))
}

// Resume lifts a Halt.
func (g *Gate) Resume() {
	g.mu.Lock()
	g.halted = false
	g.haltReason = ""
	g.mu.Unlock()
	g.log.Info("risk gate resumed")
}

// Halted reports whether the gate is halted and why.
func (g *Gate) Halted() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.halted, g.haltReason
}

// Metrics returns a snapshot, rolling over to a new day if needed.
func (g *Gate) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.metrics
}

// ResetDaily zeroes the daily counters.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	g.metrics.Date = ""
	g.rollover()
	g.mu.Unlock()
}
