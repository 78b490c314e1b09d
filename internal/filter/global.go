package filter

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"signal-engine/internal/indicators"
	"signal-engine/internal/market"
	"signal-engine/internal/strategy"
)

// Trend is the regime of a reference symbol or of the whole market.
type Trend string

const (
	TrendBullish      Trend = "BULLISH"
	TrendBearish      Trend = "BEARISH"
	TrendMixedBullish Trend = "MIXED_BULLISH"
	TrendMixedBearish Trend = "MIXED_BEARISH"
	TrendNeutral      Trend = "NEUTRAL"
)

// CombineTrends merges the regimes of the primary and secondary reference
// symbols. Disagreement leans toward the primary.
func CombineTrends(primary, secondary Trend) Trend {
	switch {
	case primary == secondary && (primary == TrendBullish || primary == TrendBearish):
		return primary
	case primary == TrendBullish && secondary == TrendBearish:
		return TrendMixedBullish
	case primary == TrendBearish && secondary == TrendBullish:
		return TrendMixedBearish
	default:
		return TrendNeutral
	}
}

// Rule says whether an action is accepted in a regime and which reason to report.
type Rule struct {
	Allowed bool
	Reason  string
}

// CompatibilityTable maps a market regime and a signal action to a rule.
// Missing entries reject.
type CompatibilityTable map[Trend]map[strategy.Action]Rule

// DefaultCompatibility trades both sides in every directional regime and
// rejects only when the market is unclear.
func DefaultCompatibility() CompatibilityTable {
	unclear := Rule{Reason: "Market trend unclear"}
	return CompatibilityTable{
		TrendBullish: {
			strategy.ActionBuy:  {Allowed: true, Reason: "Bull market - LONG entry approved"},
			strategy.ActionSell: {Allowed: true, Reason: "Bull market - LONG exit approved"},
		},
		TrendBearish: {
			strategy.ActionBuy:  {Allowed: true, Reason: "Bear market - LONG entry (reversal)"},
			strategy.ActionSell: {Allowed: true, Reason: "Bear market - LONG exit approved"},
		},
		TrendMixedBullish: {
			strategy.ActionBuy:  {Allowed: true, Reason: "Mixed bull - LONG preferred"},
			strategy.ActionSell: {Allowed: true, Reason: "Mixed bull - SHORT accepted"},
		},
		TrendMixedBearish: {
			strategy.ActionBuy:  {Allowed: true, Reason: "Mixed bear - LONG accepted"},
			strategy.ActionSell: {Allowed: true, Reason: "Mixed bear - SHORT preferred"},
		},
		TrendNeutral: {
			strategy.ActionBuy:  unclear,
			strategy.ActionSell: unclear,
		},
	}
}

// Lookup returns the rule for trend/action.
func (t CompatibilityTable) Lookup(trend Trend, action strategy.Action) Rule {
	if byAction, ok := t[trend]; ok {
		if r, ok := byAction[action]; ok {
			return r
		}
	}
	return Rule{Reason: fmt.Sprintf("No rule for %s in %s market", action, trend)}
}

// GlobalStats counts global stage verdicts.
type GlobalStats struct {
	Total  int `json:"totalChecks"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// PassRate is the percentage of checks that passed.
func (s GlobalStats) PassRate() float64 { return rate(s.Passed, s.Total) }

// GlobalFilter classifies the market regime from two reference symbols.
type GlobalFilter struct {
	Primary   string
	Secondary string
	Timeframe string
	Limit     int
	EMAPeriod int
	Table     CompatibilityTable

	log   *zap.Logger
	mu    sync.Mutex
	stats GlobalStats
}

// NewGlobalFilter uses BTCUSDT/ETHUSDT on 1h bars with EMA200.
func NewGlobalFilter(logger *zap.Logger) *GlobalFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GlobalFilter{
		Primary:   "BTCUSDT",
		Secondary: "ETHUSDT",
		Timeframe: "1h",
		Limit:     200,
		EMAPeriod: 200,
		Table:     DefaultCompatibility(),
		log:       logger,
	}
}

// SymbolTrend classifies one reference symbol by its last close vs EMA.
func (g *GlobalFilter) SymbolTrend(ctx context.Context, src market.Source, symbol string) (Trend, error) {
	bars, err := src.GetBars(ctx, symbol, g.Timeframe, g.Limit)
	if err != nil {
		return TrendNeutral, err
	}
	ema, err := indicators.EMA(bars, g.EMAPeriod)
	if err != nil {
		return TrendNeutral, fmt.Errorf("%s: %w", symbol, err)
	}
	if bars[len(bars)-1].Close > ema {
		return TrendBullish, nil
	}
	return TrendBearish, nil
}

// Check runs the stage. Any error rejects.
func (g *GlobalFilter) Check(ctx context.Context, sig strategy.Signal, src market.Source) Outcome {
	out := g.check(ctx, sig, src)
	g.mu.Lock()
	g.stats.Total++
	if out.Passed {
		g.stats.Passed++
	} else {
		g.stats.Failed++
	}
	g.mu.Unlock()
	return out
}

func (g *GlobalFilter) check(ctx context.Context, sig strategy.Signal, src market.Source) Outcome {
	primary, err := g.SymbolTrend(ctx, src, g.Primary)
	if err != nil {
		g.log.Warn("global filter failed", zap.String("symbol", g.Primary), zap.Error(err))
		return reject("Global filter error: "+err.Error(), nil)
	}
	secondary, err := g.SymbolTrend(ctx, src, g.Secondary)
	if err != nil {
		g.log.Warn("global filter failed", zap.String("symbol", g.Secondary), zap.Error(err))
		return reject("Global filter error: "+err.Error(), nil)
	}

	trend := CombineTrends(primary, secondary)
	rule := g.Table.Lookup(trend, sig.Action)
	details := map[string]any{
		"marketTrend":  trend,
		"btcTrend":     primary,
		"ethTrend":     secondary,
		"signalAction": sig.Action,
	}
	g.log.Debug("global market trend",
		zap.String("market", string(trend)),
		zap.String("primary", string(primary)),
		zap.String("secondary", string(secondary)))
	if !rule.Allowed {
		return reject(rule.Reason, details)
	}
	return pass(rule.Reason, details)
}

// Stats returns a copy of the counters.
func (g *GlobalFilter) Stats() GlobalStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ResetStats zeroes the counters.
func (g *GlobalFilter) ResetStats() {
	g.mu.Lock()
	g.stats = GlobalStats{}
	g.mu.Unlock()
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
