package filter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"signal-engine/internal/indicators"
	"signal-engine/internal/market"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
)

// Local sub-check names, in evaluation order.
const (
	CheckEMA     = "ema200"
	CheckADX     = "adx14"
	CheckRVOL    = "relativeVolume"
	CheckBBWidth = "bollingerWidth"
)

// DefaultTolerance is how far price may sit on the wrong side of EMA200.
const DefaultTolerance = 0.02

var checkOrder = []string{CheckEMA, CheckADX, CheckRVOL, CheckBBWidth}

// Check is one local sub-check.
type Check struct {
	Passed    bool    `json:"passed"`
	Reason    string  `json:"reason"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold,omitempty"`

	// ema200 only
	CurrentPrice  float64 `json:"currentPrice,omitempty"`
	Trend         Trend   `json:"trend,omitempty"`
	PriceDistance float64 `json:"priceDistance,omitempty"`
}

// LocalStats counts local stage verdicts and failures per sub-check.
type LocalStats struct {
	Total          int            `json:"totalChecks"`
	Passed         int            `json:"passed"`
	Failed         int            `json:"failed"`
	FailReasons    map[string]int `json:"failReasons"`
	TopFailReasons []ReasonCount  `json:"topFailReasons"`
}

// topReasons is how many failing sub-checks Stats ranks.
const topReasons = 3

// PassRate is the percentage of checks that passed.
func (s LocalStats) PassRate() float64 { return rate(s.Passed, s.Total) }

// ReasonCount pairs a sub-check name with how often it failed.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Ranked returns the n most frequent failing sub-checks.
func (s LocalStats) Ranked(n int) []ReasonCount {
	out := make([]ReasonCount, 0, len(s.FailReasons))
	for r, c := range s.FailReasons {
		out = append(out, ReasonCount{Reason: r, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// LocalFilter confirms a signal on its own chart.
type LocalFilter struct {
	Limit     int
	Tolerance float64
	Periods   indicators.Periods

	log   *zap.Logger
	mu    sync.Mutex
	stats LocalStats
}

// NewLocalFilter evaluates the last 200 bars with a 2% EMA tolerance band.
func NewLocalFilter(logger *zap.Logger) *LocalFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalFilter{
		Limit:     200,
		Tolerance: DefaultTolerance,
		Periods:   indicators.DefaultPeriods(),
		log:       logger,
		stats:     LocalStats{FailReasons: map[string]int{}},
	}
}

// Check runs every sub-check and rejects if any of them fails.
func (l *LocalFilter) Check(ctx context.Context, sig strategy.Signal, src market.Source, cfg config.Trading) Outcome {
	bars, err := src.GetBars(ctx, sig.Symbol, sig.Timeframe, l.Limit)
	if err != nil {
		l.record(false, nil)
		l.log.Warn("local filter failed", zap.String("symbol", sig.Symbol), zap.Error(err))
		return reject("Local filter error: "+err.Error(), nil)
	}
	if len(bars) == 0 {
		l.record(false, nil)
		return reject("Local filter error: no bars", nil)
	}

	checks := l.Evaluate(indicators.Compute(bars, l.Periods), sig.Action, cfg)
	details := make(map[string]any, len(checks))
	var failed []string
	for _, name := range checkOrder {
		c := checks[name]
		details[name] = c
		if !c.Passed {
			failed = append(failed, name)
		}
	}
	l.record(len(failed) == 0, failed)

	if len(failed) == 0 {
		return pass("All local filters passed", details)
	}
	parts := make([]string, len(failed))
	for i, name := range failed {
		parts[i] = name + ": " + checks[name].Reason
	}
	return reject("Failed filters: "+strings.Join(parts, ", "), details)
}

// Evaluate turns an indicator snapshot into the four sub-check verdicts.
func (l *LocalFilter) Evaluate(s indicators.Snapshot, action strategy.Action, cfg config.Trading) map[string]Check {
	return map[string]Check{
		CheckEMA:     l.emaCheck(s, action),
		CheckADX:     threshold(s.ADX, cfg.ADXThreshold, "ADX14", "%.2f"),
		CheckRVOL:    threshold(s.RelativeVolume, cfg.RVOLThreshold, "rVOL", "%.2f"),
		CheckBBWidth: threshold(s.BBWidth, cfg.BBWidthThreshold, "BB width", "%.4f"),
	}
}

func (l *LocalFilter) emaCheck(s indicators.Snapshot, action strategy.Action) Check {
	if s.EMA.Err != nil {
		return Check{Reason: "EMA200 error: " + s.EMA.Err.Error()}
	}
	ema := s.EMA.Value
	above := s.Price > ema
	trend := TrendBearish
	if above {
		trend = TrendBullish
	}
	distance := 0.0
	if ema != 0 {
		distance = math.Abs(s.Price-ema) / ema
	}
	near := distance < l.Tolerance

	ok := near
	if action == strategy.ActionBuy {
		ok = ok || above
	} else {
		ok = ok || !above
	}
	c := Check{
		Passed:        ok,
		Value:         ema,
		CurrentPrice:  s.Price,
		Trend:         trend,
		PriceDistance: distance,
	}
	if ok {
		c.Reason = fmt.Sprintf("EMA200 trend compatible (%s, tolerance: %.1f%%)", trend, l.Tolerance*100)
	} else {
		c.Reason = fmt.Sprintf("EMA200 trend incompatible - Signal: %s, Trend: %s", action, trend)
	}
	return c
}

func threshold(r indicators.Reading, limit float64, label, format string) Check {
	if r.Err != nil {
		return Check{Reason: label + " error: " + r.Err.Error(), Threshold: limit}
	}
	c := Check{Passed: r.Value > limit, Value: r.Value, Threshold: limit}
	v := fmt.Sprintf(format, r.Value)
	if c.Passed {
		c.Reason = fmt.Sprintf("%s sufficient (%s)", label, v)
	} else {
		c.Reason = fmt.Sprintf("%s too low (%s <= %v)", label, v, limit)
	}
	return c
}

func (l *LocalFilter) record(passed bool, failed []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Total++
	if passed {
		l.stats.Passed++
		return
	}
	l.stats.Failed++
	for _, name := range failed {
		l.stats.FailReasons[name]++
	}
}

// Stats returns a copy of the counters.
func (l *LocalFilter) Stats() LocalStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.stats
	out.FailReasons = make(map[string]int, len(l.stats.FailReasons))
	for k, v := range l.stats.FailReasons {
		out.FailReasons[k] = v
	}
	out.TopFailReasons = out.Ranked(topReasons)
	return out
}

// ResetStats zeroes the counters.
func (l *LocalFilter) ResetStats() {
	l.mu.Lock()
	l.stats = LocalStats{FailReasons: map[string]int{}}
	l.mu.Unlock()
}
