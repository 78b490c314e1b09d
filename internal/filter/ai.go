package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/strategy"
)

// Decision values returned by a Reasoner, plus the two annotations the
// stage adds on its own.
const (
	DecisionBuy      = "BUY"
	DecisionSell     = "SELL"
	DecisionIgnore   = "IGNORE"
	DecisionBypass   = "BYPASS"
	DecisionFallback = "FALLBACK"
)

// Decision is a Reasoner's verdict on a signal.
type Decision struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// SignalContext is the signal as presented to a Reasoner.
type SignalContext struct {
	Symbol    string          `json:"symbol"`
	Action    strategy.Action `json:"action"`
	Price     float64         `json:"price"`
	Timeframe string          `json:"timeframe"`
	Timestamp string          `json:"timestamp"`
}

// MarketContext is the global stage's view of the market.
type MarketContext struct {
	BTCTrend    Trend `json:"btcTrend"`
	ETHTrend    Trend `json:"ethTrend"`
	MarketTrend Trend `json:"marketTrend"`
}

// AIContext is everything a Reasoner sees.
type AIContext struct {
	Signal       SignalContext    `json:"signal"`
	GlobalMarket MarketContext    `json:"globalMarket"`
	Technical    map[string]Check `json:"technicalIndicators"`
}

// Reasoner is an external decision service.
type Reasoner interface {
	Decide(ctx context.Context, in AIContext) (Decision, error)
}

// AIStats counts AI stage verdicts.
type AIStats struct {
	Total   int `json:"totalChecks"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Ignored int `json:"ignored"`
}

// PassRate is the percentage of checks that passed.
func (s AIStats) PassRate() float64 { return rate(s.Passed, s.Total) }

// IgnoreRate is the percentage of checks the reasoner ignored.
func (s AIStats) IgnoreRate() float64 { return rate(s.Ignored, s.Total) }

// AIFilter asks a Reasoner to confirm the signal. Reasoner failures pass.
type AIFilter struct {
	Reasoner Reasoner
	Timeout  time.Duration

	log   *zap.Logger
	mu    sync.Mutex
	stats AIStats
}

// NewAIFilter wraps r. A nil r turns the stage into a bypass.
func NewAIFilter(r Reasoner, timeout time.Duration, logger *zap.Logger) *AIFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AIFilter{Reasoner: r, Timeout: timeout, log: logger}
}

// BuildContext assembles the reasoner input from the earlier stages.
func BuildContext(sig strategy.Signal, global, local Outcome) AIContext {
	in := AIContext{
		Signal: SignalContext{
			Symbol:    sig.Symbol,
			Action:    sig.Action,
			Price:     sig.Price,
			Timeframe: sig.Timeframe,
			Timestamp: time.UnixMilli(sig.Timestamp).UTC().Format(time.RFC3339),
		},
		Technical: map[string]Check{},
	}
	in.GlobalMarket.BTCTrend, _ = global.Details["btcTrend"].(Trend)
	in.GlobalMarket.ETHTrend, _ = global.Details["ethTrend"].(Trend)
	in.GlobalMarket.MarketTrend, _ = global.Details["marketTrend"].(Trend)
	for _, name := range checkOrder {
		if c, ok := local.Details[name].(Check); ok {
			in.Technical[name] = c
		}
	}
	return in
}

// Check runs the stage.
func (a *AIFilter) Check(ctx context.Context, sig strategy.Signal, global, local Outcome) Outcome {
	if a.Reasoner == nil {
		return pass("AI disabled - no API key", map[string]any{"decision": DecisionBypass})
	}

	dctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	d, err := a.Reasoner.Decide(dctx, BuildContext(sig, global, local))
	if err == nil && dctx.Err() != nil {
		err = dctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrDecisionTimeout) {
			err = fmt.Errorf("%w: %w", ErrDecisionTimeout, err)
		}
		a.count(func(s *AIStats) { s.Failed++ })
		a.log.Warn("ai decision failed, approving", zap.String("symbol", sig.Symbol), zap.Error(err))
		return pass("AI error, default approval: "+err.Error(), map[string]any{"decision": DecisionFallback})
	}

	out := Judge(d, sig.Action)
	a.count(func(s *AIStats) {
		switch {
		case out.Passed:
			s.Passed++
		case d.Decision == DecisionIgnore:
			s.Ignored++
		default:
			s.Failed++
		}
	})
	return out
}

// Judge compares a reasoner decision with the signal's action.
func Judge(d Decision, action strategy.Action) Outcome {
	details := map[string]any{"decision": d.Decision, "confidence": d.Confidence}
	switch {
	case d.Decision == DecisionIgnore:
		return reject("AI IGNORE: "+d.Reasoning, details)
	case d.Decision == string(action):
		return pass(fmt.Sprintf("AI approved: %s (confidence: %.0f%%)", d.Reasoning, d.Confidence), details)
	default:
		return reject(fmt.Sprintf("AI disagrees: Signal %s, AI %s", action, d.Decision), details)
	}
}

func (a *AIFilter) count(fn func(*AIStats)) {
	a.mu.Lock()
	a.stats.Total++
	fn(&a.stats)
	a.mu.Unlock()
}

// Stats returns a copy of the counters.
func (a *AIFilter) Stats() AIStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// ResetStats zeroes the counters.
func (a *AIFilter) ResetStats() {
	a.mu.Lock()
	a.stats = AIStats{}
	a.mu.Unlock()
}
