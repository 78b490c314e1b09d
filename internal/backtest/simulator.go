package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/filter"
	"signal-engine/internal/market"
	"signal-engine/internal/order"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
)

// Reference is a series the filter stages read besides the traded symbol.
type Reference struct {
	Symbol    string
	Timeframe string
}

// DefaultReferences are the series of the global market stage.
func DefaultReferences() []Reference {
	return []Reference{{"BTCUSDT", "1h"}, {"ETHUSDT", "1h"}}
}

// Simulator replays historical bars through the signal generator and the
// filter pipeline. It keeps no state between runs.
type Simulator struct {
	// References are loaded next to the traded series.
	References []Reference
	// Lookback is the number of bars fetched before Start for indicator warmup.
	Lookback int
	Strategy strategy.AlphaTrend

	source    market.RangeSource
	evaluator filter.Evaluator
	settings  func() config.Trading
	log       *zap.Logger
}

// NewSimulator creates a simulator. settings supplies TP/SL percentages.
func NewSimulator(source market.RangeSource, evaluator filter.Evaluator, settings func() config.Trading, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		References: DefaultReferences(),
		Lookback:   200,
		Strategy:   strategy.AlphaTrend{Params: strategy.DefaultAlphaTrendParams()},
		source:     source,
		evaluator:  evaluator,
		settings:   settings,
		log:        logger.Named("backtest"),
	}
}

// Run fetches the range and simulates it. A data error aborts the run.
func (s *Simulator) Run(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if !opts.End.After(opts.Start) {
		return nil, fmt.Errorf("backtest: end %s is not after start %s", opts.End, opts.Start)
	}
	width, err := market.IntervalDuration(opts.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	bars, err := s.source.GetBarsRange(ctx, opts.Symbol, opts.Timeframe, opts.Start.Add(-time.Duration(s.Lookback)*width), opts.End)
	if err != nil {
		return nil, fmt.Errorf("backtest fetch %s %s: %w", opts.Symbol, opts.Timeframe, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, opts.Symbol, opts.Timeframe)
	}
	s.log.Info("historical bars loaded",
		zap.String("symbol", opts.Symbol),
		zap.String("timeframe", opts.Timeframe),
		zap.Int("bars", len(bars)))

	replay := market.NewReplay()
	for _, ref := range s.References {
		if ref.Symbol == opts.Symbol && ref.Timeframe == opts.Timeframe {
			continue
		}
		d, err := market.IntervalDuration(ref.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("backtest reference: %w", err)
		}
		refBars, err := s.source.GetBarsRange(ctx, ref.Symbol, ref.Timeframe, opts.Start.Add(-time.Duration(s.Lookback)*d), opts.End)
		if err != nil {
			// The stage reading this series rejects every signal.
			s.log.Warn("reference series unavailable", zap.String("symbol", ref.Symbol), zap.Error(err))
			continue
		}
		replay.Load(ref.Symbol, ref.Timeframe, refBars)
	}
	replay.Load(opts.Symbol, opts.Timeframe, bars)

	startMs := opts.Start.UnixMilli()
	from := sort.Search(len(bars), func(i int) bool { return bars[i].OpenTime >= startMs })
	return s.Simulate(ctx, opts, bars, replay, from)
}

// Simulate runs the signal loop over bars. Signals are generated from index
// max(from, min(14, len/2)); replay must hold every series the evaluator reads.
func (s *Simulator) Simulate(ctx context.Context, opts Options, bars []market.Bar, replay *market.Replay, from int) (*Result, error) {
	opts = opts.withDefaults()
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	width, err := market.IntervalDuration(opts.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	cfg := s.settings()
	sizing := order.Sizing{USDTAmount: opts.USDTPerTrade, TPPercent: cfg.TPPercent, SLPercent: cfg.SLPercent}

	res := &Result{
		Symbol:         opts.Symbol,
		Timeframe:      opts.Timeframe,
		StartDate:      opts.Start,
		EndDate:        opts.End,
		Bars:           len(bars),
		Trades:         []Trade{},
		InitialBalance: opts.InitialBalance,
	}
	balance, peak := opts.InitialBalance, opts.InitialBalance

	start := max(min(14, len(bars)/2), from)
	for i := start; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sig, x, ok := s.Strategy.SignalAt(opts.Symbol, opts.Timeframe, bars, i)
		if !ok {
			continue
		}
		s.log.Debug("signal generated",
			zap.Int("index", i),
			zap.String("action", string(sig.Action)),
			zap.Float64("at", x.AT),
			zap.Float64("atPrev", x.ATPrev),
			zap.Float64("atPrev2", x.ATPrev2))

		replay.Advance(bars[i].OpenTime + width.Milliseconds())
		verdict := s.evaluator.Evaluate(ctx, sig, replay)
		res.TotalSignals++
		countStages(&res.FilterStats, verdict.FilterResults)
		if !verdict.Approved {
			res.RejectedSignals++
			continue
		}
		res.ApprovedSignals++

		params, err := order.Calculate(sig, sizing)
		if err != nil {
			s.log.Warn("trade params failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		exit, reason, exitIndex := Resolve(bars, i, sig.Action, params.TakeProfitPrice, params.StopPrice)
		pnl := PnL(sig.Action, params.EntryPrice, exit, params.Quantity)

		balance += pnl
		drawdown := 0.0
		if balance > peak {
			peak = balance
		} else if peak > 0 {
			drawdown = (peak - balance) / peak * 100
		}
		res.MaxDrawdown = max(res.MaxDrawdown, drawdown)

		if pnl > 0 {
			res.TotalProfit += pnl
			res.WinningTrades++
		} else {
			res.TotalLoss -= pnl
		}
		res.Trades = append(res.Trades, Trade{
			Timestamp:  bars[i].OpenTime,
			Symbol:     sig.Symbol,
			Action:     string(sig.Action),
			EntryPrice: params.EntryPrice,
			ExitPrice:  exit,
			Quantity:   params.Quantity,
			PnL:        pnl,
			Balance:    balance,
			Drawdown:   drawdown,
			ExitReason: reason,
			TPPrice:    params.TakeProfitPrice,
			SLPrice:    params.StopPrice,
			ExitIndex:  exitIndex,
		})
	}

	if n := len(res.Trades); n > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(n) * 100
	}
	res.FilterStats.Global.finish()
	res.FilterStats.Local.finish()
	res.FilterStats.AI.finish()
	res.FinalBalance = balance

	s.log.Info("backtest finished",
		zap.Int("signals", res.TotalSignals),
		zap.Int("approved", res.ApprovedSignals),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("winRate", res.WinRate),
		zap.Float64("maxDrawdown", res.MaxDrawdown))
	return res, nil
}

func countStages(stats *FilterStats, r filter.Results) {
	if !r.Global.Skipped {
		stats.Global.record(r.Global.Passed)
	}
	if !r.Local.Skipped {
		stats.Local.record(r.Local.Passed)
	}
	if !r.AI.Skipped {
		stats.AI.record(r.AI.Passed)
	}
}
