package filter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/market"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
)

// Stats groups the per-stage counters.
type Stats struct {
	Global GlobalStats `json:"global"`
	Local  LocalStats  `json:"local"`
	AI     AIStats     `json:"ai"`
}

// Pipeline runs Global, Local and AI in order and stops at the first
// rejection. Global and Local reject on error; AI approves on error.
type Pipeline struct {
	Global *GlobalFilter
	Local  *LocalFilter
	AI     *AIFilter

	source   market.Source
	settings func() config.Trading
	log      *zap.Logger
}

// NewPipeline wires the three stages. settings is read once per signal.
func NewPipeline(source market.Source, settings func() config.Trading, reasoner Reasoner, aiTimeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("filter")
	return &Pipeline{
		Global:   NewGlobalFilter(logger),
		Local:    NewLocalFilter(logger),
		AI:       NewAIFilter(reasoner, aiTimeout, logger),
		source:   source,
		settings: settings,
		log:      logger,
	}
}

// Process evaluates sig against live market data.
func (p *Pipeline) Process(ctx context.Context, sig strategy.Signal) ProcessResult {
	return p.Evaluate(ctx, sig, p.source)
}

// Evaluate evaluates sig against src. It always returns a result.
func (p *Pipeline) Evaluate(ctx context.Context, sig strategy.Signal, src market.Source) (res ProcessResult) {
	start := time.Now()
	res = ProcessResult{
		Signal:        sig,
		FilterResults: Results{Global: skipped(), Local: skipped(), AI: skipped()},
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("signal processing panicked", zap.String("symbol", sig.Symbol), zap.Any("panic", r))
			res.Approved = false
			res.Reason = fmt.Sprintf("Processing error: %v", r)
		}
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
	}()

	if err := sig.Validate(); err != nil {
		res.Reason = "Invalid signal: " + err.Error()
		return res
	}
	cfg := p.settings()

	p.log.Info("processing signal", zap.String("symbol", sig.Symbol), zap.String("action", string(sig.Action)))

	res.FilterResults.Global = p.Global.Check(ctx, sig, src)
	if !res.FilterResults.Global.Passed {
		res.Reason = "Global filter: " + res.FilterResults.Global.Reason
		return res
	}

	res.FilterResults.Local = p.Local.Check(ctx, sig, src, cfg)
	if !res.FilterResults.Local.Passed {
		res.Reason = "Local filter: " + res.FilterResults.Local.Reason
		return res
	}

	if cfg.AIEnabled {
		res.FilterResults.AI = p.AI.Check(ctx, sig, res.FilterResults.Global, res.FilterResults.Local)
		if !res.FilterResults.AI.Passed {
			res.Reason = "AI filter: " + res.FilterResults.AI.Reason
			return res
		}
	} else {
		res.FilterResults.AI = pass("AI disabled", nil)
	}

	res.Approved = true
	res.Reason = "All filters passed"
	p.log.Info("signal approved", zap.String("symbol", sig.Symbol), zap.String("action", string(sig.Action)))
	return res
}

// Stats returns every stage's counters.
func (p *Pipeline) Stats() Stats {
	return Stats{Global: p.Global.Stats(), Local: p.Local.Stats(), AI: p.AI.Stats()}
}

// ResetStats zeroes every stage's counters.
func (p *Pipeline) ResetStats() {
	p.Global.ResetStats()
	p.Local.ResetStats()
	p.AI.ResetStats()
}
