package strategy

import (
	"signal-engine/internal/indicators"
	"signal-engine/internal/market"
)

// AlphaTrendName is the strategy label on generated signals.
const AlphaTrendName = "AlphaTrend"

// AlphaTrendParams configures the crossover generator.
type AlphaTrendParams struct {
	Period int     `yaml:"period" json:"period"`
	Coeff  float64 `yaml:"coeff" json:"coeff"`
}

// DefaultAlphaTrendParams returns period 14 and coefficient 1.
func DefaultAlphaTrendParams() AlphaTrendParams {
	return AlphaTrendParams{Period: indicators.AlphaTrendPeriod, Coeff: indicators.AlphaTrendCoeff}
}

// Crossover records the values behind a generated signal.
type Crossover struct {
	Index   int
	AT      float64
	ATPrev  float64
	ATPrev2 float64
	ATR     float64
	MFI     float64
}

// AlphaTrend emits BUY on an upward AlphaTrend crossover and SELL on the
// mirrored crossunder.
type AlphaTrend struct {
	Params AlphaTrendParams
}

// SignalAt evaluates bar i. ATR and MFI come from the trailing Period bars
// ending at i and are reused for the three AlphaTrend points.
func (a AlphaTrend) SignalAt(symbol, timeframe string, bars []market.Bar, i int) (Signal, Crossover, bool) {
	p := a.Params
	if p.Period <= 0 {
		p = DefaultAlphaTrendParams()
	}
	if i < p.Period || i >= len(bars) {
		return Signal{}, Crossover{}, false
	}

	window := bars[i-p.Period+1 : i+1]
	atr := indicators.ATR(window, p.Period)
	mfi := indicators.MFI(window, p.Period)

	at, err := indicators.AlphaTrend(bars, i, atr, mfi, p.Coeff)
	if err != nil {
		return Signal{}, Crossover{}, false
	}
	prev, err := indicators.AlphaTrend(bars, i-1, atr, mfi, p.Coeff)
	if err != nil {
		return Signal{}, Crossover{}, false
	}
	prev2, err := indicators.AlphaTrend(bars, i-2, atr, mfi, p.Coeff)
	if err != nil {
		return Signal{}, Crossover{}, false
	}

	x := Crossover{Index: i, AT: at, ATPrev: prev, ATPrev2: prev2, ATR: atr, MFI: mfi}
	var action Action
	switch {
	case at > prev && prev <= prev2:
		action = ActionBuy
	case at < prev && prev >= prev2:
		action = ActionSell
	default:
		return Signal{}, x, false
	}
	return Signal{
		Strategy:  AlphaTrendName,
		Action:    action,
		Symbol:    symbol,
		Timeframe: timeframe,
		Price:     bars[i].Close,
		Timestamp: bars[i].OpenTime,
	}, x, true
}
