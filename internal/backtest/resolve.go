package backtest

import (
	"signal-engine/internal/market"
	"signal-engine/internal/strategy"
)

// Resolve scans bars after entry for the first bar that reaches TP or SL.
// Within one bar TP is checked first. If neither level is reached the trade
// exits at the last close.
func Resolve(bars []market.Bar, entry int, action strategy.Action, tp, sl float64) (exit float64, reason string, index int) {
	for i := entry + 1; i < len(bars); i++ {
		b := bars[i]
		if action == strategy.ActionSell {
			if b.Low <= tp {
				return tp, ExitTakeProfit, i
			}
			if b.High >= sl {
				return sl, ExitStopLoss, i
			}
			continue
		}
		if b.High >= tp {
			return tp, ExitTakeProfit, i
		}
		if b.Low <= sl {
			return sl, ExitStopLoss, i
		}
	}
	last := len(bars) - 1
	return bars[last].Close, ExitEndOfData, last
}

// PnL of qty entered at entry and exited at exit.
func PnL(action strategy.Action, entry, exit, qty float64) float64 {
	if action == strategy.ActionSell {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}
