package indicators

import (
	"fmt"

	"signal-engine/internal/market"
)

// AlphaTrend defaults.
const (
	AlphaTrendPeriod = 14
	AlphaTrendCoeff  = 1.0
)

// AlphaTrend evaluates the single-step, non-recursive AlphaTrend at index.
// The previous value is approximated by the midpoint of bar index-1; the
// bullish branch (mfi >= 50) never drops below it and the bearish branch
// never rises above it.
func AlphaTrend(bars []market.Bar, index int, atr, mfi, coeff float64) (float64, error) {
	if index < 1 || index >= len(bars) {
		return 0, fmt.Errorf("AlphaTrend index %d of %d: %w", index, len(bars), ErrInsufficientData)
	}
	prev := (bars[index-1].High + bars[index-1].Low) / 2
	cur := bars[index]
	if mfi >= 50 {
		upT := cur.Low - atr*coeff
		if upT < prev {
			return prev, nil
		}
		return upT, nil
	}
	downT := cur.High + atr*coeff
	if downT > prev {
		return prev, nil
	}
	return downT, nil
}
