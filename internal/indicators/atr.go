package indicators

import (
	"math"

	"signal-engine/internal/market"
)

func trueRange(cur, prev market.Bar) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATR sums the true range of every bar after the first and divides by period
// (simple average, no Wilder smoothing). Windows shorter than period yield the
// neutral value 0.
func ATR(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	return sum / float64(period)
}
