package indicators

import (
	"math"

	"signal-engine/internal/market"
)

// ADX returns a single-pass DX: |+DI - -DI| / (+DI + -DI) * 100, where the
// directional indicators come from running-average smoothed TR and DM.
// The DX is not smoothed again. Needs at least 2*period bars.
func ADX(bars []market.Bar, period int) (float64, error) {
	if period <= 0 || len(bars) < 2*period {
		return 0, insufficient("ADX", len(bars), 2*period)
	}

	n := len(bars) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(bars); i++ {
		tr[i-1] = trueRange(bars[i], bars[i-1])
		highMove := bars[i].High - bars[i-1].High
		lowMove := bars[i-1].Low - bars[i].Low
		if highMove > lowMove && highMove > 0 {
			plusDM[i-1] = highMove
		}
		if lowMove > highMove && lowMove > 0 {
			minusDM[i-1] = lowMove
		}
	}

	sTR := smoothed(tr, period)
	if sTR == 0 {
		return 0, nil
	}
	plusDI := smoothed(plusDM, period) / sTR * 100
	minusDI := smoothed(minusDM, period) / sTR * 100
	if plusDI+minusDI == 0 {
		return 0, nil
	}
	return math.Abs(plusDI-minusDI) / (plusDI + minusDI) * 100, nil
}

// smoothed seeds with the SMA of the first period values, then applies
// s = (s*(period-1) + x) / period.
func smoothed(data []float64, period int) float64 {
	if len(data) < period {
		return 0
	}
	s := 0.0
	for _, v := range data[:period] {
		s += v
	}
	s /= float64(period)
	for _, v := range data[period:] {
		s = (s*float64(period-1) + v) / float64(period)
	}
	return s
}
