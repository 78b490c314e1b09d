package indicators

import "signal-engine/internal/market"

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, insufficient("SMA", len(values), period)
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// EMA seeds with the SMA of the first period closes, then applies
// ema = close*k + ema*(1-k) with k = 2/(period+1) over the remaining closes.
func EMA(bars []market.Bar, period int) (float64, error) {
	if period <= 0 || len(bars) < period {
		return 0, insufficient("EMA", len(bars), period)
	}
	k := 2 / float64(period+1)
	ema := 0.0
	for i := 0; i < period; i++ {
		ema += bars[i].Close
	}
	ema /= float64(period)
	for i := period; i < len(bars); i++ {
		ema = bars[i].Close*k + ema*(1-k)
	}
	return ema, nil
}
