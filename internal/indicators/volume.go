package indicators

import "signal-engine/internal/market"

// RelativeVolume divides the last bar's volume by the mean volume of the
// period bars before it.
func RelativeVolume(bars []market.Bar, period int) (float64, error) {
	if period <= 0 || len(bars) < period+1 {
		return 0, insufficient("RelativeVolume", len(bars), period+1)
	}
	current := bars[len(bars)-1].Volume
	sum := 0.0
	for _, b := range bars[len(bars)-period-1 : len(bars)-1] {
		sum += b.Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 0, nil
	}
	return current / avg, nil
}
