package indicators

import (
	"math"

	"signal-engine/internal/market"
)

// BollingerWidth returns (upper-lower)/middle over the last period closes,
// using the population standard deviation.
func BollingerWidth(bars []market.Bar, period int, mult float64) (float64, error) {
	if period <= 0 || len(bars) < period {
		return 0, insufficient("BollingerWidth", len(bars), period)
	}
	closes := market.Closes(bars[len(bars)-period:])
	sma, err := SMA(closes, period)
	if err != nil {
		return 0, err
	}
	if sma == 0 {
		return 0, nil
	}
	variance := 0.0
	for _, c := range closes {
		variance += (c - sma) * (c - sma)
	}
	std := math.Sqrt(variance / float64(period))
	upper := sma + std*mult
	lower := sma - std*mult
	return (upper - lower) / sma, nil
}
