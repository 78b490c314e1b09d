package indicators

import "signal-engine/internal/market"

// NeutralMFI is returned when the window is too short to classify flow.
const NeutralMFI = 50.0

func typicalPrice(b market.Bar) float64 {
	return (b.High + b.Low + b.Close) / 3
}

// MFI is the money flow index over the whole window. Windows shorter than
// period yield NeutralMFI.
func MFI(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return NeutralMFI
	}
	var pos, neg float64
	for i := 1; i < len(bars); i++ {
		tp := typicalPrice(bars[i])
		prev := typicalPrice(bars[i-1])
		switch {
		case tp > prev:
			pos += tp * bars[i].Volume
		case tp < prev:
			neg += tp * bars[i].Volume
		}
	}
	if neg == 0 {
		return 100
	}
	return 100 - 100/(1+pos/neg)
}
