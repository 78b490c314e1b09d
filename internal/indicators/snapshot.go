package indicators

import "signal-engine/internal/market"

// Periods configures Compute.
type Periods struct {
	EMA      int
	ADX      int
	RVOL     int
	BB       int
	BBStdDev float64
}

// DefaultPeriods are the confirmation indicators used on a signal's own chart.
func DefaultPeriods() Periods {
	return Periods{EMA: 200, ADX: 14, RVOL: 20, BB: 20, BBStdDev: 2}
}

// Reading is one indicator value or the reason it could not be computed.
type Reading struct {
	Value float64
	Err   error
}

// Snapshot bundles the confirmation indicators for one window.
type Snapshot struct {
	Price          float64
	EMA            Reading
	ADX            Reading
	RelativeVolume Reading
	BBWidth        Reading
}

// Compute evaluates every confirmation indicator over bars. Each reading
// carries its own error so callers can report all failures at once.
func Compute(bars []market.Bar, p Periods) Snapshot {
	var s Snapshot
	if len(bars) > 0 {
		s.Price = bars[len(bars)-1].Close
	}
	s.EMA.Value, s.EMA.Err = EMA(bars, p.EMA)
	s.ADX.Value, s.ADX.Err = ADX(bars, p.ADX)
	s.RelativeVolume.Value, s.RelativeVolume.Err = RelativeVolume(bars, p.RVOL)
	s.BBWidth.Value, s.BBWidth.Err = BollingerWidth(bars, p.BB, p.BBStdDev)
	return s
}
