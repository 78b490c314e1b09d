package backtest

import (
	"errors"
	"time"
)

var (
	// ErrNoData is returned when the requested range has no bars.
	ErrNoData = errors.New("no historical data")
	// ErrUnknownPreset is returned for date-range presets that do not exist.
	ErrUnknownPreset = errors.New("unknown backtest preset")
)

// Exit reasons of a simulated trade.
const (
	ExitTakeProfit = "TP_HIT"
	ExitStopLoss   = "SL_HIT"
	ExitEndOfData  = "END_OF_DATA"
)

// Date-range presets.
const (
	PresetLastWeek    = "last_week"
	PresetLastMonth   = "last_month"
	PresetLast3Months = "last_3months"
)

// Options describe one run.
type Options struct {
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	Start          time.Time `json:"startDate"`
	End            time.Time `json:"endDate"`
	InitialBalance float64   `json:"initialBalance"`
	USDTPerTrade   float64   `json:"usdtPerTrade"`
}

// DefaultOptions covers January 2024 on ETHUSDT 15m.
func DefaultOptions() Options {
	return Options{
		Symbol:         "ETHUSDT",
		Timeframe:      "15m",
		Start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		InitialBalance: 1000,
		USDTPerTrade:   10,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Symbol == "" {
		o.Symbol = d.Symbol
	}
	if o.Timeframe == "" {
		o.Timeframe = d.Timeframe
	}
	if o.Start.IsZero() {
		o.Start = d.Start
	}
	if o.End.IsZero() {
		o.End = d.End
	}
	if o.InitialBalance <= 0 {
		o.InitialBalance = d.InitialBalance
	}
	if o.USDTPerTrade <= 0 {
		o.USDTPerTrade = d.USDTPerTrade
	}
	return o
}

// PresetOptions returns the options of a date-range preset ending at the UTC
// day of now.
func PresetOptions(name, symbol string, now time.Time) (Options, error) {
	end := now.UTC().Truncate(24 * time.Hour)
	var start time.Time
	switch name {
	case PresetLastWeek:
		start = end.AddDate(0, 0, -7)
	case PresetLastMonth:
		start = end.AddDate(0, -1, 0)
	case PresetLast3Months:
		start = end.AddDate(0, -3, 0)
	default:
		return Options{}, ErrUnknownPreset
	}
	o := DefaultOptions()
	if symbol != "" {
		o.Symbol = symbol
	}
	o.Start = start
	o.End = end
	return o, nil
}

// Trade is one resolved simulated trade.
type Trade struct {
	Timestamp  int64   `json:"timestamp"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	Quantity   float64 `json:"quantity"`
	PnL        float64 `json:"pnl"`
	Balance    float64 `json:"balance"`
	Drawdown   float64 `json:"drawdown"`
	ExitReason string  `json:"exitReason"`
	TPPrice    float64 `json:"tpPrice"`
	SLPrice    float64 `json:"slPrice"`
	ExitIndex  int     `json:"exitIndex"`
}

// StageCount counts decisions of one filter stage.
type StageCount struct {
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

func (s *StageCount) record(passed bool) {
	if passed {
		s.Passed++
	} else {
		s.Failed++
	}
}

func (s *StageCount) finish() {
	if n := s.Passed + s.Failed; n > 0 {
		s.SuccessRate = float64(s.Passed) / float64(n) * 100
	}
}

// FilterStats are the per-stage counters over a run.
type FilterStats struct {
	Global StageCount `json:"globalFilter"`
	Local  StageCount `json:"localFilters"`
	AI     StageCount `json:"aiFilter"`
}

// Result is immutable once Run returns. WinRate and drawdowns are percentages.
type Result struct {
	Symbol          string      `json:"symbol"`
	Timeframe       string      `json:"timeframe"`
	StartDate       time.Time   `json:"startDate"`
	EndDate         time.Time   `json:"endDate"`
	Bars            int         `json:"bars"`
	TotalSignals    int         `json:"totalSignals"`
	ApprovedSignals int         `json:"approvedSignals"`
	RejectedSignals int         `json:"rejectedSignals"`
	Trades          []Trade     `json:"trades"`
	WinningTrades   int         `json:"winningTrades"`
	WinRate         float64     `json:"winRate"`
	TotalProfit     float64     `json:"totalProfit"`
	TotalLoss       float64     `json:"totalLoss"`
	MaxDrawdown     float64     `json:"maxDrawdown"`
	InitialBalance  float64     `json:"initialBalance"`
	FinalBalance    float64     `json:"finalBalance"`
	FilterStats     FilterStats `json:"filterStats"`
}

// NetProfit is profit minus loss.
func (r *Result) NetProfit() float64 { return r.TotalProfit - r.TotalLoss }
