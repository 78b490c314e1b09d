package risk

import "time"

// Check names.
const (
	CheckMaxActiveTrades   = "max_active_trades"
	CheckMaxTradesPerCoin  = "max_trades_per_coin"
	CheckDailyLossLimit    = "daily_loss_limit"
	CheckSufficientBalance = "sufficient_balance"
	CheckMarketConditions  = "market_conditions"
	CheckEmergencyStop     = "emergency_stop"
)

// Limits are the configured exposure bounds.
type Limits struct {
	MaxActiveTrades     int     `json:"max_active_trades"`
	MaxTradesPerCoin    int     `json:"max_trades_per_coin"`
	DailyLossCapPercent float64 `json:"daily_loss_cap_percent"`
	USDTAmount          float64 `json:"usdt_amount"`
}

// MaxDailyLoss is DailyLossCapPercent of the maximum possible exposure.
func (l Limits) MaxDailyLoss() float64 {
	return float64(l.MaxActiveTrades) * l.USDTAmount * l.DailyLossCapPercent / 100
}

// Input is everything Evaluate looks at.
type Input struct {
	Symbol       string    `json:"symbol"`
	ActiveTrades int       `json:"active_trades"`
	SymbolTrades int       `json:"symbol_trades"`
	DailyLoss    float64   `json:"daily_loss"`
	DailyProfit  float64   `json:"daily_profit"`
	FreeBalance  float64   `json:"free_balance"`
	BalanceErr   error     `json:"-"`
	Limits       Limits    `json:"limits"`
	Now          time.Time `json:"now"`
}

// Check is one evaluated rule.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Decision is the gate verdict. Reason joins the reasons of every failing check.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason"`
	Checks  []Check `json:"checks"`
}

// Failed returns the names of failing checks.
func (d Decision) Failed() []string {
	var out []string
	for _, c := range d.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Metrics tracks realized results for the current UTC day and overall.
type Metrics struct {
	Date        string  `json:"date"`
	DailyPnL    float64 `json:"daily_pnl"`
	DailyTrades int     `json:"daily_trades"`
	DailyWins   int     `json:"daily_wins"`
	DailyLoss   float64 `json:"daily_loss"`
	DailyProfit float64 `json:"daily_profit"`

	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxProfit        float64 `json:"max_profit"`
	MaxDrawdown      float64 `json:"max_drawdown"`

	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
}

// Sizing is the result of PositionSize.
type Sizing struct {
	USDTAmount float64 `json:"usdt_amount"`
	RiskAmount float64 `json:"risk_amount"`
}
