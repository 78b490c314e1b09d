package position

import (
	"errors"
	"time"

	"signal-engine/pkg/exchanges/common"
)

var (
	// ErrNotFound means no open position has the given id.
	ErrNotFound = errors.New("position not found")
	// ErrNotOpen is returned to the loser of a close race.
	ErrNotOpen = errors.New("position not open")
)

// Status of a position. CLOSED is terminal.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Close reasons.
const (
	ReasonManual        = "manual"
	ReasonTrailingStop  = "trailing_stop"
	ReasonStopLoss      = "stop_loss"
	ReasonTakeProfit    = "take_profit"
	ReasonAutoTimeout   = "auto_timeout"
	ReasonEmergencyStop = "emergency_stop"
)

// Trailing is the running state of a trailing stop.
type Trailing struct {
	Highest     float64 `json:"highest"`
	Lowest      float64 `json:"lowest"`
	CurrentStop float64 `json:"currentStop"`
}

// DCA tracks averaging-in steps.
type DCA struct {
	Steps     int     `json:"steps"`
	LastPrice float64 `json:"lastPrice"`
}

// ChildOrders are the resting protective orders of a position.
type ChildOrders struct {
	TakeProfitID string   `json:"takeProfitId,omitempty"`
	StopLossID   string   `json:"stopLossId,omitempty"`
	DCAIDs       []string `json:"dcaIds,omitempty"`
}

// Position is one filled entry tracked until it is closed.
type Position struct {
	ID                string      `json:"id"`
	Symbol            string      `json:"symbol"`
	Side              common.Side `json:"side"`
	Strategy          string      `json:"strategy,omitempty"`
	EntryOrderID      string      `json:"entryOrderId,omitempty"`
	EntryPrice        float64     `json:"entryPrice"`
	AvgEntryPrice     float64     `json:"avgEntryPrice"`
	InitialQuantity   float64     `json:"initialQuantity"`
	Quantity          float64     `json:"quantity"`
	RemainingQuantity float64     `json:"remainingQuantity"`
	StopPrice         float64     `json:"stopPrice"`
	TakeProfitPrice   float64     `json:"takeProfitPrice"`
	Status            Status      `json:"status"`
	PartialExecuted   bool        `json:"partialExecuted"`
	Trailing          Trailing    `json:"trailing"`
	DCA               DCA         `json:"dca"`
	ChildOrders       ChildOrders `json:"childOrders"`
	RealizedPnL       float64     `json:"realizedPnl"`
	AutoCloseDeadline time.Time   `json:"autoCloseDeadline,omitempty"`
	OpenedAt          time.Time   `json:"openedAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// IsLong reports whether the position profits from rising prices.
func (p *Position) IsLong() bool { return p.Side == common.SideBuy }

// pnl is the result of exiting qty at price against the average entry.
func (p *Position) pnl(price, qty float64) float64 {
	if p.IsLong() {
		return (price - p.AvgEntryPrice) * qty
	}
	return (p.AvgEntryPrice - price) * qty
}

// UnrealizedPnL values the remaining quantity at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.pnl(price, p.RemainingQuantity)
}

// clone returns a copy that shares no slices with p.
func (p *Position) clone() Position {
	c := *p
	if p.ChildOrders.DCAIDs != nil {
		c.ChildOrders.DCAIDs = append([]string(nil), p.ChildOrders.DCAIDs...)
	}
	return c
}

// ClosedTrade is the record emitted when a position closes.
type ClosedTrade struct {
	Position  Position  `json:"position"`
	ExitPrice float64   `json:"exitPrice"`
	Reason    string    `json:"reason"`
	PnL       float64   `json:"pnl"`
	ClosedAt  time.Time `json:"closedAt"`
}

// OpenRequest describes a filled entry.
type OpenRequest struct {
	Symbol          string
	Side            common.Side
	Strategy        string
	EntryOrderID    string
	EntryPrice      float64
	Quantity        float64
	StopPrice       float64
	TakeProfitPrice float64
}
