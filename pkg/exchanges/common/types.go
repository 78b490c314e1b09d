package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether no further fills can happen.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_LOSS/TAKE_PROFIT orders
	TimeInForce TimeInForce
	ClientID    string // optional client order id
}

// OrderResult is the exchange view of an order.
type OrderResult struct {
	OrderID   string      `json:"orderId"`
	ClientID  string      `json:"clientId,omitempty"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Status    OrderStatus `json:"status"`
	Qty       float64     `json:"qty"`
	FilledQty float64     `json:"filledQty"`
	FillPrice float64     `json:"fillPrice"`
}

// Balance is the quote-asset balance.
type Balance struct {
	Asset string  `json:"asset"`
	Free  float64 `json:"free"`
	Total float64 `json:"total"`
}

// Holding is a non-quote asset held on the venue.
type Holding struct {
	Symbol string  `json:"symbol"`
	Asset  string  `json:"asset"`
	Qty    float64 `json:"qty"`
}
