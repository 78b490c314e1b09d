package order

import (
	"time"

	"signal-engine/internal/strategy"
	"signal-engine/pkg/exchanges/common"
)

// Pending is an entry order placed on the venue that has not filled yet.
type Pending struct {
	OrderID   string             `json:"orderId"`
	Signal    strategy.Signal    `json:"signal"`
	Params    Params             `json:"params"`
	Status    common.OrderStatus `json:"status"`
	FilledQty float64            `json:"filledQty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Expired reports whether the order has waited longer than timeout.
func (p *Pending) Expired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(p.CreatedAt) >= timeout
}

// IsFullyFilled checks if order is fully filled
func (p *Pending) IsFullyFilled() bool {
	return p.FilledQty >= p.Params.Quantity
}

// IsPartiallyFilled checks if order is partially filled
func (p *Pending) IsPartiallyFilled() bool {
	return p.FilledQty > 0 && p.FilledQty < p.Params.Quantity
}
