// Package engine ties the filter pipeline, the risk gate, order placement and
// the position manager together. The API layer only talks to the engine
// through Service.
package engine

import (
	"context"

	"signal-engine/internal/filter"
	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/strategy"
)

// Service defines the interface for signal engine operations.
type Service interface {
	// Signals
	HandleSignal(ctx context.Context, sig strategy.Signal) (Decision, error)
	Submit(sig strategy.Signal) error

	// Positions & orders
	Positions(ctx context.Context) []PositionView
	PendingOrders() []order.Pending
	ClosePosition(ctx context.Context, id string) (position.ClosedTrade, error)

	// Emergency controls
	EmergencyStop(ctx context.Context, reason string) error
	Resume()

	// Statistics
	FilterStats() filter.Stats
	ResetFilterStats()
	Risk(ctx context.Context) RiskView
	Status() SystemStatus
}
