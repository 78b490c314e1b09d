package engine

import (
	"time"

	"signal-engine/internal/filter"
	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/risk"
)

// Outcome is how far a signal got through HandleSignal.
type Outcome string

const (
	OutcomeRejected    Outcome = "rejected"
	OutcomeRiskDenied  Outcome = "risk_denied"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeOrderFailed Outcome = "order_failed"
	OutcomeOpened      Outcome = "opened"
	OutcomePending     Outcome = "pending"
)

// Decision is the full record of one handled signal.
type Decision struct {
	Outcome    Outcome              `json:"outcome"`
	Reason     string               `json:"reason"`
	Process    filter.ProcessResult `json:"process"`
	Risk       *risk.Decision       `json:"risk,omitempty"`
	Params     *order.Params        `json:"params,omitempty"`
	OrderID    string               `json:"orderId,omitempty"`
	PositionID string               `json:"positionId,omitempty"`
}

// PositionView is an open position valued at the current price.
type PositionView struct {
	position.Position
	CurrentPrice  float64 `json:"currentPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

// RiskView combines the gate metrics with the configured limits.
type RiskView struct {
	Metrics         risk.Metrics `json:"metrics"`
	Limits          risk.Limits  `json:"limits"`
	MaxDailyLoss    float64      `json:"max_daily_loss"`
	ActivePositions int          `json:"active_positions"`
	PendingOrders   int          `json:"pending_orders"`
	Halted          bool         `json:"halted"`
	HaltReason      string       `json:"halt_reason,omitempty"`
	Sizing          *risk.Sizing `json:"sizing,omitempty"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode            string    `json:"mode"`
	Venue           string    `json:"venue"`
	Version         string    `json:"version"`
	AIEnabled       bool      `json:"ai_enabled"`
	Halted          bool      `json:"halted"`
	HaltReason      string    `json:"halt_reason,omitempty"`
	ActivePositions int       `json:"active_positions"`
	PendingOrders   int       `json:"pending_orders"`
	StartedAt       time.Time `json:"started_at"`
	ServerTime      time.Time `json:"server_time"`
}
