package events

// Event enumerates high-level topics inside the signal engine.
type Event string

const (
	EventPriceTick        Event = "price_tick"
	EventSignalProcessed  Event = "signal.processed"
	EventOrderPlaced      Event = "order.placed"
	EventOrderFailed      Event = "order.failed"
	EventPositionOpened   Event = "position.opened"
	EventPositionUpdated  Event = "position.updated"
	EventPositionClosed   Event = "position.closed"
	EventRiskAlert        Event = "risk_alert"
	EventBacktestFinished Event = "backtest.finished"
)

// Streamable lists the topics forwarded to websocket clients.
var Streamable = []Event{
	EventSignalProcessed,
	EventOrderPlaced,
	EventPositionOpened,
	EventPositionUpdated,
	EventPositionClosed,
	EventRiskAlert,
	EventBacktestFinished,
}
