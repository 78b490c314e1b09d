// Package monitor turns bus events into prometheus metrics and logs risk
// alerts.
package monitor

import (
	"context"

	"go.uber.org/zap"

	"signal-engine/internal/events"
	"signal-engine/internal/filter"
	"signal-engine/internal/position"
	"signal-engine/pkg/exchanges/common"
)

var watched = []events.Event{
	events.EventPriceTick,
	events.EventSignalProcessed,
	events.EventOrderPlaced,
	events.EventOrderFailed,
	events.EventPositionOpened,
	events.EventPositionClosed,
	events.EventRiskAlert,
}

// Monitor watches events and updates metrics.
type Monitor struct {
	bus     *events.Bus
	metrics *Metrics
	log     *zap.Logger
}

func New(bus *events.Bus, metrics *Metrics, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{bus: bus, metrics: metrics, log: logger.Named("monitor")}
}

// Run consumes events until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.bus == nil || m.metrics == nil {
		m.log.Warn("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.bus.SubscribeMany(watched, 256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			m.Observe(env.Event, env.Payload)
		}
	}
}

// Observe applies one event to the metrics.
func (m *Monitor) Observe(e events.Event, payload any) {
	mt := m.metrics
	switch e {
	case events.EventPriceTick:
		mt.ticks.Inc()
	case events.EventSignalProcessed:
		res, ok := payload.(filter.ProcessResult)
		if !ok {
			return
		}
		result := "approved"
		if !res.Approved {
			result = "rejected"
			mt.filterRejects.WithLabelValues(rejectStage(res.FilterResults)).Inc()
		}
		mt.signals.WithLabelValues(string(res.Signal.Action), result).Inc()
		mt.processing.Observe(float64(res.ProcessingTimeMs) / 1000)
		mt.SignalLatency.Record(float64(res.ProcessingTimeMs))
	case events.EventOrderPlaced:
		status := "placed"
		if r, ok := payload.(common.OrderResult); ok && r.Status == common.StatusFilled {
			status = "filled"
		}
		mt.orders.WithLabelValues(status).Inc()
	case events.EventOrderFailed:
		mt.orders.WithLabelValues("failed").Inc()
	case events.EventPositionOpened:
		if p, ok := payload.(position.Position); ok {
			mt.positionsOpened.WithLabelValues(string(p.Side)).Inc()
		}
	case events.EventPositionClosed:
		t, ok := payload.(position.ClosedTrade)
		if !ok {
			return
		}
		result := "win"
		if t.PnL < 0 {
			result = "loss"
		}
		mt.positionsClosed.WithLabelValues(t.Reason, result).Inc()
		mt.realizedPnL.Add(t.PnL)
	case events.EventRiskAlert:
		kind := alertType(payload)
		mt.riskAlerts.WithLabelValues(kind).Inc()
		m.log.Warn("risk alert", zap.String("type", kind), zap.Any("payload", payload))
	}
}

func rejectStage(r filter.Results) string {
	switch {
	case !r.Global.Passed && !r.Global.Skipped:
		return filter.StageGlobal
	case !r.Local.Passed && !r.Local.Skipped:
		return filter.StageLocal
	case !r.AI.Passed && !r.AI.Skipped:
		return filter.StageAI
	}
	return "other"
}

func alertType(v any) string {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t["type"].(string); ok {
			return s
		}
	case string:
		return "message"
	}
	return "unknown"
}
