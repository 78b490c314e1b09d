package engine

import (
	"context"

	"signal-engine/internal/filter"
	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/reconciliation"
	"signal-engine/internal/risk"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/db"
	"signal-engine/pkg/exchanges/common"
)

// Processor is the approval pipeline. *filter.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, sig strategy.Signal) filter.ProcessResult
	Stats() filter.Stats
	ResetStats()
}

// Notifier receives operator notifications. Calls must not block.
type Notifier interface {
	SignalApproved(res filter.ProcessResult, p order.Params)
	SignalRejected(res filter.ProcessResult, reason string)
	PositionClosed(t position.ClosedTrade)
	EmergencyStop(reason string)
	Error(where string, err error)
}

// SignalLog records every processed signal.
type SignalLog interface {
	Record(res filter.ProcessResult)
}

// TradeArchive stores closed trades.
type TradeArchive interface {
	SaveClosedPosition(ctx context.Context, p db.ClosedPosition) error
}

type nopNotifier struct{}

func (nopNotifier) SignalApproved(filter.ProcessResult, order.Params) {}
func (nopNotifier) SignalRejected(filter.ProcessResult, string)       {}
func (nopNotifier) PositionClosed(position.ClosedTrade)               {}
func (nopNotifier) EmergencyStop(string)                              {}
func (nopNotifier) Error(string, error)                               {}

// Exposure counts open positions together with resting entry orders.
type Exposure struct {
	Positions *position.Manager
	Pending   *reconciliation.Tracker
}

func (x Exposure) ActiveCount() int {
	n := x.Positions.ActiveCount()
	if x.Pending != nil {
		n += x.Pending.Len()
	}
	return n
}

func (x Exposure) SymbolCount(symbol string) int {
	n := x.Positions.SymbolCount(symbol)
	if x.Pending != nil {
		n += x.Pending.SymbolCount(symbol)
	}
	return n
}

// GatewayBalance reads the free quote balance from gw.
func GatewayBalance(gw common.Gateway) risk.BalanceFunc {
	return func(ctx context.Context) (float64, error) {
		b, err := gw.GetBalance(ctx)
		if err != nil {
			return 0, err
		}
		return b.Free, nil
	}
}

// RiskStore keeps the daily risk snapshot in sqlite.
type RiskStore struct {
	DB *db.Database
}

func (s RiskStore) SaveDailyRisk(ctx context.Context, m risk.Metrics) error {
	return s.DB.UpsertDailyRisk(ctx, db.DailyRisk{
		Date:            m.Date,
		DailyPnL:        m.DailyPnL,
		DailyTrades:     m.DailyTrades,
		DailyWins:       m.DailyWins,
		DailyLoss:       m.DailyLoss,
		DailyProfit:     m.DailyProfit,
		MaxDrawdown:     m.MaxDrawdown,
		ChecksTotal:     int(m.ChecksTotal),
		RejectionsTotal: int(m.RejectionsTotal),
	})
}

// ClosedPosition converts a closed trade into its archive row.
func ClosedPosition(t position.ClosedTrade) db.ClosedPosition {
	p := t.Position
	return db.ClosedPosition{
		ID:              p.ID,
		Symbol:          p.Symbol,
		Side:            string(p.Side),
		Strategy:        p.Strategy,
		EntryPrice:      p.EntryPrice,
		AvgEntryPrice:   p.AvgEntryPrice,
		ExitPrice:       t.ExitPrice,
		Quantity:        p.Quantity,
		PnL:             t.PnL,
		Reason:          t.Reason,
		DCASteps:        p.DCA.Steps,
		PartialExecuted: p.PartialExecuted,
		OpenedAt:        p.OpenedAt,
		ClosedAt:        t.ClosedAt,
	}
}
