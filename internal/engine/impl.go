package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-engine/internal/events"
	"signal-engine/internal/filter"
	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/reconciliation"
	"signal-engine/internal/risk"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
	"signal-engine/pkg/exchanges/common"
)

// signalTimeout bounds one asynchronously submitted signal.
const signalTimeout = 45 * time.Second

// ErrStopped is returned by Submit after Shutdown.
var ErrStopped = errors.New("engine stopped")

var _ Service = (*Impl)(nil)

// Impl implements the Service interface by composing existing modules.
type Impl struct {
	pipeline  Processor
	gate      *risk.Gate
	positions *position.Manager
	pending   *reconciliation.Tracker
	gw        common.Gateway
	settings  func() config.Trading
	bus       *events.Bus
	notifier  Notifier
	signals   SignalLog
	archive   TradeArchive
	log       *zap.Logger
	now       func() time.Time

	// System metadata
	meta SystemStatus

	// entryMu serializes the risk check with the entry it allows.
	entryMu sync.Mutex

	wg      sync.WaitGroup
	stopMu  sync.RWMutex
	stopped bool
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Pipeline  Processor
	Gate      *risk.Gate
	Positions *position.Manager
	Pending   *reconciliation.Tracker
	Gateway   common.Gateway
	Settings  func() config.Trading
	Bus       *events.Bus
	Notifier  Notifier
	Signals   SignalLog
	Archive   TradeArchive
	Meta      SystemStatus
	Logger    *zap.Logger
}

// NewImpl creates the engine and registers its close and error hooks on the
// position manager.
func NewImpl(cfg Config) *Impl {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	e := &Impl{
		pipeline:  cfg.Pipeline,
		gate:      cfg.Gate,
		positions: cfg.Positions,
		pending:   cfg.Pending,
		gw:        cfg.Gateway,
		settings:  cfg.Settings,
		bus:       cfg.Bus,
		notifier:  cfg.Notifier,
		signals:   cfg.Signals,
		archive:   cfg.Archive,
		log:       cfg.Logger.Named("engine"),
		now:       time.Now,
		meta:      cfg.Meta,
	}
	if e.meta.StartedAt.IsZero() {
		e.meta.StartedAt = e.now()
	}
	e.positions.OnClose(e.onClose)
	e.positions.OnError(e.onPositionError)
	return e
}

func (e *Impl) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

func (e *Impl) onClose(ctx context.Context, t position.ClosedTrade) {
	e.gate.RecordTradeResult(ctx, t.PnL)
	if e.archive != nil {
		if err := e.archive.SaveClosedPosition(ctx, ClosedPosition(t)); err != nil {
			e.log.Warn("archive closed position failed", zap.String("id", t.Position.ID), zap.Error(err))
		}
	}
	e.notifier.PositionClosed(t)
}

func (e *Impl) onPositionError(_ context.Context, p position.Position, err error) {
	e.publish(events.EventRiskAlert, map[string]any{
		"type":       "position_error",
		"positionId": p.ID,
		"symbol":     p.Symbol,
		"error":      err.Error(),
	})
	e.notifier.Error("position "+p.Symbol, err)
}

// HandleSignal runs sig through the pipeline and the risk gate and places the
// entry order. A filled entry opens a position; a resting one is tracked
// until it fills or times out.
func (e *Impl) HandleSignal(ctx context.Context, sig strategy.Signal) (Decision, error) {
	sig = sig.Normalize()
	if err := sig.Validate(); err != nil {
		return Decision{Outcome: OutcomeInvalid, Reason: err.Error()}, err
	}
	if sig.Timestamp == 0 {
		sig.Timestamp = e.now().UnixMilli()
	}

	res := e.pipeline.Process(ctx, sig)
	if e.signals != nil {
		e.signals.Record(res)
	}
	e.publish(events.EventSignalProcessed, res)
	d := Decision{Outcome: OutcomeRejected, Reason: res.Reason, Process: res}
	cfg := e.settings()
	if !res.Approved {
		if cfg.NotifyRejections {
			e.notifier.SignalRejected(res, res.Reason)
		}
		return d, nil
	}

	e.entryMu.Lock()
	defer e.entryMu.Unlock()

	rd := e.gate.Check(ctx, sig.Symbol)
	d.Risk = &rd
	if !rd.Allowed {
		d.Outcome = OutcomeRiskDenied
		d.Reason = "Risk: " + rd.Reason
		e.publish(events.EventRiskAlert, map[string]any{
			"type":   "risk_denied",
			"symbol": sig.Symbol,
			"failed": rd.Failed(),
			"reason": rd.Reason,
		})
		if cfg.NotifyRejections {
			e.notifier.SignalRejected(res, d.Reason)
		}
		return d, nil
	}

	params, err := order.Calculate(sig, order.SizingFrom(cfg))
	if err != nil {
		d.Outcome = OutcomeInvalid
		d.Reason = err.Error()
		return d, err
	}
	d.Params = &params

	placed, err := e.gw.PlaceOrder(ctx, params.Request(uuid.NewString()))
	if err != nil {
		d.Outcome = OutcomeOrderFailed
		d.Reason = err.Error()
		e.publish(events.EventOrderFailed, map[string]any{"symbol": sig.Symbol, "error": err.Error()})
		e.notifier.Error("entry order "+sig.Symbol, err)
		return d, fmt.Errorf("place entry %s: %w", sig.Symbol, err)
	}
	d.OrderID = placed.OrderID
	e.publish(events.EventOrderPlaced, placed)
	e.notifier.SignalApproved(res, params)
	e.log.Info("entry order placed",
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.String("type", string(params.Type)),
		zap.String("orderId", placed.OrderID),
		zap.String("status", string(placed.Status)))

	if placed.Status != common.StatusFilled {
		e.pending.Add(ctx, order.Pending{
			OrderID:   placed.OrderID,
			Signal:    sig,
			Params:    params,
			Status:    placed.Status,
			FilledQty: placed.FilledQty,
			CreatedAt: e.now(),
		})
		d.Outcome = OutcomePending
		return d, nil
	}

	entry := placed.FillPrice
	if entry <= 0 {
		entry = params.EntryPrice
	}
	qty := placed.FilledQty
	if qty <= 0 {
		qty = params.Quantity
	}
	pos, err := e.positions.Open(ctx, position.OpenRequest{
		Symbol:          sig.Symbol,
		Side:            params.Side,
		Strategy:        sig.Strategy,
		EntryOrderID:    placed.OrderID,
		EntryPrice:      entry,
		Quantity:        qty,
		StopPrice:       params.StopPrice,
		TakeProfitPrice: params.TakeProfitPrice,
	})
	if err != nil {
		d.Outcome = OutcomeOrderFailed
		d.Reason = err.Error()
		e.notifier.Error("open position "+sig.Symbol, err)
		return d, err
	}
	d.Outcome = OutcomeOpened
	d.PositionID = pos.ID
	return d, nil
}

// Submit validates sig and handles it in the background.
func (e *Impl) Submit(sig strategy.Signal) error {
	sig = sig.Normalize()
	if err := sig.Validate(); err != nil {
		return err
	}
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return ErrStopped
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("signal handling panicked", zap.String("symbol", sig.Symbol), zap.Any("panic", r))
				e.notifier.Error("signal "+sig.Symbol, fmt.Errorf("panic: %v", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		d, err := e.HandleSignal(ctx, sig)
		if err != nil {
			e.log.Warn("signal not executed", zap.String("symbol", sig.Symbol), zap.String("outcome", string(d.Outcome)), zap.Error(err))
			return
		}
		e.log.Info("signal handled", zap.String("symbol", sig.Symbol), zap.String("outcome", string(d.Outcome)), zap.String("reason", d.Reason))
	}()
	return nil
}

// Shutdown stops accepting signals and waits for the ones in flight.
func (e *Impl) Shutdown() {
	e.stopMu.Lock()
	e.stopped = true
	e.stopMu.Unlock()
	e.wg.Wait()
}

// Positions returns the open positions valued at the current price.
func (e *Impl) Positions(ctx context.Context) []PositionView {
	list := e.positions.Positions()
	prices := make(map[string]float64)
	out := make([]PositionView, 0, len(list))
	for _, p := range list {
		price, ok := prices[p.Symbol]
		if !ok {
			var err error
			if price, err = e.gw.GetMarketPrice(ctx, p.Symbol); err != nil {
				e.log.Warn("price unavailable", zap.String("symbol", p.Symbol), zap.Error(err))
			}
			prices[p.Symbol] = price
		}
		v := PositionView{Position: p, CurrentPrice: price}
		if price > 0 {
			v.UnrealizedPnL = p.UnrealizedPnL(price)
		}
		out = append(out, v)
	}
	return out
}

func (e *Impl) PendingOrders() []order.Pending {
	return e.pending.Pending()
}

func (e *Impl) ClosePosition(ctx context.Context, id string) (position.ClosedTrade, error) {
	return e.positions.Close(ctx, id, position.ReasonManual)
}

// EmergencyStop halts new entries, cancels resting entries and closes every
// position at market.
func (e *Impl) EmergencyStop(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	e.gate.Halt(reason)
	// An entry that already passed the gate finishes first.
	e.entryMu.Lock()
	defer e.entryMu.Unlock()

	cancelled := e.pending.CancelAll(ctx)
	err := e.positions.CloseAll(ctx, position.ReasonEmergencyStop)
	e.publish(events.EventRiskAlert, map[string]any{
		"type":            "emergency_stop",
		"reason":          reason,
		"cancelledOrders": cancelled,
		"openPositions":   e.positions.ActiveCount(),
	})
	e.notifier.EmergencyStop(reason)
	e.log.Warn("emergency stop", zap.String("reason", reason), zap.Int("cancelledOrders", cancelled), zap.Error(err))
	if err != nil {
		e.notifier.Error("emergency stop", err)
		return fmt.Errorf("emergency stop: %w", err)
	}
	return nil
}

func (e *Impl) Resume() {
	e.gate.Resume()
	e.publish(events.EventRiskAlert, map[string]any{"type": "resume"})
}

func (e *Impl) FilterStats() filter.Stats {
	return e.pipeline.Stats()
}

func (e *Impl) ResetFilterStats() {
	e.pipeline.ResetStats()
}

// Risk reports the gate state and the entry size the current balance allows.
func (e *Impl) Risk(ctx context.Context) RiskView {
	cfg := e.settings()
	limits := risk.Limits{
		MaxActiveTrades:     cfg.MaxActiveTrades,
		MaxTradesPerCoin:    cfg.MaxTradesPerCoin,
		DailyLossCapPercent: cfg.DailyLossCapPercent,
		USDTAmount:          cfg.USDTAmount,
	}
	halted, reason := e.gate.Halted()
	view := RiskView{
		Metrics:         e.gate.Metrics(),
		Limits:          limits,
		MaxDailyLoss:    limits.MaxDailyLoss(),
		ActivePositions: e.positions.ActiveCount(),
		PendingOrders:   e.pending.Len(),
		Halted:          halted,
		HaltReason:      reason,
	}
	if sizing, err := e.gate.PositionSize(ctx); err != nil {
		e.log.Warn("position sizing unavailable", zap.Error(err))
	} else {
		view.Sizing = &sizing
	}
	return view
}

func (e *Impl) Status() SystemStatus {
	s := e.meta
	s.AIEnabled = e.settings().AIEnabled
	s.Halted, s.HaltReason = e.gate.Halted()
	s.ActivePositions = e.positions.ActiveCount()
	s.PendingOrders = e.pending.Len()
	s.ServerTime = e.now().UTC()
	return s
}
