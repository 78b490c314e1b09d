package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-engine/internal/events"
	"signal-engine/internal/market"
	"signal-engine/pkg/config"
	"signal-engine/pkg/exchanges/common"
)

// CloseHook observes every closed position.
type CloseHook func(ctx context.Context, t ClosedTrade)

// ErrorHook observes failed gateway calls that leave a position open.
type ErrorHook func(ctx context.Context, p Position, err error)

// slot serializes every evaluation of one position. next holds the latest
// unprocessed tick price for the slot's worker.
type slot struct {
	mu  sync.Mutex
	pos *Position

	tickMu  sync.Mutex
	next    float64
	running bool
}

// Manager owns the set of open positions. Each position is evaluated by at
// most one goroutine at a time; different positions run concurrently.
type Manager struct {
	gw         common.Gateway
	settings   func() config.Trading
	bus        *events.Bus
	sched      *Scheduler
	log        *zap.Logger
	protective bool
	now        func() time.Time

	mu      sync.RWMutex
	slots   map[string]*slot
	workers sync.WaitGroup

	hookMu  sync.RWMutex
	onClose []CloseHook
	onError []ErrorHook
}

// Options configure a Manager.
type Options struct {
	// ProtectiveOrders places resting TP and SL orders on the venue.
	ProtectiveOrders bool
}

// NewManager creates a manager. bus may be nil.
func NewManager(gw common.Gateway, settings func() config.Trading, bus *events.Bus, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		gw:         gw,
		settings:   settings,
		bus:        bus,
		sched:      NewScheduler(),
		log:        logger.Named("position"),
		protective: opts.ProtectiveOrders,
		now:        time.Now,
		slots:      make(map[string]*slot),
	}
}

// OnClose registers fn to run after every close.
func (m *Manager) OnClose(fn CloseHook) {
	m.hookMu.Lock()
	m.onClose = append(m.onClose, fn)
	m.hookMu.Unlock()
}

// OnError registers fn to run when a close or adjustment fails at the gateway.
func (m *Manager) OnError(fn ErrorHook) {
	m.hookMu.Lock()
	m.onError = append(m.onError, fn)
	m.hookMu.Unlock()
}

func (m *Manager) publish(e events.Event, payload any) {
	if m.bus != nil {
		m.bus.Publish(e, payload)
	}
}

// Open starts tracking a filled entry.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (Position, error) {
	if req.Quantity <= 0 || req.EntryPrice <= 0 {
		return Position{}, fmt.Errorf("open %s: invalid quantity %v or price %v", req.Symbol, req.Quantity, req.EntryPrice)
	}
	now := m.now()
	p := &Position{
		ID:                uuid.NewString(),
		Symbol:            req.Symbol,
		Side:              req.Side,
		Strategy:          req.Strategy,
		EntryOrderID:      req.EntryOrderID,
		EntryPrice:        req.EntryPrice,
		AvgEntryPrice:     req.EntryPrice,
		InitialQuantity:   req.Quantity,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		StopPrice:         req.StopPrice,
		TakeProfitPrice:   req.TakeProfitPrice,
		Status:            StatusOpen,
		DCA:               DCA{LastPrice: req.EntryPrice},
		OpenedAt:          now,
		UpdatedAt:         now,
	}
	InitTrailing(p)
	if m.protective {
		m.placeChildren(ctx, p)
	}

	cfg := m.settings()
	if cfg.AutoCloseTimeoutHours > 0 {
		d := time.Duration(cfg.AutoCloseTimeoutHours * float64(time.Hour))
		p.AutoCloseDeadline = now.Add(d)
		id := p.ID
		m.sched.Schedule(id, d, func() { m.autoClose(id) })
	}

	m.mu.Lock()
	m.slots[p.ID] = &slot{pos: p}
	m.mu.Unlock()

	snap := p.clone()
	m.log.Info("position opened",
		zap.String("id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.Float64("entry", p.EntryPrice),
		zap.Float64("qty", p.Quantity))
	m.publish(events.EventPositionOpened, snap)
	return snap, nil
}

func (m *Manager) autoClose(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := m.Close(ctx, id, ReasonAutoTimeout); err != nil && !errors.Is(err, ErrNotOpen) && !errors.Is(err, ErrNotFound) {
		m.log.Error("auto close failed", zap.String("id", id), zap.Error(err))
	}
}

func (m *Manager) targets(symbol string) []*slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*slot
	for _, s := range m.slots {
		if s.pos.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out
}

// OnTick evaluates every open position on tick.Symbol and waits for them.
func (m *Manager) OnTick(ctx context.Context, tick market.Tick) {
	var wg sync.WaitGroup
	for _, s := range m.targets(tick.Symbol) {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			m.safeEvaluate(ctx, s, tick.Price)
		}(s)
	}
	wg.Wait()
}

// Run evaluates positions on every price tick published on the bus. Ticks are
// handed to per-position workers so a slow gateway call on one symbol never
// delays the others; a busy worker only sees the latest price.
func (m *Manager) Run(ctx context.Context) {
	if m.bus == nil {
		return
	}
	ch, unsub := m.bus.Subscribe(events.EventPriceTick, 256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if tick, ok := v.(market.Tick); ok {
				for _, s := range m.targets(tick.Symbol) {
					m.dispatch(ctx, s, tick.Price)
				}
			}
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, s *slot, price float64) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.next = price
	if s.running {
		return
	}
	s.running = true
	m.workers.Add(1)
	go m.drain(ctx, s)
}

func (m *Manager) drain(ctx context.Context, s *slot) {
	defer m.workers.Done()
	for {
		s.tickMu.Lock()
		price := s.next
		s.next = 0
		if price <= 0 || ctx.Err() != nil {
			s.running = false
			s.tickMu.Unlock()
			return
		}
		s.tickMu.Unlock()
		m.safeEvaluate(ctx, s, price)
	}
}

func (m *Manager) safeEvaluate(ctx context.Context, s *slot, price float64) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("position evaluation panicked", zap.Any("panic", r))
		}
	}()
	m.evaluate(ctx, s, price)
}

// evaluate runs partial TP, trailing stop, DCA, protective levels and the
// auto-close deadline in that order.
func (m *Manager) evaluate(ctx context.Context, s *slot, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pos
	if p.Status != StatusOpen || price <= 0 {
		return
	}
	cfg := m.settings()
	changed := false

	if cfg.PartialTPEnabled && PartialTPDue(p, price, cfg.TPPercent) {
		if m.partialTakeProfit(ctx, p, price, cfg.PartialTPPercent) {
			changed = true
		}
	}

	if cfg.TrailingStopEnabled {
		moved, hit := UpdateTrailing(p, price, cfg.TrailingStopDistance)
		if hit {
			m.closeQuietly(ctx, s, price, ReasonTrailingStop)
			return
		}
		if moved {
			m.log.Debug("trailing stop moved", zap.String("id", p.ID), zap.Float64("stop", p.Trailing.CurrentStop))
			changed = true
		}
	}

	if cfg.DCAEnabled && DCADue(p, price, cfg.DCAMaxSteps, cfg.DCADistancePercent) {
		if m.averageIn(ctx, p, price) {
			changed = true
		}
	}

	if reason, ok := ExitReason(p, price); ok {
		m.closeQuietly(ctx, s, price, reason)
		return
	}

	if !p.AutoCloseDeadline.IsZero() && !m.now().Before(p.AutoCloseDeadline) {
		m.closeQuietly(ctx, s, price, ReasonAutoTimeout)
		return
	}

	if changed {
		p.UpdatedAt = m.now()
		m.publish(events.EventPositionUpdated, p.clone())
	}
}

func (m *Manager) partialTakeProfit(ctx context.Context, p *Position, price, percent float64) bool {
	qty := PartialQuantity(p, percent)
	if qty <= 0 || qty >= p.RemainingQuantity {
		return false
	}
	res, err := m.gw.PlaceOrder(ctx, common.OrderRequest{
		Symbol: p.Symbol,
		Side:   p.Side.Opposite(),
		Type:   common.OrderTypeMarket,
		Qty:    qty,
	})
	if err != nil {
		m.fail(ctx, p, fmt.Errorf("partial take profit %s: %w", p.ID, err))
		return false
	}
	fill := price
	if res.FillPrice > 0 {
		fill = res.FillPrice
	}
	p.PartialExecuted = true
	p.RemainingQuantity -= qty
	p.RealizedPnL += p.pnl(fill, qty)
	m.log.Info("partial take profit",
		zap.String("id", p.ID),
		zap.Float64("qty", qty),
		zap.Float64("remaining", p.RemainingQuantity),
		zap.Float64("price", fill))
	m.refreshChildren(ctx, p)
	return true
}

func (m *Manager) averageIn(ctx context.Context, p *Position, price float64) bool {
	res, err := m.gw.PlaceOrder(ctx, common.OrderRequest{
		Symbol: p.Symbol,
		Side:   p.Side,
		Type:   common.OrderTypeMarket,
		Qty:    p.InitialQuantity,
	})
	if err != nil {
		m.fail(ctx, p, fmt.Errorf("dca %s: %w", p.ID, err))
		return false
	}
	fill := price
	if res.FillPrice > 0 {
		fill = res.FillPrice
	}
	ApplyDCA(p, fill, p.InitialQuantity)
	p.ChildOrders.DCAIDs = append(p.ChildOrders.DCAIDs, res.OrderID)
	m.log.Info("dca executed",
		zap.String("id", p.ID),
		zap.Int("step", p.DCA.Steps),
		zap.Float64("price", fill),
		zap.Float64("qty", p.Quantity))
	m.refreshChildren(ctx, p)
	return true
}

func (m *Manager) fail(ctx context.Context, p *Position, err error) {
	m.log.Error("position gateway call failed", zap.String("id", p.ID), zap.String("symbol", p.Symbol), zap.Error(err))
	snap := p.clone()
	m.hookMu.RLock()
	hooks := append([]ErrorHook(nil), m.onError...)
	m.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, snap, err)
	}
}

// Close closes position id at market. The loser of a concurrent close gets
// ErrNotOpen.
func (m *Manager) Close(ctx context.Context, id, reason string) (ClosedTrade, error) {
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return ClosedTrade{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos.Status != StatusOpen {
		return ClosedTrade{}, ErrNotOpen
	}
	price, err := m.gw.GetMarketPrice(ctx, s.pos.Symbol)
	if err != nil {
		m.log.Warn("close price unavailable", zap.String("symbol", s.pos.Symbol), zap.Error(err))
		price = 0
	}
	return m.closeLocked(ctx, s, price, reason)
}

// CloseAll closes every open position and joins the failures.
func (m *Manager) CloseAll(ctx context.Context, reason string) error {
	var errs []error
	for _, p := range m.Positions() {
		if _, err := m.Close(ctx, p.ID, reason); err != nil && !errors.Is(err, ErrNotOpen) && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) closeQuietly(ctx context.Context, s *slot, price float64, reason string) {
	if _, err := m.closeLocked(ctx, s, price, reason); err != nil && !errors.Is(err, ErrNotOpen) {
		m.log.Warn("close failed, position stays open", zap.String("id", s.pos.ID), zap.String("reason", reason), zap.Error(err))
	}
}

// closeLocked requires s.mu. A close is final only after the gateway
// confirms it; on error the position stays OPEN with its protective orders
// resting.
func (m *Manager) closeLocked(ctx context.Context, s *slot, price float64, reason string) (ClosedTrade, error) {
	p := s.pos
	if p.Status != StatusOpen {
		return ClosedTrade{}, ErrNotOpen
	}

	if exit, childReason, ok := m.filledChild(ctx, p); ok {
		return m.settle(ctx, s, exit, childReason), nil
	}
	if err := m.cancelChildren(ctx, p); err != nil {
		// A child that is still resting may fill on top of a market close.
		if exit, childReason, ok := m.filledChild(ctx, p); ok {
			return m.settle(ctx, s, exit, childReason), nil
		}
		m.restoreChildren(ctx, p)
		err = fmt.Errorf("close %s %s (%s): %w", p.Symbol, p.ID, reason, err)
		m.fail(ctx, p, err)
		return ClosedTrade{}, err
	}
	res, err := m.gw.PlaceOrder(ctx, common.OrderRequest{
		Symbol: p.Symbol,
		Side:   p.Side.Opposite(),
		Type:   common.OrderTypeMarket,
		Qty:    p.RemainingQuantity,
	})
	if err != nil {
		m.restoreChildren(ctx, p)
		err = fmt.Errorf("close %s %s (%s): %w", p.Symbol, p.ID, reason, err)
		m.fail(ctx, p, err)
		return ClosedTrade{}, err
	}
	switch {
	case res.FillPrice > 0:
		price = res.FillPrice
	case price <= 0:
		price = m.fillPrice(ctx, p.Symbol, res.OrderID)
	}
	return m.settle(ctx, s, price, reason), nil
}

// fillPrice asks the venue for the average price of a market order that was
// acknowledged without one. It returns 0 when the venue cannot tell.
func (m *Manager) fillPrice(ctx context.Context, symbol, orderID string) float64 {
	if orderID == "" {
		return 0
	}
	res, err := m.gw.GetOrderStatus(ctx, symbol, orderID)
	if err != nil {
		m.log.Warn("close fill price lookup failed", zap.String("order", orderID), zap.Error(err))
		return 0
	}
	return res.FillPrice
}

// settle marks the position closed at price, drops it and notifies hooks.
func (m *Manager) settle(ctx context.Context, s *slot, price float64, reason string) ClosedTrade {
	p := s.pos
	if price <= 0 {
		m.log.Warn("exit price unknown, settling at entry",
			zap.String("id", p.ID),
			zap.String("symbol", p.Symbol),
			zap.Float64("entry", p.AvgEntryPrice))
		price = p.AvgEntryPrice
	}

	now := m.now()
	p.Status = StatusClosed
	p.UpdatedAt = now
	trade := ClosedTrade{
		Position:  p.clone(),
		ExitPrice: price,
		Reason:    reason,
		PnL:       p.RealizedPnL + p.pnl(price, p.RemainingQuantity),
		ClosedAt:  now,
	}

	m.mu.Lock()
	delete(m.slots, p.ID)
	m.mu.Unlock()
	m.sched.Cancel(p.ID)

	m.log.Info("position closed",
		zap.String("id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit", price),
		zap.Float64("pnl", trade.PnL))

	m.hookMu.RLock()
	hooks := append([]CloseHook(nil), m.onClose...)
	m.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, trade)
	}
	m.publish(events.EventPositionClosed, trade)
	return trade
}

// SyncChildren closes positions whose resting TP or SL order has filled.
func (m *Manager) SyncChildren(ctx context.Context) int {
	closed := 0
	for _, snap := range m.Positions() {
		if snap.ChildOrders.TakeProfitID == "" && snap.ChildOrders.StopLossID == "" {
			continue
		}
		m.mu.RLock()
		s, ok := m.slots[snap.ID]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.pos.Status == StatusOpen {
			if exit, reason, filled := m.filledChild(ctx, s.pos); filled {
				m.settle(ctx, s, exit, reason)
				closed++
			}
		}
		s.mu.Unlock()
	}
	return closed
}

// filledChild checks the resting orders. When one has filled, the other is
// cancelled and the fill is returned as the exit.
func (m *Manager) filledChild(ctx context.Context, p *Position) (float64, string, bool) {
	children := []struct {
		id     string
		reason string
		level  float64
	}{
		{p.ChildOrders.StopLossID, ReasonStopLoss, p.StopPrice},
		{p.ChildOrders.TakeProfitID, ReasonTakeProfit, p.TakeProfitPrice},
	}
	for _, c := range children {
		if c.id == "" {
			continue
		}
		res, err := m.gw.GetOrderStatus(ctx, p.Symbol, c.id)
		if err != nil {
			m.log.Warn("child order status failed", zap.String("order", c.id), zap.Error(err))
			continue
		}
		if res.Status != common.StatusFilled {
			continue
		}
		exit := c.level
		if res.FillPrice > 0 {
			exit = res.FillPrice
		}
		if c.reason == ReasonStopLoss {
			p.ChildOrders.StopLossID = ""
		} else {
			p.ChildOrders.TakeProfitID = ""
		}
		if err := m.cancelChildren(ctx, p); err != nil {
			m.log.Warn("sibling child order still resting", zap.String("id", p.ID), zap.Error(err))
		}
		return exit, c.reason, true
	}
	return 0, "", false
}

// placeChildren places the protective orders that are not already resting.
func (m *Manager) placeChildren(ctx context.Context, p *Position) {
	exit := p.Side.Opposite()
	if p.TakeProfitPrice > 0 && p.ChildOrders.TakeProfitID == "" {
		res, err := m.gw.PlaceOrder(ctx, common.OrderRequest{
			Symbol:      p.Symbol,
			Side:        exit,
			Type:        common.OrderTypeLimit,
			Qty:         p.RemainingQuantity,
			Price:       p.TakeProfitPrice,
			TimeInForce: common.TIFGTC,
		})
		if err != nil {
			m.log.Warn("take profit order failed", zap.String("id", p.ID), zap.Error(err))
		} else {
			p.ChildOrders.TakeProfitID = res.OrderID
		}
	}
	if p.StopPrice > 0 && p.ChildOrders.StopLossID == "" {
		res, err := m.gw.PlaceOrder(ctx, common.OrderRequest{
			Symbol:    p.Symbol,
			Side:      exit,
			Type:      common.OrderTypeStopLoss,
			Qty:       p.RemainingQuantity,
			StopPrice: p.StopPrice,
		})
		if err != nil {
			m.log.Warn("stop loss order failed", zap.String("id", p.ID), zap.Error(err))
		} else {
			p.ChildOrders.StopLossID = res.OrderID
		}
	}
}

// cancelChildren cancels the resting TP and SL orders. An order whose cancel
// failed keeps its ID unless the venue reports it already done.
func (m *Manager) cancelChildren(ctx context.Context, p *Position) error {
	var errs []error
	for _, id := range []*string{&p.ChildOrders.TakeProfitID, &p.ChildOrders.StopLossID} {
		if *id == "" {
			continue
		}
		if err := m.gw.CancelOrder(ctx, p.Symbol, *id); err != nil && m.childLive(ctx, p.Symbol, *id) {
			m.log.Warn("cancel child order failed", zap.String("order", *id), zap.Error(err))
			errs = append(errs, fmt.Errorf("cancel %s: %w", *id, err))
			continue
		}
		*id = ""
	}
	return errors.Join(errs...)
}

// childLive reports whether a child order may still fill, or already has.
// An unknown status counts as live.
func (m *Manager) childLive(ctx context.Context, symbol, orderID string) bool {
	res, err := m.gw.GetOrderStatus(ctx, symbol, orderID)
	if err != nil {
		return true
	}
	switch res.Status {
	case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
		return false
	}
	return true
}

// restoreChildren puts back whatever protection a failed close removed.
func (m *Manager) restoreChildren(ctx context.Context, p *Position) {
	if m.protective {
		m.placeChildren(ctx, p)
	}
}

// refreshChildren re-places the protective orders for the current quantity.
func (m *Manager) refreshChildren(ctx context.Context, p *Position) {
	if !m.protective {
		return
	}
	if err := m.cancelChildren(ctx, p); err != nil {
		m.log.Warn("protective orders not resized", zap.String("id", p.ID), zap.Error(err))
	}
	m.placeChildren(ctx, p)
}

// Get returns a snapshot of an open position.
func (m *Manager) Get(id string) (Position, error) {
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.clone(), nil
}

// Positions returns snapshots of every open position, oldest first.
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	out := make([]Position, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if s.pos.Status == StatusOpen {
			out = append(out, s.pos.clone())
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// ActiveCount is the number of open positions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// SymbolCount is the number of open positions on symbol.
func (m *Manager) SymbolCount(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.slots {
		if s.pos.Symbol == symbol {
			n++
		}
	}
	return n
}

// PendingTimers is the number of scheduled auto-closes.
func (m *Manager) PendingTimers() int { return m.sched.Len() }

// Shutdown cancels every auto-close timer and waits for tick workers started
// by Run. Call it after Run has returned.
func (m *Manager) Shutdown() {
	m.sched.Stop()
	m.workers.Wait()
}
