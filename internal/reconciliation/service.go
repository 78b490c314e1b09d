package reconciliation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
	"signal-engine/pkg/db"
	"signal-engine/pkg/exchanges/common"
)

// Opener starts tracking a filled entry.
type Opener interface {
	Open(ctx context.Context, req position.OpenRequest) (position.Position, error)
}

// OrderStore persists entry orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o db.Order) error
	UpdateOrderFill(ctx context.Context, id, status string, filledQty, price float64) error
	ListOpenOrders(ctx context.Context) ([]db.Order, error)
}

// Tracker follows resting entry orders until they fill, expire or are dropped
// by the venue. A filled entry is handed to the position manager.
type Tracker struct {
	gw       common.Gateway
	opener   Opener
	store    OrderStore
	settings func() config.Trading
	log      *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*order.Pending
}

// Report contains the results of one pass.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Checked   int       `json:"checked"`
	Filled    int       `json:"filled"`
	Dropped   int       `json:"dropped"`
	Expired   int       `json:"expired"`
	Errors    int       `json:"errors"`
}

// NewTracker creates a tracker. store may be nil.
func NewTracker(gw common.Gateway, opener Opener, store OrderStore, settings func() config.Trading, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		gw:       gw,
		opener:   opener,
		store:    store,
		settings: settings,
		log:      logger.Named("reconciliation"),
		now:      time.Now,
		pending:  make(map[string]*order.Pending),
	}
}

// Add starts tracking p.
func (t *Tracker) Add(ctx context.Context, p order.Pending) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now()
	}
	if p.Status == "" {
		p.Status = common.StatusNew
	}
	t.mu.Lock()
	t.pending[p.OrderID] = &p
	t.mu.Unlock()

	if t.store != nil {
		err := t.store.CreateOrder(ctx, db.Order{
			ID:              p.OrderID,
			Symbol:          p.Params.Symbol,
			Side:            string(p.Params.Side),
			Type:            string(p.Params.Type),
			Price:           p.Params.EntryPrice,
			Qty:             p.Params.Quantity,
			StopPrice:       p.Params.StopPrice,
			TakeProfitPrice: p.Params.TakeProfitPrice,
			Status:          string(p.Status),
			CreatedAt:       p.CreatedAt,
		})
		if err != nil {
			t.log.Warn("persist pending order failed", zap.String("orderId", p.OrderID), zap.Error(err))
		}
	}
	t.log.Info("entry order pending",
		zap.String("orderId", p.OrderID),
		zap.String("symbol", p.Params.Symbol),
		zap.Float64("price", p.Params.EntryPrice))
}

// Restore reloads orders that were still open when the process stopped.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	rows, err := t.store.ListOpenOrders(ctx)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range rows {
		side := common.Side(o.Side)
		action := strategy.ActionBuy
		if side == common.SideSell {
			action = strategy.ActionSell
		}
		t.pending[o.ID] = &order.Pending{
			OrderID: o.ID,
			Signal:  strategy.Signal{Symbol: o.Symbol, Action: action, Price: o.Price},
			Params: order.Params{
				Symbol:          o.Symbol,
				Side:            side,
				Type:            common.OrderType(o.Type),
				Quantity:        o.Qty,
				EntryPrice:      o.Price,
				StopPrice:       o.StopPrice,
				TakeProfitPrice: o.TakeProfitPrice,
				TimeInForce:     common.TIFGTC,
			},
			Status:    common.OrderStatus(o.Status),
			FilledQty: o.FilledQty,
			CreatedAt: o.CreatedAt,
		}
	}
	return len(rows), nil
}

// claim removes id so that exactly one caller acts on it.
func (t *Tracker) claim(id string) (*order.Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return p, ok
}

func (t *Tracker) list() []*order.Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*order.Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Reconcile polls every pending order once.
func (t *Tracker) Reconcile(ctx context.Context) Report {
	report := Report{Timestamp: t.now()}
	for _, p := range t.list() {
		report.Checked++
		res, err := t.gw.GetOrderStatus(ctx, p.Params.Symbol, p.OrderID)
		if err != nil {
			report.Errors++
			t.log.Warn("order status failed", zap.String("orderId", p.OrderID), zap.Error(err))
			continue
		}
		switch res.Status {
		case common.StatusFilled:
			claimed, ok := t.claim(p.OrderID)
			if !ok {
				continue
			}
			if err := t.open(ctx, claimed, res); err != nil {
				report.Errors++
				continue
			}
			report.Filled++
		case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
			if _, ok := t.claim(p.OrderID); !ok {
				continue
			}
			t.persist(ctx, p.OrderID, res.Status, res.FilledQty, res.FillPrice)
			t.log.Info("entry order dropped", zap.String("orderId", p.OrderID), zap.String("status", string(res.Status)))
			report.Dropped++
		case common.StatusPartial:
			t.mu.Lock()
			p.Status = res.Status
			p.FilledQty = res.FilledQty
			t.mu.Unlock()
			t.persist(ctx, p.OrderID, res.Status, res.FilledQty, res.FillPrice)
		}
	}
	if report.Checked > 0 {
		t.log.Info("reconciliation finished",
			zap.Int("checked", report.Checked),
			zap.Int("filled", report.Filled),
			zap.Int("dropped", report.Dropped),
			zap.Int("errors", report.Errors))
	}
	return report
}

// ExpireStale cancels orders older than ORDER_TIMEOUT_MINUTES. A partially
// filled order opens a position for the filled quantity.
func (t *Tracker) ExpireStale(ctx context.Context) Report {
	report := Report{Timestamp: t.now()}
	timeout := time.Duration(t.settings().OrderTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		return report
	}
	for _, p := range t.list() {
		report.Checked++
		if !p.Expired(report.Timestamp, timeout) {
			continue
		}
		claimed, ok := t.claim(p.OrderID)
		if !ok {
			continue
		}
		if err := t.gw.CancelOrder(ctx, claimed.Params.Symbol, claimed.OrderID); err != nil {
			report.Errors++
			t.resolveFailedCancel(ctx, claimed, err)
			continue
		}
		report.Expired++
		t.log.Info("entry order timed out", zap.String("orderId", claimed.OrderID), zap.Duration("timeout", timeout))
		if claimed.FilledQty > 0 {
			res := common.OrderResult{Status: common.StatusPartial, FilledQty: claimed.FilledQty}
			if err := t.open(ctx, claimed, res); err != nil {
				report.Errors++
			}
			continue
		}
		t.persist(ctx, claimed.OrderID, common.StatusCanceled, 0, 0)
	}
	return report
}

// resolveFailedCancel checks whether the order filled before the cancel
// reached the venue. Unresolved orders go back on the list.
func (t *Tracker) resolveFailedCancel(ctx context.Context, p *order.Pending, cancelErr error) {
	res, err := t.gw.GetOrderStatus(ctx, p.Params.Symbol, p.OrderID)
	switch {
	case err == nil && res.Status == common.StatusFilled:
		_ = t.open(ctx, p, res)
	case err == nil && res.Status.Terminal():
		t.persist(ctx, p.OrderID, res.Status, res.FilledQty, res.FillPrice)
	default:
		t.log.Warn("cancel timed out order failed", zap.String("orderId", p.OrderID), zap.Error(errors.Join(cancelErr, err)))
		t.mu.Lock()
		t.pending[p.OrderID] = p
		t.mu.Unlock()
	}
}

func (t *Tracker) open(ctx context.Context, p *order.Pending, res common.OrderResult) error {
	price := res.FillPrice
	if price <= 0 {
		price = p.Params.EntryPrice
	}
	qty := res.FilledQty
	if qty <= 0 {
		qty = p.Params.Quantity
	}
	t.persist(ctx, p.OrderID, common.StatusFilled, qty, price)

	pos, err := t.opener.Open(ctx, position.OpenRequest{
		Symbol:          p.Params.Symbol,
		Side:            p.Params.Side,
		Strategy:        p.Signal.Strategy,
		EntryOrderID:    p.OrderID,
		EntryPrice:      price,
		Quantity:        qty,
		StopPrice:       p.Params.StopPrice,
		TakeProfitPrice: p.Params.TakeProfitPrice,
	})
	if err != nil {
		t.log.Error("open filled entry failed", zap.String("orderId", p.OrderID), zap.Error(err))
		return err
	}
	t.log.Info("entry order filled", zap.String("orderId", p.OrderID), zap.String("positionId", pos.ID), zap.Float64("price", price))
	return nil
}

func (t *Tracker) persist(ctx context.Context, id string, status common.OrderStatus, filled, price float64) {
	if t.store == nil {
		return
	}
	if err := t.store.UpdateOrderFill(ctx, id, string(status), filled, price); err != nil {
		t.log.Warn("persist order status failed", zap.String("orderId", id), zap.Error(err))
	}
}

// CancelAll cancels every pending order and stops tracking it.
func (t *Tracker) CancelAll(ctx context.Context) int {
	n := 0
	for _, p := range t.list() {
		claimed, ok := t.claim(p.OrderID)
		if !ok {
			continue
		}
		if err := t.gw.CancelOrder(ctx, claimed.Params.Symbol, claimed.OrderID); err != nil {
			t.log.Warn("cancel pending order failed", zap.String("orderId", claimed.OrderID), zap.Error(err))
		}
		t.persist(ctx, claimed.OrderID, common.StatusCanceled, claimed.FilledQty, 0)
		n++
	}
	return n
}

// Pending returns copies of the tracked orders, oldest first.
func (t *Tracker) Pending() []order.Pending {
	list := t.list()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]order.Pending, len(list))
	for i, p := range list {
		out[i] = *p
	}
	return out
}

// Len is the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// SymbolCount is the number of tracked orders on symbol.
func (t *Tracker) SymbolCount(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.pending {
		if p.Params.Symbol == symbol {
			n++
		}
	}
	return n
}
