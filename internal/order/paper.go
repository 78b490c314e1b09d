package order

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-engine/internal/market"
	"signal-engine/pkg/exchanges/common"
)

// PaperConfig tunes simulated fills.
type PaperConfig struct {
	InitialBalance float64
	FeeRate        float64 // decimal, e.g. 0.001 = 10 bps
	SlippageBps    float64 // basis points of adverse slippage applied on market fills
	QuoteAsset     string
}

// PaperGateway is an in-memory Gateway that fills against live prices.
// Market orders fill immediately; limit and stop orders rest until a status
// poll observes a crossing price.
type PaperGateway struct {
	prices market.PriceSource
	cfg    PaperConfig
	log    *zap.Logger
	rng    *rand.Rand

	mu       sync.Mutex
	balance  float64
	holdings map[string]float64
	orders   map[string]*paperOrder
}

type paperOrder struct {
	req       common.OrderRequest
	id        string
	status    common.OrderStatus
	fillPrice float64
	createdAt time.Time
}

// NewPaperGateway creates a paper venue funded with cfg.InitialBalance.
func NewPaperGateway(prices market.PriceSource, cfg PaperConfig, logger *zap.Logger) *PaperGateway {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperGateway{
		prices:   prices,
		cfg:      cfg,
		log:      logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		balance:  cfg.InitialBalance,
		holdings: make(map[string]float64),
		orders:   make(map[string]*paperOrder),
	}
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Qty <= 0 {
		return common.OrderResult{}, &common.GatewayError{Op: "place_order", Message: fmt.Sprintf("invalid quantity %v", req.Qty)}
	}
	o := &paperOrder{req: req, id: "PAPER-" + uuid.NewString(), status: common.StatusNew, createdAt: time.Now()}

	switch req.Type {
	case common.OrderTypeMarket:
		price, err := g.prices.GetMarketPrice(ctx, req.Symbol)
		if err != nil {
			return common.OrderResult{}, common.WrapError("place_order", err)
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		if err := g.fill(o, g.slip(req.Side, price)); err != nil {
			return common.OrderResult{}, err
		}
	case common.OrderTypeLimit:
		if req.Price <= 0 {
			return common.OrderResult{}, &common.GatewayError{Op: "place_order", Message: "limit order requires price"}
		}
		g.mu.Lock()
		defer g.mu.Unlock()
	case common.OrderTypeStopLoss, common.OrderTypeTakeProfit:
		if req.StopPrice <= 0 {
			return common.OrderResult{}, &common.GatewayError{Op: "place_order", Message: "stop order requires stop price"}
		}
		g.mu.Lock()
		defer g.mu.Unlock()
	default:
		return common.OrderResult{}, &common.GatewayError{Op: "place_order", Message: "unsupported order type " + string(req.Type)}
	}

	g.orders[o.id] = o
	g.log.Debug("paper order",
		zap.String("id", o.id),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.String("status", string(o.status)))
	return o.result(), nil
}

func (g *PaperGateway) slip(side common.Side, price float64) float64 {
	frac := g.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return price
	}
	noise := g.rng.Float64() * frac
	if side == common.SideBuy {
		return price * (1 + noise)
	}
	return price * (1 - noise)
}

// fill settles o at price. Caller holds g.mu.
func (g *PaperGateway) fill(o *paperOrder, price float64) error {
	notional := o.req.Qty * price
	fee := notional * g.cfg.FeeRate
	if o.req.Side == common.SideBuy {
		if notional+fee > g.balance {
			o.status = common.StatusRejected
			return &common.GatewayError{Op: "place_order", Message: fmt.Sprintf("insufficient balance: need %.2f, have %.2f", notional+fee, g.balance)}
		}
		g.balance -= notional + fee
		g.holdings[o.req.Symbol] += o.req.Qty
	} else {
		g.balance += notional - fee
		g.holdings[o.req.Symbol] -= o.req.Qty
	}
	if h := g.holdings[o.req.Symbol]; h > -1e-12 && h < 1e-12 {
		delete(g.holdings, o.req.Symbol)
	}
	o.status = common.StatusFilled
	o.fillPrice = price
	return nil
}

// triggered reports whether a resting order executes at price.
func triggered(req common.OrderRequest, price float64) bool {
	buy := req.Side == common.SideBuy
	switch req.Type {
	case common.OrderTypeLimit:
		if buy {
			return price <= req.Price
		}
		return price >= req.Price
	case common.OrderTypeStopLoss:
		if buy {
			return price >= req.StopPrice
		}
		return price <= req.StopPrice
	case common.OrderTypeTakeProfit:
		if buy {
			return price <= req.StopPrice
		}
		return price >= req.StopPrice
	}
	return false
}

func (g *PaperGateway) CancelOrder(_ context.Context, _ string, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return &common.GatewayError{Op: "cancel_order", Message: "unknown order " + orderID}
	}
	if o.status.Terminal() {
		return &common.GatewayError{Op: "cancel_order", Message: fmt.Sprintf("order %s already %s", orderID, o.status)}
	}
	o.status = common.StatusCanceled
	return nil
}

// GetOrderStatus re-evaluates resting orders against the current price.
func (g *PaperGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	g.mu.Lock()
	o, ok := g.orders[orderID]
	resting := ok && o.status == common.StatusNew
	g.mu.Unlock()
	if !ok {
		return common.OrderResult{}, &common.GatewayError{Op: "order_status", Message: "unknown order " + orderID}
	}
	if !resting {
		g.mu.Lock()
		defer g.mu.Unlock()
		return o.result(), nil
	}

	price, err := g.prices.GetMarketPrice(ctx, symbol)
	if err != nil {
		return common.OrderResult{}, common.WrapError("order_status", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if o.status == common.StatusNew && triggered(o.req, price) {
		fillAt := price
		if o.req.Type == common.OrderTypeLimit {
			fillAt = o.req.Price
		}
		if err := g.fill(o, fillAt); err != nil {
			g.log.Warn("paper fill rejected", zap.String("id", orderID), zap.Error(err))
		}
	}
	return o.result(), nil
}

func (g *PaperGateway) GetBalance(context.Context) (common.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return common.Balance{Asset: g.cfg.QuoteAsset, Free: g.balance, Total: g.balance}, nil
}

func (g *PaperGateway) GetOpenPositions(context.Context) ([]common.Holding, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]common.Holding, 0, len(g.holdings))
	for sym, qty := range g.holdings {
		out = append(out, common.Holding{Symbol: sym, Qty: qty})
	}
	return out, nil
}

func (g *PaperGateway) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	return g.prices.GetMarketPrice(ctx, symbol)
}

// Reset restores the initial balance and drops all orders.
func (g *PaperGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balance = g.cfg.InitialBalance
	g.holdings = make(map[string]float64)
	g.orders = make(map[string]*paperOrder)
}

func (o *paperOrder) result() common.OrderResult {
	res := common.OrderResult{
		OrderID:  o.id,
		ClientID: o.req.ClientID,
		Symbol:   o.req.Symbol,
		Side:     o.req.Side,
		Type:     o.req.Type,
		Status:   o.status,
		Qty:      o.req.Qty,
	}
	if o.status == common.StatusFilled {
		res.FilledQty = o.req.Qty
		res.FillPrice = o.fillPrice
	}
	return res
}
