package spot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-engine/pkg/exchanges/common"
)

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	QuoteAsset string // defaults to USDT
}

// Client is a Binance spot gateway built on go-binance.
type Client struct {
	cfg     Config
	api     *binance.Client
	limiter *common.RateLimiter
	log     *zap.Logger

	mu      sync.RWMutex
	filters map[string]symbolFilters
}

// New builds a spot client. Testnet flips the package-level go-binance switch.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		api:     binance.NewClient(cfg.APIKey, cfg.APISecret),
		limiter: common.NewRateLimiter(1200, time.Minute),
		log:     logger,
		filters: make(map[string]symbolFilters),
	}
}

func (c *Client) requireKeys() error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return &common.GatewayError{Op: "auth", Message: "binance API key/secret required"}
	}
	return nil
}

// PlaceOrder submits an order after rounding price and quantity to the
// symbol's exchange filters.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.requireKeys(); err != nil {
		return common.OrderResult{}, err
	}
	f, err := c.symbolFilters(ctx, req.Symbol)
	if err != nil {
		return common.OrderResult{}, common.WrapError("exchange_info", err)
	}
	qty := f.roundQty(req.Qty)
	if qty.IsZero() {
		return common.OrderResult{}, &common.GatewayError{Op: "place_order", Message: fmt.Sprintf("quantity %v below lot size %s", req.Qty, f.stepSize)}
	}

	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(qty.String())

	if req.Type == common.OrderTypeLimit {
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		svc = svc.Price(f.roundPrice(req.Price).String()).TimeInForce(binance.TimeInForceType(tif))
	}
	if req.Type == common.OrderTypeStopLoss || req.Type == common.OrderTypeTakeProfit {
		svc = svc.StopPrice(f.roundPrice(req.StopPrice).String())
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	if err := c.limiter.Wait(ctx, 1); err != nil {
		return common.OrderResult{}, common.WrapError("place_order", err)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return common.OrderResult{}, common.WrapError("place_order", err)
	}

	res := common.OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		ClientID:  resp.ClientOrderID,
		Symbol:    resp.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    mapStatus(resp.Status),
		Qty:       parseFloat(resp.OrigQuantity),
		FilledQty: parseFloat(resp.ExecutedQuantity),
	}
	res.FillPrice = averagePrice(resp.CummulativeQuoteQuantity, resp.ExecutedQuantity)
	if res.FillPrice == 0 && len(resp.Fills) > 0 {
		res.FillPrice = parseFloat(resp.Fills[0].Price)
	}
	c.log.Info("order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)))
	return res, nil
}

// CancelOrder cancels an open order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &common.GatewayError{Op: "cancel_order", Message: "invalid order id " + orderID, Err: err}
	}
	if err := c.limiter.Wait(ctx, 1); err != nil {
		return common.WrapError("cancel_order", err)
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return common.WrapError("cancel_order", err)
	}
	return nil
}

// GetOrderStatus fetches one order.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	if err := c.requireKeys(); err != nil {
		return common.OrderResult{}, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return common.OrderResult{}, &common.GatewayError{Op: "order_status", Message: "invalid order id " + orderID, Err: err}
	}
	if err := c.limiter.Wait(ctx, 2); err != nil {
		return common.OrderResult{}, common.WrapError("order_status", err)
	}
	o, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return common.OrderResult{}, common.WrapError("order_status", err)
	}
	return common.OrderResult{
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		ClientID:  o.ClientOrderID,
		Symbol:    o.Symbol,
		Side:      common.Side(o.Side),
		Type:      common.OrderType(o.Type),
		Status:    mapStatus(o.Status),
		Qty:       parseFloat(o.OrigQuantity),
		FilledQty: parseFloat(o.ExecutedQuantity),
		FillPrice: averagePrice(o.CummulativeQuoteQuantity, o.ExecutedQuantity),
	}, nil
}

func (c *Client) account(ctx context.Context) (*binance.Account, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx, 20); err != nil {
		return nil, common.WrapError("account", err)
	}
	acc, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, common.WrapError("account", err)
	}
	return acc, nil
}

// GetBalance returns the quote-asset balance.
func (c *Client) GetBalance(ctx context.Context) (common.Balance, error) {
	acc, err := c.account(ctx)
	if err != nil {
		return common.Balance{}, err
	}
	for _, b := range acc.Balances {
		if b.Asset == c.cfg.QuoteAsset {
			free := parseFloat(b.Free)
			return common.Balance{Asset: b.Asset, Free: free, Total: free + parseFloat(b.Locked)}, nil
		}
	}
	return common.Balance{Asset: c.cfg.QuoteAsset}, nil
}

// GetOpenPositions lists non-zero holdings of assets other than the quote asset.
func (c *Client) GetOpenPositions(ctx context.Context) ([]common.Holding, error) {
	acc, err := c.account(ctx)
	if err != nil {
		return nil, err
	}
	var out []common.Holding
	for _, b := range acc.Balances {
		if b.Asset == c.cfg.QuoteAsset {
			continue
		}
		qty := parseFloat(b.Free) + parseFloat(b.Locked)
		if qty <= 0 {
			continue
		}
		out = append(out, common.Holding{Symbol: b.Asset + c.cfg.QuoteAsset, Asset: b.Asset, Qty: qty})
	}
	return out, nil
}

// GetMarketPrice returns the last traded price.
func (c *Client) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Wait(ctx, 2); err != nil {
		return 0, common.WrapError("price", err)
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, common.WrapError("price", err)
	}
	if len(prices) == 0 {
		return 0, &common.GatewayError{Op: "price", Message: "no price data for " + symbol}
	}
	return parseFloat(prices[0].Price), nil
}

func mapStatus(s binance.OrderStatusType) common.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return common.StatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return common.StatusPartial
	case binance.OrderStatusTypeFilled:
		return common.StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return common.StatusCanceled
	case binance.OrderStatusTypeRejected:
		return common.StatusRejected
	case binance.OrderStatusTypeExpired:
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func averagePrice(quote, qty string) float64 {
	q, err := decimal.NewFromString(qty)
	if err != nil || q.IsZero() {
		return 0
	}
	total, err := decimal.NewFromString(quote)
	if err != nil {
		return 0
	}
	return total.Div(q).InexactFloat64()
}

var errNoSymbol = errors.New("symbol not listed")
