package order

import (
	"context"
	"errors"
	"math"
	"testing"

	"signal-engine/internal/market"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/exchanges/common"
)

func TestCalculateBuyMarket(t *testing.T) {
	sig := strategy.Signal{Action: strategy.ActionBuy, Symbol: "ETHUSDT", Timeframe: "15m", Price: 100}
	p, err := Calculate(sig, Sizing{USDTAmount: 10, TPPercent: 0.5, SLPercent: 0.3})
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if p.EntryPrice != 100 {
		t.Fatalf("EntryPrice=%v, expected 100", p.EntryPrice)
	}
	if p.Type != common.OrderTypeMarket {
		t.Fatalf("Type=%v, expected MARKET", p.Type)
	}
	if p.TakeProfitPrice != 100.5 {
		t.Fatalf("TakeProfitPrice=%v, expected 100.5", p.TakeProfitPrice)
	}
	if p.StopPrice != 99.7 {
		t.Fatalf("StopPrice=%v, expected 99.7", p.StopPrice)
	}
	if p.Quantity != 0.1 || p.Side != common.SideBuy || p.TimeInForce != common.TIFGTC {
		t.Fatalf("params=%+v", p)
	}
	if req := p.Request("cid"); req.Price != 0 {
		t.Fatalf("market request should not carry a price: %+v", req)
	}
}

func TestCalculateSellLimit(t *testing.T) {
	sig := strategy.Signal{Action: strategy.ActionSell, Symbol: "ETHUSDT", Timeframe: "15m", Price: 100}
	p, err := Calculate(sig, Sizing{USDTAmount: 10, TPPercent: 0.5, SLPercent: 0.3, EntryDistancePercent: 0.5})
	if err != nil {
		t.Fatalf("Calculate error: %v", err)
	}
	if p.Type != common.OrderTypeLimit || p.Side != common.SideSell {
		t.Fatalf("params=%+v, expected SELL LIMIT", p)
	}
	checks := []struct {
		name          string
		got, expected float64
	}{
		{"entry", p.EntryPrice, 100.5},
		{"tp", p.TakeProfitPrice, 99.9975},
		{"sl", p.StopPrice, 100.8015},
		{"qty", p.Quantity, 10 / 100.5},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.expected) > 1e-9 {
			t.Fatalf("%s=%v, expected %v", c.name, c.got, c.expected)
		}
	}
	if req := p.Request(""); req.Price != p.EntryPrice || req.TimeInForce != common.TIFGTC {
		t.Fatalf("limit request=%+v", req)
	}
}

func TestCalculateInvalidPrice(t *testing.T) {
	for _, price := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		sig := strategy.Signal{Action: strategy.ActionBuy, Symbol: "ETHUSDT", Price: price}
		if _, err := Calculate(sig, Sizing{USDTAmount: 10}); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("price %v: err=%v, expected ErrInvalidPrice", price, err)
		}
	}
}

func TestPaperGatewayMarketAndResting(t *testing.T) {
	prices := market.NewStatic()
	prices.SetPrice("ETHUSDT", 100)
	g := NewPaperGateway(prices, PaperConfig{InitialBalance: 1000}, nil)
	ctx := context.Background()

	res, err := g.PlaceOrder(ctx, common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if res.Status != common.StatusFilled || res.FillPrice != 100 {
		t.Fatalf("market result=%+v", res)
	}
	bal, _ := g.GetBalance(ctx)
	if bal.Free != 900 {
		t.Fatalf("balance=%v, expected 900", bal.Free)
	}

	tp, err := g.PlaceOrder(ctx, common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideSell, Type: common.OrderTypeLimit, Qty: 1, Price: 101})
	if err != nil || tp.Status != common.StatusNew {
		t.Fatalf("limit result=%+v err=%v", tp, err)
	}
	if st, _ := g.GetOrderStatus(ctx, "ETHUSDT", tp.OrderID); st.Status != common.StatusNew {
		t.Fatalf("limit should rest at 100, got %s", st.Status)
	}
	prices.SetPrice("ETHUSDT", 101.5)
	st, err := g.GetOrderStatus(ctx, "ETHUSDT", tp.OrderID)
	if err != nil || st.Status != common.StatusFilled || st.FillPrice != 101 {
		t.Fatalf("limit after cross=%+v err=%v", st, err)
	}
	if err := g.CancelOrder(ctx, "ETHUSDT", tp.OrderID); !errors.Is(err, common.ErrGateway) {
		t.Fatalf("cancel filled order err=%v, expected gateway error", err)
	}
	bal, _ = g.GetBalance(ctx)
	if bal.Free != 1001 {
		t.Fatalf("balance=%v, expected 1001", bal.Free)
	}
}

func TestPaperGatewayInsufficientBalance(t *testing.T) {
	prices := market.NewStatic()
	prices.SetPrice("BTCUSDT", 50000)
	g := NewPaperGateway(prices, PaperConfig{InitialBalance: 100}, nil)
	_, err := g.PlaceOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	if !errors.Is(err, common.ErrGateway) {
		t.Fatalf("err=%v, expected gateway error", err)
	}
}
