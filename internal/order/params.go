package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
	"signal-engine/pkg/exchanges/common"
)

// ErrInvalidPrice is returned for non-positive or non-numeric signal prices.
var ErrInvalidPrice = strategy.ErrInvalidPrice

// ErrInvalidSizing is returned when the configured order size is unusable.
var ErrInvalidSizing = errors.New("invalid sizing")

// Sizing is the slice of trading config the calculator needs.
type Sizing struct {
	USDTAmount           float64
	TPPercent            float64
	SLPercent            float64
	EntryDistancePercent float64
}

// SizingFrom extracts Sizing from the trading config.
func SizingFrom(t config.Trading) Sizing {
	return Sizing{
		USDTAmount:           t.USDTAmount,
		TPPercent:            t.TPPercent,
		SLPercent:            t.SLPercent,
		EntryDistancePercent: t.EntryDistancePercent,
	}
}

// Params are the derived order parameters for an approved signal.
type Params struct {
	Symbol          string             `json:"symbol"`
	Side            common.Side        `json:"side"`
	Type            common.OrderType   `json:"orderType"`
	Quantity        float64            `json:"quantity"`
	EntryPrice      float64            `json:"entryPrice"`
	StopPrice       float64            `json:"stopPrice"`
	TakeProfitPrice float64            `json:"takeProfitPrice"`
	TimeInForce     common.TimeInForce `json:"timeInForce"`
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(hundred)
}

// Calculate derives entry, quantity and TP/SL prices. Entry is offset from the
// signal price by the entry distance (below for BUY, above for SELL); TP and
// SL sit on either side of entry and flip with the action.
func Calculate(sig strategy.Signal, s Sizing) (Params, error) {
	if err := strategy.ValidatePrice(sig.Price); err != nil {
		return Params{}, err
	}
	if s.USDTAmount <= 0 {
		return Params{}, fmt.Errorf("%w: usdt amount %v", ErrInvalidSizing, s.USDTAmount)
	}
	if s.EntryDistancePercent < 0 || s.TPPercent < 0 || s.SLPercent < 0 {
		return Params{}, fmt.Errorf("%w: negative percentage", ErrInvalidSizing)
	}

	price := decimal.NewFromFloat(sig.Price)
	dist := pct(s.EntryDistancePercent)
	tp := pct(s.TPPercent)
	sl := pct(s.SLPercent)

	var entry, tpPrice, slPrice decimal.Decimal
	if sig.Action == strategy.ActionSell {
		entry = price.Mul(one.Add(dist))
		tpPrice = entry.Mul(one.Sub(tp))
		slPrice = entry.Mul(one.Add(sl))
	} else {
		entry = price.Mul(one.Sub(dist))
		tpPrice = entry.Mul(one.Add(tp))
		slPrice = entry.Mul(one.Sub(sl))
	}
	if !entry.IsPositive() {
		return Params{}, fmt.Errorf("%w: entry %s", ErrInvalidPrice, entry)
	}

	p := Params{
		Symbol:          sig.Symbol,
		Side:            sig.Action.Side(),
		Type:            common.OrderTypeMarket,
		Quantity:        decimal.NewFromFloat(s.USDTAmount).Div(entry).InexactFloat64(),
		EntryPrice:      entry.InexactFloat64(),
		StopPrice:       slPrice.InexactFloat64(),
		TakeProfitPrice: tpPrice.InexactFloat64(),
		TimeInForce:     common.TIFGTC,
	}
	if s.EntryDistancePercent > 0 {
		p.Type = common.OrderTypeLimit
	}
	return p, nil
}

// Request converts params into an entry order. Price is only sent for limits.
func (p Params) Request(clientID string) common.OrderRequest {
	req := common.OrderRequest{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Type:     p.Type,
		Qty:      p.Quantity,
		ClientID: clientID,
	}
	if p.Type == common.OrderTypeLimit {
		req.Price = p.EntryPrice
		req.TimeInForce = p.TimeInForce
	}
	return req
}
