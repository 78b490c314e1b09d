package spot

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type symbolFilters struct {
	stepSize decimal.Decimal
	tickSize decimal.Decimal
}

// roundQty truncates q down to a multiple of the lot step.
func (f symbolFilters) roundQty(q float64) decimal.Decimal {
	return roundDown(decimal.NewFromFloat(q), f.stepSize)
}

// roundPrice truncates p down to a multiple of the tick size.
func (f symbolFilters) roundPrice(p float64) decimal.Decimal {
	return roundDown(decimal.NewFromFloat(p), f.tickSize)
}

func roundDown(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func (c *Client) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	if err := c.limiter.Wait(ctx, 10); err != nil {
		return symbolFilters{}, err
	}
	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return symbolFilters{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if lot := s.LotSizeFilter(); lot != nil {
			f.stepSize, _ = decimal.NewFromString(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.tickSize, _ = decimal.NewFromString(pf.TickSize)
		}
		c.mu.Lock()
		c.filters[symbol] = f
		c.mu.Unlock()
		return f, nil
	}
	return symbolFilters{}, fmt.Errorf("%w: %s", errNoSymbol, symbol)
}
