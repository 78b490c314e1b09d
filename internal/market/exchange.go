package market

import (
	"context"
	"time"

	"signal-engine/pkg/exchanges/binance/spot"
)

// ExchangeSource serves bars and prices from the Binance spot REST API.
type ExchangeSource struct {
	Client *spot.Client
}

func toBars(klines []spot.Kline) []Bar {
	bars := make([]Bar, len(klines))
	for i, k := range klines {
		bars[i] = Bar{OpenTime: k.OpenTime, Open: k.Open, High: k.High, Low: k.Low, Close: k.Close, Volume: k.Volume}
	}
	return bars
}

func (s ExchangeSource) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	klines, err := s.Client.GetKlines(ctx, symbol, timeframe, limit, 0, 0)
	if err != nil {
		return nil, Unavailable(symbol, timeframe, err)
	}
	return toBars(klines), nil
}

func (s ExchangeSource) GetBarsRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error) {
	klines, err := s.Client.GetKlinesRange(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, Unavailable(symbol, timeframe, err)
	}
	return toBars(klines), nil
}

func (s ExchangeSource) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	return s.Client.GetMarketPrice(ctx, symbol)
}
