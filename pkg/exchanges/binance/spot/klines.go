package spot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signal-engine/pkg/exchanges/common"
)

// maxKlines is the per-request cap of the klines endpoint.
const maxKlines = 1000

// Kline is a parsed candlestick.
type Kline struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// GetKlines fetches up to limit candles. Zero start/end are omitted.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, start, end int64) ([]Kline, error) {
	if limit <= 0 || limit > maxKlines {
		limit = maxKlines
	}
	svc := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if start > 0 {
		svc = svc.StartTime(start)
	}
	if end > 0 {
		svc = svc.EndTime(end)
	}
	if err := c.limiter.Wait(ctx, 2); err != nil {
		return nil, common.WrapError("klines", err)
	}
	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, common.WrapError("klines", err)
	}
	out := make([]Kline, 0, len(raw))
	for _, k := range raw {
		out = append(out, Kline{
			OpenTime: k.OpenTime,
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return out, nil
}

// GetKlinesRange pages through [start, end] in maxKlines batches.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]Kline, error) {
	from := start.UnixMilli()
	to := end.UnixMilli()
	var out []Kline
	for from <= to {
		batch, err := c.GetKlines(ctx, symbol, interval, maxKlines, from, to)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
		last := batch[len(batch)-1].OpenTime
		if last < from || len(batch) < maxKlines {
			break
		}
		from = last + 1
		c.log.Debug("klines page", zap.String("symbol", symbol), zap.Int("bars", len(out)))
	}
	return out, nil
}
