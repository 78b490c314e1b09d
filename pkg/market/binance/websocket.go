package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// StreamClient manages lightweight streaming from Binance public websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
	log       *zap.Logger
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, logger *zap.Logger) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
		log:       logger,
	}
}

// SubscribeTicker opens one mini-ticker stream. The channel closes when the
// connection drops, the context ends or stop is called.
func (c *StreamClient) SubscribeTicker(ctx context.Context, symbol string) (<-chan Ticker, func(), error) {
	// Binance requires lowercase symbols for WebSocket streams
	stream := fmt.Sprintf("%s@miniTicker", strings.ToLower(symbol))
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan Ticker, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(out)
		defer stop()
		go func() {
			<-ctx.Done()
			stop()
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!strings.Contains(err.Error(), "use of closed network connection") {
					c.log.Warn("binance ws read error", zap.String("symbol", symbol), zap.Error(err))
				}
				return
			}

			t, err := parseMiniTicker(msg)
			if err != nil {
				c.log.Debug("binance ws parse error", zap.Error(err))
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// WatchTicker keeps a mini-ticker stream alive, redialing with exponential
// backoff until ctx is cancelled.
func (c *StreamClient) WatchTicker(ctx context.Context, symbol string) <-chan Ticker {
	out := make(chan Ticker, 100)
	go func() {
		defer close(out)
		b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
		for ctx.Err() == nil {
			ch, stop, err := c.SubscribeTicker(ctx, symbol)
			if err != nil {
				wait := b.Duration()
				c.log.Warn("binance ws dial failed", zap.String("symbol", symbol), zap.Duration("retry_in", wait), zap.Error(err))
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return
				}
			}
			b.Reset()
			for t := range ch {
				select {
				case out <- t:
				case <-ctx.Done():
				}
			}
			stop()
		}
	}()
	return out
}

func parseMiniTicker(msg []byte) (Ticker, error) {
	var raw miniTickerMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Ticker{}, err
	}
	if raw.Symbol == "" {
		return Ticker{}, fmt.Errorf("missing symbol in %q", raw.Event)
	}
	price, err := strconv.ParseFloat(raw.Close, 64)
	if err != nil {
		return Ticker{}, fmt.Errorf("parse close %q: %w", raw.Close, err)
	}
	return Ticker{Symbol: raw.Symbol, Price: price, Time: raw.EventTime}, nil
}
