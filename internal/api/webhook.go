package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signal-engine/internal/engine"
	"signal-engine/internal/strategy"
)

// WebhookConfig guards signal ingestion.
type WebhookConfig struct {
	// Secret is compared with the X-Webhook-Secret header or the body
	// secret field. Empty disables the check.
	Secret string
	// AllowedSymbols are glob patterns such as "*USDT". Empty allows all.
	AllowedSymbols []string
}

type tradingViewRequest struct {
	Strategy  string  `json:"strategy"`
	Action    string  `json:"action" binding:"required"`
	Symbol    string  `json:"symbol" binding:"required"`
	Timeframe string  `json:"timeframe" binding:"required"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	Secret    string  `json:"secret"`
}

func (r tradingViewRequest) signal() strategy.Signal {
	return strategy.Signal{
		Strategy:  r.Strategy,
		Action:    strategy.Action(r.Action),
		Symbol:    r.Symbol,
		Timeframe: r.Timeframe,
		Price:     r.Price,
		Timestamp: r.Timestamp,
	}.Normalize()
}

// SymbolAllowed reports whether symbol matches one of patterns.
func SymbolAllowed(patterns []string, symbol string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(strings.ToUpper(p), symbol); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Server) secretOK(c *gin.Context, body string) bool {
	if s.webhook.Secret == "" {
		return true
	}
	got := c.GetHeader("X-Webhook-Secret")
	if got == "" {
		got = body
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.webhook.Secret)) == 1
}

// tradingView accepts a signal and hands it to the engine without waiting
// for the verdict.
func (s *Server) tradingView(c *gin.Context) {
	var req tradingViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if !s.secretOK(c, req.Secret) {
		s.log.Warn("invalid webhook secret", zap.String("ip", c.ClientIP()))
		respondError(c, http.StatusUnauthorized, "INVALID_SECRET", "unauthorized")
		return
	}

	sig := req.signal()
	if err := sig.Validate(); err != nil {
		code := "INVALID_SIGNAL"
		if errors.Is(err, strategy.ErrInvalidPrice) {
			code = "INVALID_PRICE"
		}
		respondError(c, http.StatusBadRequest, code, err.Error())
		return
	}
	if !SymbolAllowed(s.webhook.AllowedSymbols, sig.Symbol) {
		respondError(c, http.StatusForbidden, "SYMBOL_NOT_ALLOWED", "symbol "+sig.Symbol+" is not allowed")
		return
	}

	if err := s.engine.Submit(sig); err != nil {
		if errors.Is(err, engine.ErrStopped) {
			respondError(c, http.StatusServiceUnavailable, "ENGINE_STOPPED", err.Error())
			return
		}
		respondError(c, http.StatusBadRequest, "INVALID_SIGNAL", err.Error())
		return
	}
	s.log.Info("signal received",
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.String("timeframe", sig.Timeframe),
		zap.Float64("price", sig.Price))
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (s *Server) webhookTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}
