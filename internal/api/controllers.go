package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signal-engine/internal/backtest"
	"signal-engine/internal/events"
	"signal-engine/internal/position"
	"signal-engine/pkg/config"
)

const backtestTimeout = 15 * time.Minute

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

// Positions & emergency controls

func (s *Server) getPositions(c *gin.Context) {
	list := s.engine.Positions(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"positions": list, "count": len(list)})
}

func (s *Server) getPendingOrders(c *gin.Context) {
	list := s.engine.PendingOrders()
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

func (s *Server) closePosition(c *gin.Context) {
	trade, err := s.engine.ClosePosition(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, position.ErrNotFound):
		respondError(c, http.StatusNotFound, "POSITION_NOT_FOUND", err.Error())
	case errors.Is(err, position.ErrNotOpen):
		respondError(c, http.StatusConflict, "POSITION_NOT_OPEN", err.Error())
	case err != nil:
		respondError(c, http.StatusBadGateway, "CLOSE_FAILED", err.Error())
	default:
		c.JSON(http.StatusOK, trade)
	}
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual (api)"
	}
	s.log.Warn("emergency stop requested", zap.String("user", CurrentUserID(c)), zap.String("reason", req.Reason))
	if err := s.engine.EmergencyStop(c.Request.Context(), req.Reason); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EMERGENCY_STOP_INCOMPLETE", "error": err.Error(), "status": s.engine.Status()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "halted", "system": s.engine.Status()})
}

func (s *Server) resume(c *gin.Context) {
	s.engine.Resume()
	s.log.Info("trading resumed", zap.String("user", CurrentUserID(c)))
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// Statistics

func (s *Server) getFilterStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.FilterStats())
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Risk(c.Request.Context()))
}

func (s *Server) getPerformance(c *gin.Context) {
	if s.ledger == nil {
		respondError(c, http.StatusNotFound, "NO_LEDGER", "performance ledger is disabled")
		return
	}
	c.JSON(http.StatusOK, s.ledger.Performance())
}

func (s *Server) getTrades(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []any{}, "count": 0})
		return
	}
	list, err := s.trades.ListClosedPositions(c.Request.Context(), queryLimit(c, 50, 500))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": list, "count": len(list)})
}

func (s *Server) getSystem(c *gin.Context) {
	if s.metrics == nil {
		respondError(c, http.StatusNotFound, "NO_METRICS", "metrics are disabled")
		return
	}
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// resetStats clears the filter counters and restarts the ledger.
func (s *Server) resetStats(c *gin.Context) {
	var req struct {
		Balance float64 `json:"balance"`
	}
	_ = c.ShouldBindJSON(&req)
	s.engine.ResetFilterStats()
	if s.ledger != nil {
		if err := s.ledger.Reset(req.Balance); err != nil {
			respondError(c, http.StatusInternalServerError, "RESET_FAILED", err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// Configuration

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.config.Snapshot())
}

func (s *Server) updateConfig(c *gin.Context) {
	var values map[string]float64
	if err := c.ShouldBindJSON(&values); err != nil || len(values) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "expected a JSON object of numeric settings")
		return
	}
	res := s.config.Update(values)
	status := http.StatusOK
	if len(res.Applied) == 0 {
		status = http.StatusBadRequest
	}
	s.log.Info("config updated", zap.Strings("applied", res.Applied), zap.Int("rejected", len(res.Rejected)))
	c.JSON(status, gin.H{"result": res, "config": s.config.Snapshot()})
}

func (s *Server) getPresets(c *gin.Context) {
	c.JSON(http.StatusOK, s.config.Presets())
}

func (s *Server) applyPreset(c *gin.Context) {
	cfg, err := s.config.ApplyPreset(c.Param("name"))
	if errors.Is(err, config.ErrUnknownPreset) {
		respondError(c, http.StatusNotFound, "UNKNOWN_PRESET", err.Error())
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.log.Info("preset applied", zap.String("preset", c.Param("name")))
	c.JSON(http.StatusOK, gin.H{"preset": c.Param("name"), "config": cfg})
}

func (s *Server) toggleAI(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "enabled is required")
		return
	}
	s.config.SetAIEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"aiEnabled": *req.Enabled})
}

// Backtests

type backtestRequest struct {
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
	InitialBalance float64 `json:"initialBalance"`
	USDTPerTrade   float64 `json:"usdtPerTrade"`
}

// parseDate accepts 2006-01-02 or RFC3339. Empty yields the zero time.
func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (r backtestRequest) options() (backtest.Options, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return backtest.Options{}, err
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return backtest.Options{}, err
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return backtest.Options{}, errors.New("endDate must be after startDate")
	}
	return backtest.Options{
		Symbol:         r.Symbol,
		Timeframe:      r.Timeframe,
		Start:          start,
		End:            end,
		InitialBalance: r.InitialBalance,
		USDTPerTrade:   r.USDTPerTrade,
	}, nil
}

// runTracker allows one API-started backtest at a time.
type runTracker struct {
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func newRunTracker() *runTracker { return &runTracker{} }

func (r *runTracker) start(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		fn()
	}()
	return true
}

func (r *runTracker) wait() { r.wg.Wait() }

// launch runs fn in the background and publishes the outcome.
func (s *Server) launch(c *gin.Context, label string, fn func(ctx context.Context) (*backtest.Report, error)) {
	started := s.runs.start(func() {
		ctx, cancel := context.WithTimeout(context.Background(), backtestTimeout)
		defer cancel()
		rep, err := fn(ctx)
		if err != nil {
			s.log.Warn("backtest failed", zap.String("run", label), zap.Error(err))
			s.publish(events.EventBacktestFinished, gin.H{"run": label, "error": err.Error()})
			return
		}
		s.log.Info("backtest finished", zap.String("run", label), zap.String("id", rep.ID),
			zap.Int("trades", len(rep.Result.Trades)))
		s.publish(events.EventBacktestFinished, gin.H{"run": label, "id": rep.ID, "result": rep.Result})
	})
	if !started {
		respondError(c, http.StatusConflict, "BACKTEST_RUNNING", backtest.ErrRunning.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "run": label})
}

func (s *Server) publish(e events.Event, payload any) {
	if s.bus != nil {
		s.bus.Publish(e, payload)
	}
}

func (s *Server) runBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	opts, err := req.options()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_DATES", err.Error())
		return
	}
	s.launch(c, "custom", func(ctx context.Context) (*backtest.Report, error) {
		return s.backtest.Run(ctx, opts)
	})
}

func (s *Server) runBacktestPreset(c *gin.Context) {
	name := c.Param("name")
	if _, err := backtest.PresetOptions(name, "", time.Now()); err != nil {
		respondError(c, http.StatusNotFound, "UNKNOWN_PRESET", err.Error())
		return
	}
	symbol := c.Query("symbol")
	s.launch(c, name, func(ctx context.Context) (*backtest.Report, error) {
		return s.backtest.RunPreset(ctx, name, symbol)
	})
}

func (s *Server) getBacktestResults(c *gin.Context) {
	rep, err := s.backtest.Latest()
	if err != nil {
		respondError(c, http.StatusNotFound, "NO_RESULTS", err.Error())
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) getBacktestHistory(c *gin.Context) {
	runs, err := s.backtest.History(c.Request.Context(), queryLimit(c, 20, 200))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}
