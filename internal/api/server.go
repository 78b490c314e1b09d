// Package api exposes the signal webhook, the operator REST API, the event
// websocket and the prometheus endpoint over gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"signal-engine/internal/backtest"
	"signal-engine/internal/engine"
	"signal-engine/internal/events"
	"signal-engine/internal/monitor"
	"signal-engine/internal/simulation"
	"signal-engine/pkg/config"
	"signal-engine/pkg/db"
)

// ConfigStore is the runtime trading configuration. *config.Store implements it.
type ConfigStore interface {
	Snapshot() config.Trading
	Update(values map[string]float64) config.UpdateResult
	ApplyPreset(name string) (config.Trading, error)
	Presets() map[string]config.Preset
	SetAIEnabled(on bool)
}

// Backtester runs and lists backtests. *backtest.Service implements it.
type Backtester interface {
	Run(ctx context.Context, opts backtest.Options) (*backtest.Report, error)
	RunPreset(ctx context.Context, name, symbol string) (*backtest.Report, error)
	Latest() (*backtest.Report, error)
	History(ctx context.Context, limit int) ([]db.BacktestRun, error)
}

// Ledger is the performance ledger. *simulation.Ledger implements it.
type Ledger interface {
	Performance() simulation.Performance
	Reset(balance float64) error
}

// TradeHistory lists archived trades. *db.Database implements it.
type TradeHistory interface {
	ListClosedPositions(ctx context.Context, limit int) ([]db.ClosedPosition, error)
}

// Options configures the server.
type Options struct {
	Engine    engine.Service
	Config    ConfigStore
	Backtest  Backtester
	Ledger    Ledger
	Trades    TradeHistory
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Logger    *zap.Logger
	Auth      AuthConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
}

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router *gin.Engine

	engine   engine.Service
	config   ConfigStore
	backtest Backtester
	ledger   Ledger
	trades   TradeHistory
	bus      *events.Bus
	metrics  *monitor.Metrics
	log      *zap.Logger
	auth     AuthConfig
	webhook  WebhookConfig
	limiter  *ipLimiter
	runs     *runTracker
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("api")
	s := &Server{
		Router:   gin.New(),
		engine:   opts.Engine,
		config:   opts.Config,
		backtest: opts.Backtest,
		ledger:   opts.Ledger,
		trades:   opts.Trades,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		log:      log,
		auth:     opts.Auth,
		webhook:  opts.Webhook,
		limiter:  newIPLimiter(opts.RateLimit),
		runs:     newRunTracker(),
	}

	// Middleware stack (order matters!)
	s.Router.Use(gin.Recovery())
	s.Router.Use(RequestIDMiddleware())
	s.Router.Use(RequestLogger(log))
	s.Router.Use(RateLimitMiddleware(s.limiter))
	s.Router.Use(TimeoutMiddleware(30 * time.Second))
	s.Router.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	wh := s.Router.Group("/webhook")
	{
		wh.POST("/tradingview", s.tradingView)
		wh.POST("/test", s.webhookTest)
	}

	api := s.Router.Group("/api")
	api.POST("/auth/token", s.issueToken)

	protected := api.Group("")
	protected.Use(AuthMiddleware(s.auth.JWTSecret))
	{
		protected.GET("/status", s.getStatus)

		protected.GET("/positions", s.getPositions)
		protected.GET("/orders/pending", s.getPendingOrders)
		protected.POST("/positions/:id/close", s.closePosition)
		protected.POST("/emergency-stop", s.emergencyStop)
		protected.POST("/resume", s.resume)

		stats := protected.Group("/stats")
		{
			stats.GET("/filters", s.getFilterStats)
			stats.GET("/risk", s.getRisk)
			stats.GET("/performance", s.getPerformance)
			stats.GET("/trades", s.getTrades)
			stats.GET("/system", s.getSystem)
			stats.POST("/reset", s.resetStats)
		}

		cfg := protected.Group("/config")
		{
			cfg.GET("", s.getConfig)
			cfg.POST("", s.updateConfig)
			cfg.GET("/presets", s.getPresets)
			cfg.POST("/preset/:name", s.applyPreset)
			cfg.POST("/ai", s.toggleAI)
		}

		bt := protected.Group("/backtest")
		{
			bt.POST("", s.runBacktest)
			bt.POST("/preset/:name", s.runBacktestPreset)
			bt.GET("/results", s.getBacktestResults)
			bt.GET("/history", s.getBacktestHistory)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"mode":       st.Mode,
		"halted":     st.Halted,
		"serverTime": st.ServerTime,
	})
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler { return s.Router }

// Wait blocks until background backtests started by the API finish.
func (s *Server) Wait() { s.runs.wait() }
