package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"signal-engine/internal/ai"
	"signal-engine/internal/api"
	"signal-engine/internal/backtest"
	"signal-engine/internal/engine"
	"signal-engine/internal/events"
	"signal-engine/internal/filter"
	"signal-engine/internal/jobs"
	"signal-engine/internal/market"
	"signal-engine/internal/monitor"
	"signal-engine/internal/notify"
	"signal-engine/internal/order"
	"signal-engine/internal/persistence"
	"signal-engine/internal/position"
	"signal-engine/internal/reconciliation"
	"signal-engine/internal/risk"
	"signal-engine/internal/simulation"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
	"signal-engine/pkg/db"
	"signal-engine/pkg/exchanges/binance/spot"
	"signal-engine/pkg/exchanges/common"
	"signal-engine/pkg/i18n"
	wsmarket "signal-engine/pkg/market/binance"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return serve(ctx, cancel, cfg, logger)
}

// tradingStore loads trading settings from the environment and presets from
// the optional YAML file.
func tradingStore(cfg *config.Config) (*config.Store, error) {
	store := config.NewStore(config.LoadTrading())
	presets, err := config.LoadPresets(cfg.PresetsFile)
	if err != nil {
		return nil, err
	}
	store.SetPresets(presets)
	return store, nil
}

// newSimulator builds the backtest simulator, applying STRATEGY_CONFIG when set.
func newSimulator(cfg *config.Config, source market.RangeSource, eval filter.Evaluator, settings func() config.Trading, logger *zap.Logger) (*backtest.Simulator, error) {
	sim := backtest.NewSimulator(source, eval, settings, logger)
	if cfg.StrategyConfig != "" {
		params, err := strategy.LoadConfig(cfg.StrategyConfig)
		if err != nil {
			return nil, err
		}
		sim.Strategy = strategy.AlphaTrend{Params: params}
	}
	return sim, nil
}

func serve(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger) error {
	i18n.SetLanguage(i18n.Language(cfg.Language))

	store, err := tradingStore(cfg)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	bus := events.NewBus()
	client := spot.New(spot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	}, logger)
	exchange := market.ExchangeSource{Client: client}

	var (
		prices  market.PriceSource = exchange
		track   func(string)
		untrack func(string)
		start   func(context.Context)
	)
	if cfg.UseMockFeed {
		mock := &market.MockFeed{Bus: bus, Log: logger}
		prices = mock
		track, start = mock.Track, mock.Start
	} else {
		feed := &market.Feed{
			Stream:       wsmarket.NewStreamClient(cfg.BinanceTestnet, logger),
			Prices:       exchange,
			Bus:          bus,
			PollInterval: cfg.OrderPollInterval,
			Log:          logger,
		}
		track, untrack, start = feed.Track, feed.Untrack, feed.Start
	}

	var gw common.Gateway
	venue := "binance-spot"
	if cfg.Mode == config.ModeLive {
		gw = client
	} else {
		gw = order.NewPaperGateway(prices, order.PaperConfig{
			InitialBalance: cfg.PaperInitialBalance,
			FeeRate:        cfg.PaperFeeRate,
			SlippageBps:    cfg.PaperSlippageBps,
		}, logger)
		venue = "paper"
	}

	cached := market.NewCachedSource(exchange, market.DefaultCacheTTL)
	var reasoner filter.Reasoner
	if cfg.OpenAIAPIKey != "" {
		reasoner = ai.New(cfg.OpenAIAPIKey, logger,
			ai.WithBaseURL(cfg.OpenAIBaseURL),
			ai.WithModel(cfg.OpenAIModel),
			ai.WithTimeout(cfg.AITimeout),
		)
	} else {
		logger.Info("OPENAI_API_KEY not set; AI stage disabled")
	}
	pipeline := filter.NewPipeline(cached, store.Snapshot, reasoner, cfg.AITimeout, logger)

	positions := position.NewManager(gw, store.Snapshot, bus, position.Options{ProtectiveOrders: cfg.ProtectiveOrders}, logger)
	tracker := reconciliation.NewTracker(gw, positions, database, store.Snapshot, logger)
	if n, err := tracker.Restore(ctx); err != nil {
		logger.Warn("restore pending orders failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("restored pending orders", zap.Int("count", n))
	}
	exposure := engine.Exposure{Positions: positions, Pending: tracker}
	gate := risk.NewGate(exposure, engine.GatewayBalance(gw), store.Snapshot, engine.RiskStore{DB: database}, logger)

	var (
		sink notify.Sink = notify.Nop{}
		bot  *notify.Telegram
	)
	if cfg.TelegramToken != "" {
		if bot, err = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger); err != nil {
			logger.Warn("telegram disabled", zap.Error(err))
			bot = nil
		} else {
			sink = bot
		}
	}
	notifier := notify.New(sink, logger)

	writer := persistence.NewSignalWriter(database, 50, 2*time.Second, logger)
	eng := engine.NewImpl(engine.Config{
		Pipeline:  pipeline,
		Gate:      gate,
		Positions: positions,
		Pending:   tracker,
		Gateway:   gw,
		Settings:  store.Snapshot,
		Bus:       bus,
		Notifier:  notifier,
		Signals:   writer,
		Archive:   database,
		Meta:      engine.SystemStatus{Mode: string(cfg.Mode), Venue: venue, Version: version},
		Logger:    logger,
	})

	ledger := simulation.NewLedger(cfg.SimulationSnapshot, cfg.PaperInitialBalance, logger)
	if err := ledger.Load(); err != nil {
		logger.Warn("load simulation ledger failed", zap.Error(err))
	}
	positions.OnClose(ledger.Hook())

	sim, err := newSimulator(cfg, exchange, pipeline, store.Snapshot, logger)
	if err != nil {
		return err
	}
	backtests := backtest.NewService(sim, cfg.BacktestResults, database, store.Snapshot, logger)

	metrics := monitor.NewMetrics()
	metrics.Gauges(positions.ActiveCount, tracker.Len, bus.Dropped)

	sched, err := jobs.New(jobs.Config{
		Orders:   tracker,
		Children: positions,
		Cache:    cached,
		Summary:  database,
		Reporter: notifier,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Engine:   eng,
		Config:   store,
		Backtest: backtests,
		Ledger:   ledger,
		Trades:   database,
		Bus:      bus,
		Metrics:  metrics,
		Logger:   logger,
		Auth: api.AuthConfig{
			JWTSecret:         cfg.JWTSecret,
			AdminUser:         cfg.AdminUser,
			AdminPasswordHash: cfg.AdminPasswordHash,
		},
		Webhook: api.WebhookConfig{
			Secret:         cfg.WebhookSecret,
			AllowedSymbols: cfg.AllowedSymbols,
		},
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	background(positions.Run)
	background(monitor.New(bus, metrics, logger).Run)
	background(func(ctx context.Context) { followSymbols(ctx, bus, exposure, track, untrack) })
	for _, p := range tracker.Pending() {
		track(p.Signal.Symbol)
	}
	start(ctx)
	sched.Start()

	if bot != nil {
		bot.HandleCommands(eng)
		go bot.Start()
	}
	notifier.Started()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("mode", string(cfg.Mode)),
			zap.String("venue", venue),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("http server failed", zap.Error(runErr))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	server.Wait()
	eng.Shutdown()
	sched.Stop()
	if bot != nil {
		bot.Stop()
	}
	cancel()
	wg.Wait()
	positions.Shutdown()
	if err := writer.Close(); err != nil {
		logger.Warn("flush signal log", zap.Error(err))
	}
	notifier.Wait()
	logger.Info("shutdown complete")
	return runErr
}

// followSymbols keeps the price feed subscribed to every symbol with an open
// position or a resting entry.
func followSymbols(ctx context.Context, bus *events.Bus, exposure risk.Exposure, track, untrack func(string)) {
	stream, unsub := bus.SubscribeMany([]events.Event{events.EventPositionOpened, events.EventPositionClosed}, 64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			switch v := env.Payload.(type) {
			case position.Position:
				track(v.Symbol)
			case position.ClosedTrade:
				if untrack != nil && exposure.SymbolCount(v.Position.Symbol) == 0 {
					untrack(v.Position.Symbol)
				}
			}
		}
	}
}
