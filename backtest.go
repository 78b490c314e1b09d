package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"signal-engine/internal/backtest"
	"signal-engine/internal/filter"
	"signal-engine/internal/market"
	"signal-engine/pkg/exchanges/binance/spot"
)

func backtestCmd() *cobra.Command {
	var (
		opts      backtest.Options
		startDate string
		endDate   string
		preset    string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay AlphaTrend signals through the filter pipeline on historical bars",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if opts.Start, err = parseDate(startDate); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if opts.End, err = parseDate(endDate); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if !opts.Start.IsZero() && !opts.End.IsZero() && !opts.End.After(opts.Start) {
				return errors.New("--end must be after --start")
			}

			store, err := tradingStore(cfg)
			if err != nil {
				return err
			}
			if preset != "" {
				if _, err := store.ApplyPreset(preset); err != nil {
					return err
				}
			}
			if output == "" {
				output = cfg.BacktestResults
			}

			client := spot.New(spot.Config{Testnet: cfg.BinanceTestnet}, logger)
			source := market.ExchangeSource{Client: client}
			// The AI stage is skipped in offline runs.
			pipeline := filter.NewPipeline(source, store.Snapshot, nil, cfg.AITimeout, logger)
			sim, err := newSimulator(cfg, source, pipeline, store.Snapshot, logger)
			if err != nil {
				return err
			}
			svc := backtest.NewService(sim, output, nil, store.Snapshot, logger)

			rep, err := svc.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			logger.Info("backtest finished", zap.String("id", rep.ID), zap.String("output", output))
			printResult(rep.Result)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Symbol, "symbol", "s", "", "Symbol, e.g. ETHUSDT")
	f.StringVarP(&opts.Timeframe, "timeframe", "t", "", "Bar interval, e.g. 15m")
	f.StringVar(&startDate, "start", "", "Start date (YYYY-MM-DD)")
	f.StringVar(&endDate, "end", "", "End date (YYYY-MM-DD)")
	f.StringVar(&preset, "preset", "", "Trading preset applied before the run")
	f.Float64Var(&opts.InitialBalance, "balance", 0, "Initial balance in USDT")
	f.Float64Var(&opts.USDTPerTrade, "usdt", 0, "USDT per trade")
	f.StringVarP(&output, "output", "o", "", "Report file (defaults to BACKTEST_RESULTS)")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func printResult(r *backtest.Result) {
	fmt.Printf("%s %s  %s -> %s  (%d bars)\n", r.Symbol, r.Timeframe,
		r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"), r.Bars)
	fmt.Printf("signals: %d total, %d approved, %d rejected\n",
		r.TotalSignals, r.ApprovedSignals, r.RejectedSignals)
	fmt.Printf("trades:  %d (%d winning, win rate %.2f%%)\n",
		len(r.Trades), r.WinningTrades, r.WinRate)
	fmt.Printf("pnl:     %+.2f USDT (profit %.2f, loss %.2f)\n",
		r.NetProfit(), r.TotalProfit, r.TotalLoss)
	fmt.Printf("balance: %.2f -> %.2f  max drawdown %.2f%%\n",
		r.InitialBalance, r.FinalBalance, r.MaxDrawdown)
}
