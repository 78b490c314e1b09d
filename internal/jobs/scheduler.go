// Package jobs runs the periodic maintenance work: order reconciliation,
// entry timeouts, the daily report and market cache eviction.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"signal-engine/internal/notify"
	"signal-engine/internal/reconciliation"
	"signal-engine/pkg/db"
)

// Schedules in UTC.
const (
	SpecOrderMonitor = "@every 5m"
	SpecOrderTimeout = "@every 1m"
	SpecDailyReport  = "59 23 * * *"
	SpecCacheClear   = "@hourly"
)

const jobTimeout = 2 * time.Minute

type OrderTracker interface {
	Reconcile(ctx context.Context) reconciliation.Report
	ExpireStale(ctx context.Context) reconciliation.Report
}

type ChildSyncer interface {
	SyncChildren(ctx context.Context) int
}

type CacheClearer interface {
	Clear() int
}

type Summarizer interface {
	Summarize(ctx context.Context, from, to time.Time) (db.DaySummary, error)
}

type Reporter interface {
	Daily(r notify.DailyReport)
}

// Config lists the job collaborators. Nil members disable their job.
type Config struct {
	Orders   OrderTracker
	Children ChildSyncer
	Cache    CacheClearer
	Summary  Summarizer
	Reporter Reporter
	Logger   *zap.Logger
	Now      func() time.Time
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger.Named("jobs")
	cl := cronLogger{log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	jobs := []struct {
		name    string
		spec    string
		enabled bool
		run     func(context.Context)
	}{
		{"order_monitor", SpecOrderMonitor, cfg.Orders != nil || cfg.Children != nil, s.MonitorOrders},
		{"order_timeout", SpecOrderTimeout, cfg.Orders != nil, s.CheckTimeouts},
		{"daily_report", SpecDailyReport, cfg.Summary != nil && cfg.Reporter != nil, s.DailyReport},
		{"cache_clear", SpecCacheClear, cfg.Cache != nil, func(context.Context) { s.ClearCache() }},
	}
	for _, j := range jobs {
		if !j.enabled {
			continue
		}
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
		log.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	return s, nil
}

// Len is the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// MonitorOrders polls resting entries and protective child orders.
func (s *Scheduler) MonitorOrders(ctx context.Context) {
	var rep reconciliation.Report
	if s.cfg.Orders != nil {
		rep = s.cfg.Orders.Reconcile(ctx)
	}
	synced := 0
	if s.cfg.Children != nil {
		synced = s.cfg.Children.SyncChildren(ctx)
	}
	if rep.Filled+rep.Dropped+rep.Errors+synced > 0 {
		s.log.Info("order monitor",
			zap.Int("checked", rep.Checked),
			zap.Int("filled", rep.Filled),
			zap.Int("dropped", rep.Dropped),
			zap.Int("errors", rep.Errors),
			zap.Int("childrenClosed", synced))
	}
}

// CheckTimeouts cancels entries older than the configured timeout.
func (s *Scheduler) CheckTimeouts(ctx context.Context) {
	rep := s.cfg.Orders.ExpireStale(ctx)
	if rep.Expired > 0 || rep.Errors > 0 {
		s.log.Info("order timeout check", zap.Int("expired", rep.Expired), zap.Int("errors", rep.Errors))
	}
}

// DailyReport sends the summary of the current UTC day.
func (s *Scheduler) DailyReport(ctx context.Context) {
	r, err := s.BuildDailyReport(ctx)
	if err != nil {
		s.log.Error("daily report failed", zap.Error(err))
		return
	}
	s.cfg.Reporter.Daily(r)
}

// BuildDailyReport aggregates the current UTC day.
func (s *Scheduler) BuildDailyReport(ctx context.Context) (notify.DailyReport, error) {
	now := s.cfg.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sum, err := s.cfg.Summary.Summarize(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return notify.DailyReport{}, err
	}
	r := notify.DailyReport{
		Date:            from.Format("2006-01-02"),
		TotalSignals:    sum.TotalSignals,
		ApprovedSignals: sum.ApprovedSignals,
		RejectedSignals: sum.TotalSignals - sum.ApprovedSignals,
		TotalPnL:        sum.TotalPnL,
		WinningTrades:   sum.WinningTrades,
		LosingTrades:    sum.LosingTrades,
	}
	if sum.Trades > 0 {
		r.WinRate = float64(sum.WinningTrades) / float64(sum.Trades) * 100
	}
	return r, nil
}

func (s *Scheduler) ClearCache() {
	n := s.cfg.Cache.Clear()
	s.log.Debug("market cache cleared", zap.Int("entries", n))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
