package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-engine/pkg/config"
	"signal-engine/pkg/db"
)

var (
	// ErrRunning is returned when a run is already in progress.
	ErrRunning = errors.New("backtest already running")
	// ErrNoResults means no run has been saved yet.
	ErrNoResults = errors.New("no backtest results")
)

// Archive keeps run summaries.
type Archive interface {
	SaveBacktestRun(ctx context.Context, r db.BacktestRun) error
	ListBacktestRuns(ctx context.Context, limit int) ([]db.BacktestRun, error)
}

// ReportConfig is the trading configuration a run used.
type ReportConfig struct {
	USDTPerTrade  float64 `json:"usdtPerTrade"`
	TPPercent     float64 `json:"tpPercent"`
	SLPercent     float64 `json:"slPercent"`
	ADXThreshold  float64 `json:"adxThreshold"`
	RVOLThreshold float64 `json:"rvolThreshold"`
}

// Report is the saved form of a run.
type Report struct {
	ID        string       `json:"id"`
	Result    *Result      `json:"result"`
	Timestamp time.Time    `json:"timestamp"`
	Config    ReportConfig `json:"config"`
}

// Service runs one backtest at a time and persists the latest report.
type Service struct {
	sim      *Simulator
	path     string
	archive  Archive
	settings func() config.Trading
	log      *zap.Logger
	running  sync.Mutex
}

// NewService creates a service. archive may be nil.
func NewService(sim *Simulator, resultsPath string, archive Archive, settings func() config.Trading, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sim:      sim,
		path:     resultsPath,
		archive:  archive,
		settings: settings,
		log:      logger.Named("backtest"),
	}
}

// Run executes opts, writes the report and archives the summary.
func (s *Service) Run(ctx context.Context, opts Options) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrRunning
	}
	defer s.running.Unlock()

	opts = opts.withDefaults()
	res, err := s.sim.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	cfg := s.settings()
	rep := &Report{
		ID:        uuid.NewString(),
		Result:    res,
		Timestamp: time.Now().UTC(),
		Config: ReportConfig{
			USDTPerTrade:  opts.USDTPerTrade,
			TPPercent:     cfg.TPPercent,
			SLPercent:     cfg.SLPercent,
			ADXThreshold:  cfg.ADXThreshold,
			RVOLThreshold: cfg.RVOLThreshold,
		},
	}

	if s.path != "" {
		if err := SaveReport(s.path, rep); err != nil {
			s.log.Error("save backtest report failed", zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.SaveBacktestRun(ctx, summary(rep)); err != nil {
			s.log.Error("archive backtest run failed", zap.Error(err))
		}
	}
	return rep, nil
}

// RunPreset runs a date-range preset.
func (s *Service) RunPreset(ctx context.Context, name, symbol string) (*Report, error) {
	opts, err := PresetOptions(name, symbol, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}
	return s.Run(ctx, opts)
}

// Latest reads the last saved report.
func (s *Service) Latest() (*Report, error) {
	if s.path == "" {
		return nil, ErrNoResults
	}
	return LoadReport(s.path)
}

// History lists archived runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]db.BacktestRun, error) {
	if s.archive == nil {
		return nil, nil
	}
	return s.archive.ListBacktestRuns(ctx, limit)
}

func summary(rep *Report) db.BacktestRun {
	r := rep.Result
	return db.BacktestRun{
		ID:              rep.ID,
		Symbol:          r.Symbol,
		Timeframe:       r.Timeframe,
		Start:           r.StartDate,
		End:             r.EndDate,
		TotalSignals:    r.TotalSignals,
		ApprovedSignals: r.ApprovedSignals,
		RejectedSignals: r.RejectedSignals,
		Trades:          len(r.Trades),
		WinRate:         r.WinRate,
		TotalProfit:     r.TotalProfit,
		TotalLoss:       r.TotalLoss,
		MaxDrawdown:     r.MaxDrawdown,
		FinalBalance:    r.FinalBalance,
		CreatedAt:       rep.Timestamp,
	}
}

// SaveReport writes rep as indented JSON, replacing the file atomically.
func SaveReport(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoResults
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &rep, nil
}
