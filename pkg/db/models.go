package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClosedPosition is an archived trade.
type ClosedPosition struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Strategy        string    `json:"strategy"`
	EntryPrice      float64   `json:"entryPrice"`
	AvgEntryPrice   float64   `json:"avgEntryPrice"`
	ExitPrice       float64   `json:"exitPrice"`
	Quantity        float64   `json:"quantity"`
	PnL             float64   `json:"pnl"`
	Reason          string    `json:"reason"`
	DCASteps        int       `json:"dcaSteps"`
	PartialExecuted bool      `json:"partialExecuted"`
	OpenedAt        time.Time `json:"openedAt"`
	ClosedAt        time.Time `json:"closedAt"`
}

// SignalRecord is one processed signal and its verdict.
type SignalRecord struct {
	ID            string    `json:"id"`
	Strategy      string    `json:"strategy"`
	Symbol        string    `json:"symbol"`
	Action        string    `json:"action"`
	Timeframe     string    `json:"timeframe"`
	Price         float64   `json:"price"`
	Approved      bool      `json:"approved"`
	Reason        string    `json:"reason"`
	FilterResults string    `json:"filterResults"` // JSON
	ProcessingMs  int64     `json:"processingMs"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// Order is an entry order placed on the venue.
type Order struct {
	ID              string
	ClientID        string
	Symbol          string
	Side            string
	Type            string
	Price           float64
	Qty             float64
	FilledQty       float64
	StopPrice       float64
	TakeProfitPrice float64
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BacktestRun summarises one backtest.
type BacktestRun struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	TotalSignals    int       `json:"totalSignals"`
	ApprovedSignals int       `json:"approvedSignals"`
	RejectedSignals int       `json:"rejectedSignals"`
	Trades          int       `json:"trades"`
	WinRate         float64   `json:"winRate"`
	TotalProfit     float64   `json:"totalProfit"`
	TotalLoss       float64   `json:"totalLoss"`
	MaxDrawdown     float64   `json:"maxDrawdown"`
	FinalBalance    float64   `json:"finalBalance"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DailyRisk is the per-day risk snapshot keyed by UTC date (2006-01-02).
type DailyRisk struct {
	Date            string
	DailyPnL        float64
	DailyTrades     int
	DailyWins       int
	DailyLoss       float64
	DailyProfit     float64
	MaxDrawdown     float64
	ChecksTotal     int
	RejectionsTotal int
	UpdatedAt       time.Time
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveClosedPosition archives a closed trade.
func (d *Database) SaveClosedPosition(ctx context.Context, p ClosedPosition) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO closed_positions (
			id, symbol, side, strategy, entry_price, avg_entry_price, exit_price,
			quantity, pnl, reason, dca_steps, partial_executed, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Symbol, p.Side, p.Strategy, p.EntryPrice, p.AvgEntryPrice, p.ExitPrice,
		p.Quantity, p.PnL, p.Reason, p.DCASteps, boolInt(p.PartialExecuted), millis(p.OpenedAt), millis(p.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("insert closed position: %w", err)
	}
	return nil
}

// ListClosedPositions returns the newest limit trades, newest first.
func (d *Database) ListClosedPositions(ctx context.Context, limit int) ([]ClosedPosition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, side, COALESCE(strategy, ''), entry_price, avg_entry_price, exit_price,
			quantity, pnl, reason, dca_steps, partial_executed, opened_at, closed_at
		FROM closed_positions
		ORDER BY closed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var res []ClosedPosition
	for rows.Next() {
		var (
			p              ClosedPosition
			partial        int
			opened, closed int64
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Side, &p.Strategy, &p.EntryPrice, &p.AvgEntryPrice, &p.ExitPrice,
			&p.Quantity, &p.PnL, &p.Reason, &p.DCASteps, &partial, &opened, &closed); err != nil {
			return nil, fmt.Errorf("scan closed position: %w", err)
		}
		p.PartialExecuted = partial == 1
		p.OpenedAt = fromMillis(opened)
		p.ClosedAt = fromMillis(closed)
		res = append(res, p)
	}
	return res, rows.Err()
}

// SaveSignals inserts a batch of signal records in one transaction.
func (d *Database) SaveSignals(ctx context.Context, records []SignalRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO signals (
			id, strategy, symbol, action, timeframe, price, approved, reason, filter_results, processing_ms, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Strategy, r.Symbol, r.Action, r.Timeframe, r.Price,
			boolInt(r.Approved), r.Reason, r.FilterResults, r.ProcessingMs, millis(r.ReceivedAt)); err != nil {
			return fmt.Errorf("insert signal %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ListSignals returns the newest limit signals, newest first.
func (d *Database) ListSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(strategy, ''), symbol, action, COALESCE(timeframe, ''), price, approved,
			COALESCE(reason, ''), COALESCE(filter_results, ''), COALESCE(processing_ms, 0), received_at
		FROM signals
		ORDER BY received_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var res []SignalRecord
	for rows.Next() {
		var (
			r        SignalRecord
			approved int
			received int64
		)
		if err := rows.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Action, &r.Timeframe, &r.Price, &approved,
			&r.Reason, &r.FilterResults, &r.ProcessingMs, &received); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		r.Approved = approved == 1
		r.ReceivedAt = fromMillis(received)
		res = append(res, r)
	}
	return res, rows.Err()
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, client_id, symbol, side, type, price, qty, filled_qty, stop_price, take_profit_price, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.ClientID, o.Symbol, o.Side, o.Type, o.Price, o.Qty, o.FilledQty, o.StopPrice, o.TakeProfitPrice,
		o.Status, millis(o.CreatedAt), millis(now),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderFill sets status, filled quantity and price.
func (d *Database) UpdateOrderFill(ctx context.Context, id, status string, filledQty, price float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, price = CASE WHEN ? > 0 THEN ? ELSE price END, updated_at = ?
		WHERE id = ?
	`, status, filledQty, price, price, millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return nil
}

// ListOpenOrders returns orders without a terminal status, oldest first.
func (d *Database) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(client_id, ''), symbol, side, type, price, qty, filled_qty, stop_price, take_profit_price,
			status, created_at, updated_at
		FROM orders WHERE status NOT IN ('FILLED', 'CANCELED', 'REJECTED', 'EXPIRED')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var (
			o                Order
			created, updated int64
		)
		if err := rows.Scan(&o.ID, &o.ClientID, &o.Symbol, &o.Side, &o.Type, &o.Price, &o.Qty, &o.FilledQty,
			&o.StopPrice, &o.TakeProfitPrice, &o.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.CreatedAt = fromMillis(created)
		o.UpdatedAt = fromMillis(updated)
		res = append(res, o)
	}
	return res, rows.Err()
}

// SaveBacktestRun stores a backtest summary.
func (d *Database) SaveBacktestRun(ctx context.Context, r BacktestRun) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO backtest_runs (
			id, symbol, timeframe, start_at, end_at, total_signals, approved_signals, rejected_signals,
			trades, win_rate, total_profit, total_loss, max_drawdown, final_balance, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Symbol, r.Timeframe, millis(r.Start), millis(r.End), r.TotalSignals, r.ApprovedSignals, r.RejectedSignals,
		r.Trades, r.WinRate, r.TotalProfit, r.TotalLoss, r.MaxDrawdown, r.FinalBalance, millis(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}

// ListBacktestRuns returns the newest limit runs, newest first.
func (d *Database) ListBacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, timeframe, start_at, end_at, total_signals, approved_signals, rejected_signals,
			trades, win_rate, total_profit, total_loss, max_drawdown, final_balance, created_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query backtest runs: %w", err)
	}
	defer rows.Close()

	var res []BacktestRun
	for rows.Next() {
		var (
			r                   BacktestRun
			start, end, created int64
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Timeframe, &start, &end, &r.TotalSignals, &r.ApprovedSignals,
			&r.RejectedSignals, &r.Trades, &r.WinRate, &r.TotalProfit, &r.TotalLoss, &r.MaxDrawdown,
			&r.FinalBalance, &created); err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		r.Start = fromMillis(start)
		r.End = fromMillis(end)
		r.CreatedAt = fromMillis(created)
		res = append(res, r)
	}
	return res, rows.Err()
}

// UpsertDailyRisk stores the risk snapshot for r.Date.
func (d *Database) UpsertDailyRisk(ctx context.Context, r DailyRisk) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_daily (
			date, daily_pnl, daily_trades, daily_wins, daily_loss, daily_profit, max_drawdown,
			checks_total, rejections_total, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_pnl = excluded.daily_pnl,
			daily_trades = excluded.daily_trades,
			daily_wins = excluded.daily_wins,
			daily_loss = excluded.daily_loss,
			daily_profit = excluded.daily_profit,
			max_drawdown = excluded.max_drawdown,
			checks_total = excluded.checks_total,
			rejections_total = excluded.rejections_total,
			updated_at = excluded.updated_at
	`,
		r.Date, r.DailyPnL, r.DailyTrades, r.DailyWins, r.DailyLoss, r.DailyProfit, r.MaxDrawdown,
		r.ChecksTotal, r.RejectionsTotal, millis(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert daily risk: %w", err)
	}
	return nil
}

// GetDailyRisk returns the snapshot for date or ErrNotFound.
func (d *Database) GetDailyRisk(ctx context.Context, date string) (DailyRisk, error) {
	var (
		r       DailyRisk
		updated int64
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, daily_pnl, daily_trades, daily_wins, daily_loss, daily_profit, max_drawdown,
			COALESCE(checks_total, 0), COALESCE(rejections_total, 0), updated_at
		FROM risk_daily WHERE date = ?`, date).
		Scan(&r.Date, &r.DailyPnL, &r.DailyTrades, &r.DailyWins, &r.DailyLoss, &r.DailyProfit, &r.MaxDrawdown,
			&r.ChecksTotal, &r.RejectionsTotal, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyRisk{}, fmt.Errorf("%w: risk %s", ErrNotFound, date)
	}
	if err != nil {
		return DailyRisk{}, fmt.Errorf("query daily risk: %w", err)
	}
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

// DaySummary aggregates signals and closed trades in [From, To).
type DaySummary struct {
	From            time.Time
	To              time.Time
	TotalSignals    int
	ApprovedSignals int
	Trades          int
	WinningTrades   int
	LosingTrades    int
	TotalPnL        float64
}

// Summarize counts signals by received_at and trades by closed_at.
func (d *Database) Summarize(ctx context.Context, from, to time.Time) (DaySummary, error) {
	s := DaySummary{From: from, To: to}
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(approved), 0)
		FROM signals WHERE received_at >= ? AND received_at < ?`, millis(from), millis(to)).
		Scan(&s.TotalSignals, &s.ApprovedSignals)
	if err != nil {
		return s, fmt.Errorf("count signals: %w", err)
	}
	err = d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0)
		FROM closed_positions WHERE closed_at >= ? AND closed_at < ?`, millis(from), millis(to)).
		Scan(&s.Trades, &s.WinningTrades, &s.LosingTrades, &s.TotalPnL)
	if err != nil {
		return s, fmt.Errorf("sum closed positions: %w", err)
	}
	return s, nil
}
