package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TradeRow is a closed trade as persisted in the journal.
type TradeRow struct {
	ID         string
	Symbol     string
	Direction  string
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	Leverage   float64
	PnL        float64
	ExitReason string
	EntryTime  time.Time
	ExitTime   time.Time
}

// DecisionRow is one signal evaluation, kept for observability.
type DecisionRow struct {
	ID         string
	Symbol     string
	Direction  string
	Trigger    string
	RSI        float64
	FlowShort  float64
	FlowAgg    float64
	Actionable bool
	BarTime    time.Time
}

// ReconcileRow records one resolved drift between intended and
// exchange-reported protective orders.
type ReconcileRow struct {
	ID         string
	Symbol     string
	Field      string // "stop_loss" or "take_profit"
	Expected   float64
	Actual     float64
	OldPercent float64
	NewPercent float64
}

// InsertTrade appends a closed trade to the journal.
func (d *Database) InsertTrade(ctx context.Context, t TradeRow) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, symbol, direction, entry_price, exit_price, qty, leverage,
			pnl, exit_reason, entry_time, exit_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Symbol, t.Direction, t.EntryPrice, t.ExitPrice, t.Qty,
		t.Leverage, t.PnL, t.ExitReason, t.EntryTime, t.ExitTime,
	)
	return err
}

// ListTrades returns trades ordered by exit time, oldest first.
func (d *Database) ListTrades(ctx context.Context, symbol string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, direction, entry_price, exit_price, qty, leverage,
		       pnl, exit_reason, entry_time, exit_time
		FROM trades
		WHERE (? = '' OR symbol = ?)
		ORDER BY exit_time ASC
		LIMIT ?
	`, symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Direction, &t.EntryPrice, &t.ExitPrice,
			&t.Qty, &t.Leverage, &t.PnL, &t.ExitReason, &t.EntryTime, &t.ExitTime,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertDecision appends a signal evaluation to the decision log.
func (d *Database) InsertDecision(ctx context.Context, row DecisionRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	actionable := 0
	if row.Actionable {
		actionable = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO decisions (
			id, symbol, direction, trigger, rsi, flow_short, flow_agg,
			actionable, bar_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.ID, row.Symbol, row.Direction, row.Trigger, row.RSI,
		row.FlowShort, row.FlowAgg, actionable, row.BarTime,
	)
	return err
}

// InsertReconcile appends a reconciliation drift record.
func (d *Database) InsertReconcile(ctx context.Context, row ReconcileRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconcile_log (
			id, symbol, field, expected, actual, old_percent, new_percent
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		row.ID, row.Symbol, row.Field, row.Expected, row.Actual,
		row.OldPercent, row.NewPercent,
	)
	return err
}
