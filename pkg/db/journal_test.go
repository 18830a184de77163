package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return d
}

func TestTradeJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	entry := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []TradeRow{
		{Symbol: "BTCUSDT", Direction: "LONG", EntryPrice: 100, ExitPrice: 105,
			Qty: 2, Leverage: 10, PnL: 100, ExitReason: "TAKE_PROFIT",
			EntryTime: entry, ExitTime: entry.Add(30 * time.Minute)},
		{Symbol: "BTCUSDT", Direction: "SHORT", EntryPrice: 105, ExitPrice: 107,
			Qty: 1, Leverage: 10, PnL: -20, ExitReason: "STOP_LOSS",
			EntryTime: entry.Add(time.Hour), ExitTime: entry.Add(2 * time.Hour)},
	}
	for _, tr := range trades {
		if err := d.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := d.ListTrades(ctx, "BTCUSDT", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d trades, expected 2", len(got))
	}
	// ordered by exit time ascending
	if got[0].ExitReason != "TAKE_PROFIT" || got[1].ExitReason != "STOP_LOSS" {
		t.Fatalf("order wrong: %v then %v", got[0].ExitReason, got[1].ExitReason)
	}
	if got[0].ID == "" {
		t.Fatal("missing generated trade ID")
	}
	if got[1].PnL != -20 {
		t.Fatalf("pnl=%v, expected -20", got[1].PnL)
	}
}

func TestListTradesSymbolFilter(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	now := time.Now().UTC()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		if err := d.InsertTrade(ctx, TradeRow{
			Symbol: sym, Direction: "LONG", EntryPrice: 1, ExitPrice: 2,
			Qty: 1, Leverage: 1, PnL: 1, ExitReason: "MANUAL",
			EntryTime: now, ExitTime: now,
		}); err != nil {
			t.Fatalf("insert %s: %v", sym, err)
		}
	}

	got, err := d.ListTrades(ctx, "ETHUSDT", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "ETHUSDT" {
		t.Fatalf("got %v, expected only ETHUSDT", got)
	}

	all, err := d.ListTrades(ctx, "", 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d, expected 2 with empty filter", len(all))
	}
}

func TestDecisionAndReconcileLogs(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if err := d.InsertDecision(ctx, DecisionRow{
		Symbol: "BTCUSDT", Direction: "LONG", Trigger: "TREND_RSI",
		RSI: 25.4, FlowShort: -1.2e6, FlowAgg: -6e6,
		Actionable: true, BarTime: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert decision: %v", err)
	}

	if err := d.InsertReconcile(ctx, ReconcileRow{
		Symbol: "BTCUSDT", Field: "stop_loss",
		Expected: 99.8, Actual: 99.0, OldPercent: -2.0, NewPercent: -10.0,
	}); err != nil {
		t.Fatalf("insert reconcile: %v", err)
	}

	var n int
	if err := d.DB.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&n); err != nil || n != 1 {
		t.Fatalf("decisions count=%d err=%v", n, err)
	}
	if err := d.DB.QueryRow("SELECT COUNT(*) FROM reconcile_log").Scan(&n); err != nil || n != 1 {
		t.Fatalf("reconcile count=%d err=%v", n, err)
	}
}

func TestNewEnablesWAL(t *testing.T) {
	d := openTestDB(t)
	var mode string
	if err := d.DB.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode=%s, expected wal", mode)
	}
	var timeout int
	if err := d.DB.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout=%d, expected 5000", timeout)
	}
}
