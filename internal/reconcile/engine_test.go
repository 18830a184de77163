package reconcile

import (
	"context"
	"math"
	"testing"
	"time"

	"flowtrader/internal/events"
	"flowtrader/internal/risk"
	"flowtrader/internal/signal"
	"flowtrader/pkg/exchange"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fastRetry() exchange.RetryPolicy {
	return exchange.RetryPolicy{Attempts: 3, Timeout: time.Second, Backoff: time.Millisecond}
}

func openTestPosition(t *testing.T, dir signal.Direction, leverage float64, bus *events.Bus) (*risk.Manager, *exchange.Sim) {
	t.Helper()
	sim := exchange.NewSim(10000, []exchange.InstrumentMeta{
		{Symbol: "BTCUSDT", QtyPrecision: 0, PricePrecision: 2, FallbackPrice: 100},
	})
	sim.SetMarkPrice("BTCUSDT", 100)

	mgr := risk.NewManager(risk.Config{
		RiskFraction: 0.2, Leverage: leverage, StopLossPct: -5, TakeProfitPct: 10,
	}, sim, sim, bus)
	mgr.SetRetryPolicy(fastRetry())
	if err := mgr.Open(context.Background(), "BTCUSDT", dir, 100, testStart); err != nil {
		t.Fatalf("open: %v", err)
	}
	return mgr, sim
}

// replaceStop swaps the venue's working stop order for one at price.
func replaceStop(t *testing.T, sim *exchange.Sim, mgr *risk.Manager, price float64) {
	t.Helper()
	ctx := context.Background()
	pos, ok := mgr.Position("BTCUSDT")
	if !ok {
		t.Fatal("no position")
	}
	if err := sim.CancelOrder(ctx, "BTCUSDT", pos.StopOrderID); err != nil {
		t.Fatalf("cancel stop: %v", err)
	}
	side := exchange.SideSell
	if pos.Direction == signal.Short {
		side = exchange.SideBuy
	}
	if _, err := sim.PlaceConditionalOrder(ctx, exchange.ConditionalOrderRequest{
		Symbol: "BTCUSDT", Side: side, Kind: exchange.ConditionalStop,
		StopPrice: price, Qty: pos.Qty,
	}); err != nil {
		t.Fatalf("replace stop: %v", err)
	}
}

func TestCheckConfirmsWithinTolerance(t *testing.T) {
	// at 1x the leveraged expectation equals the placement price
	mgr, sim := openTestPosition(t, signal.Long, 1, nil)
	eng := NewEngine(mgr, sim, nil, nil, time.Minute)
	eng.SetRetryPolicy(fastRetry())

	drifts := eng.Check(context.Background())
	if len(drifts) != 0 {
		t.Fatalf("got %d drifts for untouched orders, expected 0", len(drifts))
	}

	// a nudge inside the tolerance is still a match
	replaceStop(t, sim, mgr, 95.05)
	if drifts := eng.Check(context.Background()); len(drifts) != 0 {
		t.Fatalf("drift reported inside tolerance: %+v", drifts)
	}
}

func TestCheckAdoptsVenueStopPrice(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	driftCh, unsub := bus.Subscribe(events.EventReconcileDrift, 4)
	defer unsub()

	mgr, sim := openTestPosition(t, signal.Long, 1, bus)
	eng := NewEngine(mgr, sim, bus, nil, time.Minute)
	eng.SetRetryPolicy(fastRetry())

	// stored intent: -5% at 1x => stop at 95; venue says 94
	replaceStop(t, sim, mgr, 94.0)
	drifts := eng.Check(context.Background())
	if len(drifts) != 1 {
		t.Fatalf("got %d drifts, expected 1", len(drifts))
	}
	d := drifts[0]
	if d.Field != "stop_loss" || d.Actual != 94.0 {
		t.Fatalf("unexpected drift: %+v", d)
	}
	// (94-100)/100 * 100 * 1 = -6
	if math.Abs(d.NewPercent-(-6)) > 1e-9 {
		t.Fatalf("new percent=%v, expected -6", d.NewPercent)
	}

	pos, _ := mgr.Position("BTCUSDT")
	if math.Abs(pos.StopLossPct-(-6)) > 1e-9 || pos.StopPrice != 94.0 {
		t.Fatalf("intent not updated: pct=%v price=%v", pos.StopLossPct, pos.StopPrice)
	}

	select {
	case <-driftCh:
	case <-time.After(time.Second):
		t.Fatal("no drift event published")
	}

	// second pass agrees with the adopted values
	if drifts := eng.Check(context.Background()); len(drifts) != 0 {
		t.Fatalf("drift persisted after adoption: %+v", drifts)
	}
}

func TestCheckLeveragedIntentConverges(t *testing.T) {
	// orders are placed at raw percent distance (stop 95, tp 110), while the
	// reconciler's expectation scales the stored percent by leverage. The
	// first pass adopts the venue prices as leveraged percents; after that
	// every pass is clean.
	mgr, sim := openTestPosition(t, signal.Long, 25, nil)
	eng := NewEngine(mgr, sim, nil, nil, time.Minute)
	eng.SetRetryPolicy(fastRetry())

	drifts := eng.Check(context.Background())
	if len(drifts) != 2 {
		t.Fatalf("got %d drifts on first pass, expected stop + take profit", len(drifts))
	}
	pos, _ := mgr.Position("BTCUSDT")
	// (95-100)/100 * 100 * 25 = -125; (110-100)/100 * 100 * 25 = 250
	if math.Abs(pos.StopLossPct-(-125)) > 1e-9 {
		t.Fatalf("adopted stop pct=%v, expected -125", pos.StopLossPct)
	}
	if math.Abs(pos.TakeProfitPct-250) > 1e-9 {
		t.Fatalf("adopted tp pct=%v, expected 250", pos.TakeProfitPct)
	}
	if pos.StopPrice != 95 || pos.TakeProfitPrice != 110 {
		t.Fatalf("working prices changed: sl=%v tp=%v", pos.StopPrice, pos.TakeProfitPrice)
	}

	if drifts := eng.Check(context.Background()); len(drifts) != 0 {
		t.Fatalf("drift persisted after adoption: %+v", drifts)
	}
}

func TestCheckShortSignAdjustment(t *testing.T) {
	mgr, sim := openTestPosition(t, signal.Short, 1, nil)
	eng := NewEngine(mgr, sim, nil, nil, time.Minute)
	eng.SetRetryPolicy(fastRetry())

	// short stop sits above entry; venue moved it from 105 to 106
	replaceStop(t, sim, mgr, 106.0)
	drifts := eng.Check(context.Background())
	if len(drifts) != 1 {
		t.Fatalf("got %d drifts, expected 1", len(drifts))
	}
	// -(106-100)/100 * 100 * 1 = -6, stays a stop-loss-shaped percent
	if math.Abs(drifts[0].NewPercent-(-6)) > 1e-9 {
		t.Fatalf("new percent=%v, expected -6", drifts[0].NewPercent)
	}
	pos, _ := mgr.Position("BTCUSDT")
	if pos.StopPrice != 106.0 {
		t.Fatalf("stop price=%v, expected 106", pos.StopPrice)
	}
}

func TestCheckMissingOrderWarnsWithoutDrift(t *testing.T) {
	mgr, sim := openTestPosition(t, signal.Long, 1, nil)
	eng := NewEngine(mgr, sim, nil, nil, time.Minute)
	eng.SetRetryPolicy(fastRetry())

	pos, _ := mgr.Position("BTCUSDT")
	if err := sim.CancelOrder(context.Background(), "BTCUSDT", pos.StopOrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	drifts := eng.Check(context.Background())
	if len(drifts) != 0 {
		t.Fatalf("missing order reported as drift: %+v", drifts)
	}
	after, _ := mgr.Position("BTCUSDT")
	if after.StopLossPct != pos.StopLossPct {
		t.Fatal("intent changed for a missing order")
	}
}
