package reconcile

import (
	"context"
	"log"
	"math"
	"time"

	"flowtrader/internal/events"
	"flowtrader/internal/risk"
	"flowtrader/internal/signal"
	"flowtrader/pkg/db"
	"flowtrader/pkg/exchange"
)

// DefaultTolerance is the price distance below which a working protective
// order is considered to match the stored intent.
const DefaultTolerance = 0.1

// Drift describes one mismatch between the stored protective intent and the
// venue's working order. The venue is authoritative, so OldPercent was
// already replaced by NewPercent when this is published.
type Drift struct {
	Symbol     string
	Field      string // "stop_loss" or "take_profit"
	Expected   float64
	Actual     float64
	OldPercent float64
	NewPercent float64
}

// Recorder persists resolved drifts. Satisfied by *db.Database.
type Recorder interface {
	InsertReconcile(ctx context.Context, row db.ReconcileRow) error
}

// Engine periodically compares stored protective intent against the venue's
// working conditional orders and adopts the venue's values on mismatch.
// Drift is a warning condition, never an error.
type Engine struct {
	mgr       *risk.Manager
	gateway   exchange.Gateway
	bus       *events.Bus
	recorder  Recorder
	retry     exchange.RetryPolicy
	tolerance float64
	interval  time.Duration
}

// NewEngine creates a reconciliation engine. bus and recorder may be nil.
func NewEngine(mgr *risk.Manager, gw exchange.Gateway, bus *events.Bus, rec Recorder, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		mgr:       mgr,
		gateway:   gw,
		bus:       bus,
		recorder:  rec,
		retry:     exchange.DefaultRetryPolicy(),
		tolerance: DefaultTolerance,
		interval:  interval,
	}
}

// SetRetryPolicy overrides the venue retry discipline.
func (e *Engine) SetRetryPolicy(p exchange.RetryPolicy) { e.retry = p }

// Run checks on a timer until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Check(ctx)
		}
	}
}

// Check reconciles every open position once. Returns the drifts it
// resolved; venue fetch failures are logged and skip the symbol.
func (e *Engine) Check(ctx context.Context) []Drift {
	var drifts []Drift
	for _, pos := range e.mgr.OpenPositions() {
		var orders []exchange.OrderRecord
		err := e.retry.Do(ctx, "open orders", func(ctx context.Context) error {
			var fetchErr error
			orders, fetchErr = e.gateway.OpenOrders(ctx, pos.Symbol)
			return fetchErr
		})
		if err != nil {
			log.Printf("Reconcile: fetching orders for %s failed: %v", pos.Symbol, err)
			continue
		}
		drifts = append(drifts, e.checkPosition(ctx, pos, orders)...)
	}
	return drifts
}

func (e *Engine) checkPosition(ctx context.Context, pos risk.Position, orders []exchange.OrderRecord) []Drift {
	var actualStop, actualTP float64
	for _, o := range orders {
		switch exchange.ConditionalKind(o.Type) {
		case exchange.ConditionalStop:
			actualStop = o.StopPrice
		case exchange.ConditionalTakeProfit:
			actualTP = o.StopPrice
		}
	}

	var out []Drift
	if d, ok := e.reconcileField(ctx, pos, exchange.ConditionalStop, "stop_loss", pos.StopLossPct, actualStop); ok {
		out = append(out, d)
	}
	if d, ok := e.reconcileField(ctx, pos, exchange.ConditionalTakeProfit, "take_profit", pos.TakeProfitPct, actualTP); ok {
		out = append(out, d)
	}
	return out
}

// expectedPrice maps a stored leveraged percent onto a price level. This is
// the inverse of the percent recomputation below, so a percent adopted from
// the venue reconciles cleanly on every following pass.
func expectedPrice(dir signal.Direction, entry, pct, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	move := pct / 100 / leverage
	if dir == signal.Short {
		move = -move
	}
	return entry * (1 + move)
}

func (e *Engine) reconcileField(ctx context.Context, pos risk.Position, kind exchange.ConditionalKind, field string, storedPct, actual float64) (Drift, bool) {
	expected := expectedPrice(pos.Direction, pos.EntryPrice, storedPct, pos.Leverage)
	if actual <= 0 {
		log.Printf("Reconcile: WARNING no working %s order for %s (expected %.4f)", field, pos.Symbol, expected)
		return Drift{}, false
	}
	if math.Abs(actual-expected) <= e.tolerance {
		return Drift{}, false
	}

	// venue wins: recompute the leveraged percent from the working order
	newPct := (actual - pos.EntryPrice) / pos.EntryPrice * 100 * pos.Leverage
	if pos.Direction == signal.Short {
		newPct = -newPct
	}
	e.mgr.UpdateProtectiveIntent(pos.Symbol, kind, newPct, actual)

	drift := Drift{
		Symbol:     pos.Symbol,
		Field:      field,
		Expected:   expected,
		Actual:     actual,
		OldPercent: storedPct,
		NewPercent: newPct,
	}
	log.Printf("Reconcile: WARNING %s %s drift: expected %.4f actual %.4f, percent %.4f -> %.4f",
		pos.Symbol, field, expected, actual, storedPct, newPct)
	if e.bus != nil {
		e.bus.Publish(events.EventReconcileDrift, drift)
	}
	if e.recorder != nil {
		if err := e.recorder.InsertReconcile(ctx, db.ReconcileRow{
			Symbol:     drift.Symbol,
			Field:      drift.Field,
			Expected:   drift.Expected,
			Actual:     drift.Actual,
			OldPercent: drift.OldPercent,
			NewPercent: drift.NewPercent,
		}); err != nil {
			log.Printf("Reconcile: persisting drift for %s failed: %v", pos.Symbol, err)
		}
	}
	return drift, true
}
