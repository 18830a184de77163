package live

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"flowtrader/internal/events"
	"flowtrader/internal/flow"
	"flowtrader/internal/indicators"
	"flowtrader/internal/market"
	"flowtrader/internal/reconcile"
	"flowtrader/internal/risk"
	"flowtrader/internal/signal"
	"flowtrader/pkg/cache"
	"flowtrader/pkg/config"
	"flowtrader/pkg/db"
	"flowtrader/pkg/exchange"
)

// Engine drives live trading with three independent loops: a fast price
// tick loop, a bar-aligned decision loop and the reconciliation loop.
// Per-symbol serialization happens inside the risk manager, so the loops
// never coordinate directly.
type Engine struct {
	Strategy    *config.Strategy
	Feed        market.Feed
	Flow        flow.Feed // optional
	Gateway     exchange.Gateway
	Instruments exchange.InstrumentSource
	Manager     *risk.Manager
	Bus         *events.Bus
	Journal     *db.Database // optional

	TickInterval      time.Duration
	ReconcileInterval time.Duration

	indicators *indicators.Engine
	generator  *signal.Generator
	prices     *cache.PriceCache
	recon      *reconcile.Engine
}

// Run blocks until ctx is cancelled, then flattens all positions and
// cancels working orders before returning.
func (e *Engine) Run(ctx context.Context) error {
	if e.Strategy == nil || e.Feed == nil || e.Gateway == nil || e.Manager == nil {
		return fmt.Errorf("live engine: strategy, feed, gateway and manager are required")
	}
	if e.TickInterval <= 0 {
		e.TickInterval = 5 * time.Second
	}
	if e.ReconcileInterval <= 0 {
		e.ReconcileInterval = 30 * time.Second
	}

	e.indicators = indicators.NewEngine(e.Strategy.ShortMA, e.Strategy.LongMA, e.Strategy.RSIPeriod, 0)
	e.generator = signal.NewGenerator(signal.Config{
		OversoldThreshold:   e.Strategy.Oversold,
		OverboughtThreshold: e.Strategy.Overbought,
		FlowShortThreshold:  e.Strategy.FlowShortThreshold,
		FlowAggThreshold:    e.Strategy.FlowAggThreshold,
		FlowAggWindows:      e.Strategy.FlowAggWindows,
		Cooldown:            time.Duration(e.Strategy.CooldownSeconds) * time.Second,
	})
	e.prices = cache.NewPriceCache()
	var recorder reconcile.Recorder
	if e.Journal != nil {
		recorder = e.Journal
	}
	e.recon = reconcile.NewEngine(e.Manager, e.Gateway, e.Bus, recorder, e.ReconcileInterval)

	e.warmup(ctx)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.tickLoop(ctx) }()
	go func() { defer wg.Done(); e.decisionLoop(ctx) }()
	go func() { defer wg.Done(); e.recon.Run(ctx) }()

	if e.Journal != nil && e.Bus != nil {
		wg.Add(1)
		go func() { defer wg.Done(); e.journalTrades(ctx) }()
	}

	<-ctx.Done()
	wg.Wait()
	return e.shutdown()
}

// warmup backfills the indicator windows so the first decisions do not wait
// out a full lookback of live bars.
func (e *Engine) warmup(ctx context.Context) {
	limit := e.Strategy.LongMA + e.Strategy.RSIPeriod + 1
	for _, sym := range e.Strategy.Symbols() {
		candles, err := e.Feed.LatestCandles(ctx, sym, e.Strategy.Interval, limit)
		if err != nil {
			log.Printf("Live: warmup %s failed, indicators start cold: %v", sym, err)
			continue
		}
		for _, c := range candles {
			e.indicators.Update(sym, c.Close)
			e.prices.Set(sym, c.Close)
		}
	}
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			for _, sym := range e.Strategy.Symbols() {
				price, degraded := e.resolvePrice(ctx, sym)
				if price <= 0 {
					continue
				}
				if !degraded {
					e.prices.Set(sym, price)
				}
				if e.Bus != nil {
					e.Bus.Publish(events.EventPriceTick, market.Candle{Symbol: sym, Close: price, CloseTime: now})
				}
				if _, err := e.Manager.OnTick(ctx, sym, price, now); err != nil {
					log.Printf("Live: tick %s: %v", sym, err)
				}
			}
		}
	}
}

// resolvePrice walks the fallback chain: live feed, cached last-known
// price, then the configured per-symbol constant. Anything past the live
// feed is degraded operation and is surfaced as such.
func (e *Engine) resolvePrice(ctx context.Context, symbol string) (float64, bool) {
	candles, err := e.Feed.LatestCandles(ctx, symbol, e.Strategy.Interval, 1)
	if err == nil && len(candles) > 0 && candles[len(candles)-1].Close > 0 {
		return candles[len(candles)-1].Close, false
	}

	if price, age, ok := e.prices.GetWithAge(symbol); ok {
		log.Printf("Live: DEGRADED %s using cached price %v (age %s): %v", symbol, price, age, err)
		e.publishDegraded(symbol, "cached price")
		return price, true
	}

	meta, metaErr := e.Instruments.Instrument(symbol)
	if metaErr == nil && meta.FallbackPrice > 0 {
		log.Printf("Live: DEGRADED %s using fallback price %v: %v", symbol, meta.FallbackPrice, err)
		e.publishDegraded(symbol, "fallback constant")
		return meta.FallbackPrice, true
	}

	log.Printf("Live: no price available for %s: %v", symbol, err)
	return 0, true
}

func (e *Engine) publishDegraded(symbol, source string) {
	if e.Bus != nil {
		e.Bus.Publish(events.EventDegradedMode, fmt.Sprintf("%s: %s", symbol, source))
	}
}

func (e *Engine) decisionLoop(ctx context.Context) {
	interval := barDuration(e.Strategy.Interval)
	for {
		// align to the next bar boundary
		now := time.Now().UTC()
		wait := now.Truncate(interval).Add(interval).Sub(now)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		barTime := time.Now().UTC().Truncate(interval)
		for _, sym := range e.Strategy.Symbols() {
			e.decide(ctx, sym, barTime)
		}
	}
}

func (e *Engine) decide(ctx context.Context, symbol string, barTime time.Time) {
	candles, err := e.Feed.LatestCandles(ctx, symbol, e.Strategy.Interval, 1)
	if err != nil || len(candles) == 0 {
		log.Printf("Live: decision %s skipped, no bar: %v", symbol, err)
		return
	}
	px := candles[len(candles)-1].Close
	e.prices.Set(symbol, px)

	in := e.generator.ReadFlow(e.Flow, barTime)
	in.Indicators = e.indicators.Update(symbol, px)

	sig, actionable := e.generator.Evaluate(symbol, barTime, in)
	e.journalDecision(ctx, sig, actionable, barTime)
	if !actionable {
		return
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventSignal, sig)
	}
	if _, open := e.Manager.Position(symbol); open {
		log.Printf("Live: %s signal %s ignored, position already open", symbol, sig.Direction)
		return
	}
	if err := e.Manager.Open(ctx, symbol, sig.Direction, px, barTime); err != nil {
		log.Printf("Live: open %s %s: %v", symbol, sig.Direction, err)
	}
}

func (e *Engine) journalDecision(ctx context.Context, sig signal.Signal, actionable bool, barTime time.Time) {
	if e.Journal == nil {
		return
	}
	err := e.Journal.InsertDecision(ctx, db.DecisionRow{
		Symbol:     sig.Symbol,
		Direction:  string(sig.Direction),
		Trigger:    string(sig.Trigger),
		RSI:        sig.RSI,
		FlowShort:  sig.FlowShort,
		FlowAgg:    sig.FlowAgg,
		Actionable: actionable,
		BarTime:    barTime,
	})
	if err != nil {
		log.Printf("Live: journal decision %s: %v", sig.Symbol, err)
	}
}

// journalTrades persists closed trades as the risk manager emits them.
func (e *Engine) journalTrades(ctx context.Context) {
	ch, unsub := e.Bus.Subscribe(events.EventTrade, 64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			tr, isTrade := payload.(risk.Trade)
			if !isTrade {
				continue
			}
			err := e.Journal.InsertTrade(context.Background(), db.TradeRow{
				Symbol:     tr.Symbol,
				Direction:  string(tr.Direction),
				EntryPrice: tr.EntryPrice,
				ExitPrice:  tr.ExitPrice,
				Qty:        tr.Qty,
				Leverage:   tr.Leverage,
				PnL:        tr.PnL,
				ExitReason: string(tr.Reason),
				EntryTime:  tr.EntryTime,
				ExitTime:   tr.ExitTime,
			})
			if err != nil {
				log.Printf("Live: journal trade %s: %v", tr.Symbol, err)
			}
		}
	}
}

// shutdown flattens positions and cancels working orders under a fresh
// context, since the run context is already cancelled.
func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Printf("Live: shutting down, flattening positions")
	err := e.Manager.FlattenAll(ctx, time.Now().UTC(), func(sym string) (float64, bool) {
		price, _ := e.prices.Get(sym)
		return price, price > 0
	})
	if err != nil {
		log.Printf("Live: flatten on shutdown incomplete: %v", err)
	}

	retry := exchange.DefaultRetryPolicy()
	for _, sym := range e.Strategy.Symbols() {
		symbol := sym
		cancelErr := retry.Do(ctx, "cancel working orders", func(ctx context.Context) error {
			orders, listErr := e.Gateway.OpenOrders(ctx, symbol)
			if listErr != nil {
				return listErr
			}
			for _, o := range orders {
				if orderErr := e.Gateway.CancelOrder(ctx, symbol, o.OrderID); orderErr != nil {
					return orderErr
				}
			}
			return nil
		})
		if cancelErr != nil {
			log.Printf("Live: cancel orders for %s on shutdown: %v", symbol, cancelErr)
			err = cancelErr
		}
	}
	return err
}

func barDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	default:
		return 5 * time.Minute
	}
}
