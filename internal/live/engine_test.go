package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowtrader/internal/market"
	"flowtrader/internal/risk"
	"flowtrader/internal/signal"
	"flowtrader/pkg/cache"
	"flowtrader/pkg/config"
	"flowtrader/pkg/exchange"
)

type stubFeed struct {
	price float64
	err   error
}

func (s *stubFeed) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []market.Candle{{Symbol: symbol, Close: s.price, CloseTime: time.Now().UTC()}}, nil
}

func liveStrategy() *config.Strategy {
	return &config.Strategy{
		Interval: "5m",
		ShortMA:  3, LongMA: 5, RSIPeriod: 3,
		Oversold: 30, Overbought: 70,
		CooldownSeconds: 300,
		FlowAggWindows:  12,
		RiskFraction:    0.2, Leverage: 10,
		StopLossPct: -5, TakeProfitPct: 10,
		Instruments: []config.Instrument{
			{Symbol: "BTCUSDT", QtyPrecision: 0, PricePrecision: 2, FallbackPrice: 42000},
		},
	}
}

func fastRetry() exchange.RetryPolicy {
	return exchange.RetryPolicy{Attempts: 1, Timeout: time.Second, Backoff: time.Millisecond}
}

func TestResolvePriceFallbackChain(t *testing.T) {
	sim := exchange.NewSim(10000, []exchange.InstrumentMeta{
		{Symbol: "BTCUSDT", PricePrecision: 2, FallbackPrice: 42000},
	})
	feed := &stubFeed{price: 100}
	e := &Engine{
		Strategy:    liveStrategy(),
		Feed:        feed,
		Gateway:     sim,
		Instruments: sim,
		prices:      cache.NewPriceCache(),
	}

	// healthy feed wins
	price, degraded := e.resolvePrice(context.Background(), "BTCUSDT")
	if price != 100 || degraded {
		t.Fatalf("price=%v degraded=%v, expected live 100", price, degraded)
	}

	// feed down: fall back to the cached last-known price
	e.prices.Set("BTCUSDT", 100)
	feed.err = errors.New("feed offline")
	price, degraded = e.resolvePrice(context.Background(), "BTCUSDT")
	if price != 100 || !degraded {
		t.Fatalf("price=%v degraded=%v, expected cached 100", price, degraded)
	}

	// no cache either: fixed per-symbol fallback constant
	e.prices = cache.NewPriceCache()
	price, degraded = e.resolvePrice(context.Background(), "BTCUSDT")
	if price != 42000 || !degraded {
		t.Fatalf("price=%v degraded=%v, expected fallback 42000", price, degraded)
	}
}

func TestRunFlattensAndCancelsOnShutdown(t *testing.T) {
	sim := exchange.NewSim(10000, []exchange.InstrumentMeta{
		{Symbol: "BTCUSDT", QtyPrecision: 0, PricePrecision: 2, FallbackPrice: 42000},
	})
	sim.SetMarkPrice("BTCUSDT", 100)

	strat := liveStrategy()
	mgr := risk.NewManager(risk.Config{
		RiskFraction: 0.2, Leverage: 10, StopLossPct: -5, TakeProfitPct: 10,
	}, sim, sim, nil)
	mgr.SetRetryPolicy(fastRetry())
	if err := mgr.Open(context.Background(), "BTCUSDT", signal.Long, 100, time.Now().UTC()); err != nil {
		t.Fatalf("open: %v", err)
	}

	e := &Engine{
		Strategy:          strat,
		Feed:              &stubFeed{price: 100},
		Gateway:           sim,
		Instruments:       sim,
		Manager:           mgr,
		TickInterval:      10 * time.Millisecond,
		ReconcileInterval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	if len(mgr.OpenPositions()) != 0 {
		t.Fatal("positions still open after shutdown")
	}
	trades := mgr.Trades()
	if len(trades) != 1 || trades[0].Reason != risk.ExitManual {
		t.Fatalf("trades=%+v, expected one MANUAL flatten", trades)
	}
	orders, _ := sim.OpenOrders(context.Background(), "BTCUSDT")
	if len(orders) != 0 {
		t.Fatalf("%d working orders left after shutdown", len(orders))
	}
}
