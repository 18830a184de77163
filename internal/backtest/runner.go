package backtest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"flowtrader/internal/events"
	"flowtrader/internal/flow"
	"flowtrader/internal/indicators"
	"flowtrader/internal/market"
	"flowtrader/internal/metrics"
	"flowtrader/internal/risk"
	"flowtrader/internal/signal"
	"flowtrader/pkg/config"
	"flowtrader/pkg/exchange"
)

// Runner replays an ordered candle series through the full pipeline against
// the simulated venue. A single goroutine drives everything, so identical
// inputs produce an identical trade log.
type Runner struct {
	Strategy       *config.Strategy
	Flow           flow.Feed // optional
	InitialBalance float64
	Bus            *events.Bus // optional
}

// Result is the outcome of one replay.
type Result struct {
	Trades  []risk.Trade
	Summary metrics.Summary
}

// Run replays candles, oldest first. Positions still open when the data
// ends are flattened at the final price so the trade log is complete.
func (r *Runner) Run(ctx context.Context, candles []market.Candle) (*Result, error) {
	if r.Strategy == nil {
		return nil, fmt.Errorf("backtest: strategy preset is required")
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: no candles")
	}

	ordered := make([]market.Candle, len(candles))
	copy(ordered, candles)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OpenTime.Before(ordered[j].OpenTime)
	})

	sim := exchange.NewSim(r.InitialBalance, InstrumentMetas(r.Strategy))
	mgr := risk.NewManager(RiskConfig(r.Strategy), sim, sim, r.Bus)
	mgr.SetRetryPolicy(exchange.RetryPolicy{Attempts: 1, Timeout: time.Second, Backoff: time.Millisecond})

	eng := indicators.NewEngine(r.Strategy.ShortMA, r.Strategy.LongMA, r.Strategy.RSIPeriod, 0)
	gen := signal.NewGenerator(SignalConfig(r.Strategy))

	lastPrice := make(map[string]float64)
	var lastTime time.Time

	for _, c := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts := barTime(c)
		lastPrice[c.Symbol] = c.Close
		lastTime = ts
		sim.SetMarkPrice(c.Symbol, c.Close)

		// exits first, on the same bar's close
		if _, err := mgr.OnTick(ctx, c.Symbol, c.Close, ts); err != nil {
			return nil, fmt.Errorf("backtest tick %s at %s: %w", c.Symbol, ts, err)
		}

		in := gen.ReadFlow(r.Flow, ts)
		in.Indicators = eng.Update(c.Symbol, c.Close)

		sig, actionable := gen.Evaluate(c.Symbol, ts, in)
		if !actionable {
			continue
		}
		if _, open := mgr.Position(c.Symbol); open {
			// one position per symbol; the signal is consumed, not queued
			continue
		}
		if err := mgr.Open(ctx, c.Symbol, sig.Direction, c.Close, ts); err != nil {
			log.Printf("Backtest: open %s %s at %s skipped: %v", c.Symbol, sig.Direction, ts, err)
		}
	}

	if err := mgr.FlattenAll(ctx, lastTime, func(sym string) (float64, bool) {
		p, ok := lastPrice[sym]
		return p, ok
	}); err != nil {
		return nil, fmt.Errorf("backtest: flatten at end of data: %w", err)
	}

	trades := mgr.Trades()
	return &Result{
		Trades:  trades,
		Summary: metrics.Compute(trades, r.InitialBalance),
	}, nil
}

func barTime(c market.Candle) time.Time {
	if !c.CloseTime.IsZero() {
		return c.CloseTime
	}
	return c.OpenTime
}

// RiskConfig maps a strategy preset onto the risk manager's parameters.
func RiskConfig(s *config.Strategy) risk.Config {
	return risk.Config{
		RiskFraction:    s.RiskFraction,
		Leverage:        s.Leverage,
		StopLossPct:     s.StopLossPct,
		TakeProfitPct:   s.TakeProfitPct,
		TrailingStopPct: s.TrailingStopPct,
		MaxHold:         time.Duration(s.MaxHoldMinutes) * time.Minute,
	}
}

// SignalConfig maps a strategy preset onto the signal generator's
// parameters.
func SignalConfig(s *config.Strategy) signal.Config {
	return signal.Config{
		OversoldThreshold:   s.Oversold,
		OverboughtThreshold: s.Overbought,
		FlowShortThreshold:  s.FlowShortThreshold,
		FlowAggThreshold:    s.FlowAggThreshold,
		FlowAggWindows:      s.FlowAggWindows,
		Cooldown:            time.Duration(s.CooldownSeconds) * time.Second,
	}
}

// InstrumentMetas maps the preset's instruments onto venue metadata.
func InstrumentMetas(s *config.Strategy) []exchange.InstrumentMeta {
	out := make([]exchange.InstrumentMeta, len(s.Instruments))
	for i, inst := range s.Instruments {
		out[i] = exchange.InstrumentMeta{
			Symbol:         inst.Symbol,
			QtyPrecision:   inst.QtyPrecision,
			PricePrecision: inst.PricePrecision,
			FallbackPrice:  inst.FallbackPrice,
		}
	}
	return out
}
