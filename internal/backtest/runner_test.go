package backtest

import (
	"context"
	"reflect"
	"testing"
	"time"

	"flowtrader/internal/flow"
	"flowtrader/internal/market"
	"flowtrader/internal/risk"
	"flowtrader/pkg/config"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func testStrategy() *config.Strategy {
	return &config.Strategy{
		Name:     "test",
		Interval: "5m",
		ShortMA:  3, LongMA: 5, RSIPeriod: 3,
		// rising closes pin RSI at 100; only the flow path should confirm
		Oversold: 5, Overbought: 99.5,
		FlowShortThreshold: 1e6,
		FlowAggThreshold:   1e12,
		FlowAggWindows:     12,
		CooldownSeconds:    300,
		RiskFraction:       0.2,
		Leverage:           1,
		StopLossPct:        -10,
		TakeProfitPct:      4,
		MaxHoldMinutes:     0,
		Instruments: []config.Instrument{
			{Symbol: "BTCUSDT", QtyPrecision: 3, PricePrecision: 2, FallbackPrice: 100},
		},
	}
}

func risingCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Symbol:   "BTCUSDT",
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     100 + float64(i) - 1,
			High:     100 + float64(i),
			Low:      99 + float64(i),
			Close:    100 + float64(i),
			Volume:   10,
		}
	}
	return out
}

func bullishFlow(n int) flow.Feed {
	samples := make([]flow.Sample, n)
	for i := range samples {
		samples[i] = flow.Sample{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Windows:   map[string]float64{flow.Window5m: -2e6},
		}
	}
	return flow.NewMemoryFeed(samples)
}

func TestRunOpensAndTakesProfit(t *testing.T) {
	r := &Runner{
		Strategy:       testStrategy(),
		Flow:           bullishFlow(10),
		InitialBalance: 10000,
	}
	res, err := r.Run(context.Background(), risingCandles(10))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, expected 2: %+v", len(res.Trades), res.Trades)
	}

	first := res.Trades[0]
	if first.Reason != risk.ExitTakeProfit {
		t.Fatalf("first trade reason=%v, expected TAKE_PROFIT", first.Reason)
	}
	if first.Direction != "LONG" || first.EntryPrice != 104 || first.ExitPrice != 109 {
		t.Fatalf("first trade wrong: %+v", first)
	}
	if first.PnL <= 0 {
		t.Fatalf("take-profit pnl=%v, expected positive", first.PnL)
	}

	// end-of-data flatten closes the reopened position
	last := res.Trades[1]
	if last.Reason != risk.ExitManual {
		t.Fatalf("last trade reason=%v, expected MANUAL flatten", last.Reason)
	}

	if res.Summary.TotalTrades != 2 || res.Summary.Wins != 1 {
		t.Fatalf("summary wrong: %+v", res.Summary)
	}
	if res.Summary.FinalBalance != 10000+res.Summary.TotalPnL {
		t.Fatalf("final balance %v inconsistent with pnl %v",
			res.Summary.FinalBalance, res.Summary.TotalPnL)
	}
}

func TestRunWithoutFlowStaysFlat(t *testing.T) {
	r := &Runner{
		Strategy:       testStrategy(),
		InitialBalance: 10000,
	}
	res, err := r.Run(context.Background(), risingCandles(10))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("got %d trades with no confirming flow, expected 0", len(res.Trades))
	}
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() *Result {
		r := &Runner{
			Strategy:       testStrategy(),
			Flow:           bullishFlow(10),
			InitialBalance: 10000,
		}
		res, err := r.Run(context.Background(), risingCandles(10))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a.Trades, b.Trades) {
		t.Fatalf("trade logs differ:\n%+v\n%+v", a.Trades, b.Trades)
	}
	if !reflect.DeepEqual(a.Summary, b.Summary) {
		t.Fatalf("summaries differ:\n%+v\n%+v", a.Summary, b.Summary)
	}
}

func TestRunRejectsEmptyInputs(t *testing.T) {
	r := &Runner{Strategy: testStrategy(), InitialBalance: 10000}
	if _, err := r.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty candle series")
	}
	empty := &Runner{InitialBalance: 10000}
	if _, err := empty.Run(context.Background(), risingCandles(3)); err == nil {
		t.Fatal("expected error for missing strategy")
	}
}
