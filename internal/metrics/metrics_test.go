package metrics

import (
	"math"
	"testing"
	"time"

	"flowtrader/internal/risk"
)

func tradesFromPnL(pnls ...float64) []risk.Trade {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]risk.Trade, len(pnls))
	for i, p := range pnls {
		out[i] = risk.Trade{
			Symbol:   "BTCUSDT",
			PnL:      p,
			ExitTime: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestComputeBasicRatios(t *testing.T) {
	s := Compute(tradesFromPnL(5, 10, -3), 1000)

	if s.TotalTrades != 3 || s.Wins != 2 || s.Losses != 1 {
		t.Fatalf("counts wrong: %+v", s)
	}
	if !approx(s.WinRate, 200.0/3) {
		t.Fatalf("win rate=%v, expected 66.67", s.WinRate)
	}
	if !approx(s.AvgWin, 7.5) {
		t.Fatalf("avg win=%v, expected 7.5", s.AvgWin)
	}
	if !approx(s.AvgLoss, -3) {
		t.Fatalf("avg loss=%v, expected -3", s.AvgLoss)
	}
	if !approx(s.ProfitFactor, 5) {
		t.Fatalf("profit factor=%v, expected 5", s.ProfitFactor)
	}
	if !approx(s.TotalPnL, 12) || !approx(s.FinalBalance, 1012) {
		t.Fatalf("pnl=%v final=%v", s.TotalPnL, s.FinalBalance)
	}
	if !approx(s.TotalReturnPct, 1.2) {
		t.Fatalf("return=%v, expected 1.2", s.TotalReturnPct)
	}
}

func TestProfitFactorInfiniteWhenLossless(t *testing.T) {
	s := Compute(tradesFromPnL(5, 10), 1000)
	if !math.IsInf(s.ProfitFactor, 1) {
		t.Fatalf("profit factor=%v, expected +Inf", s.ProfitFactor)
	}

	empty := Compute(nil, 1000)
	if empty.ProfitFactor != 0 {
		t.Fatalf("empty log profit factor=%v, expected 0", empty.ProfitFactor)
	}
	if empty.WinRate != 0 || empty.FinalBalance != 1000 {
		t.Fatalf("empty log summary wrong: %+v", empty)
	}
}

func TestZeroPnLCountsAsLoss(t *testing.T) {
	s := Compute(tradesFromPnL(0, 4), 1000)
	if s.Wins != 1 || s.Losses != 1 {
		t.Fatalf("wins=%d losses=%d, expected 1/1", s.Wins, s.Losses)
	}
	if !approx(s.AvgLoss, 0) {
		t.Fatalf("avg loss=%v, expected 0", s.AvgLoss)
	}
	// gross loss is zero, so the factor is still infinite
	if !math.IsInf(s.ProfitFactor, 1) {
		t.Fatalf("profit factor=%v, expected +Inf", s.ProfitFactor)
	}
}

func TestDrawdownAgainstRunningPeak(t *testing.T) {
	// 1000 -> 1100 -> 990 -> 1200: worst drawdown is 110/1100 = 10%
	s := Compute(tradesFromPnL(100, -110, 210), 1000)
	if !approx(s.MaxDrawdownPct, 10) {
		t.Fatalf("drawdown=%v, expected 10", s.MaxDrawdownPct)
	}
	if !approx(s.PeakBalance, 1200) {
		t.Fatalf("peak=%v, expected 1200", s.PeakBalance)
	}

	// monotone gains never draw down
	up := Compute(tradesFromPnL(1, 2, 3), 1000)
	if up.MaxDrawdownPct != 0 {
		t.Fatalf("drawdown=%v, expected 0", up.MaxDrawdownPct)
	}
}

func TestEquityCurveOrdering(t *testing.T) {
	s := Compute(tradesFromPnL(10, -5, 7), 100)
	if len(s.Equity) != 3 {
		t.Fatalf("equity points=%d, expected 3", len(s.Equity))
	}
	want := []float64{110, 105, 112}
	for i, p := range s.Equity {
		if !approx(p.Balance, want[i]) {
			t.Fatalf("equity[%d]=%v, expected %v", i, p.Balance, want[i])
		}
	}
	if !s.Equity[0].Time.Before(s.Equity[2].Time) {
		t.Fatal("equity curve times not ascending")
	}
}
