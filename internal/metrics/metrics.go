package metrics

import (
	"math"
	"time"

	"flowtrader/internal/risk"
)

// EquityPoint is the account balance after one closed trade.
type EquityPoint struct {
	Time    time.Time
	Balance float64
}

// Summary aggregates a closed-trade log. It is a pure function of the
// ordered log and the initial balance, so backtest and live reporting share
// one implementation.
type Summary struct {
	TotalTrades    int
	Wins           int
	Losses         int
	WinRate        float64 // percent of trades with pnl > 0
	AvgWin         float64
	AvgLoss        float64 // mean over trades with pnl <= 0
	ProfitFactor   float64 // gross win / gross loss; +Inf when lossless
	TotalPnL       float64
	TotalReturnPct float64
	MaxDrawdownPct float64 // >= 0, measured against the running peak
	InitialBalance float64
	FinalBalance   float64
	PeakBalance    float64
	Equity         []EquityPoint
}

// Compute walks the trade log in order, building the equity curve and the
// derived ratios. Trades must be ordered by exit time.
func Compute(trades []risk.Trade, initialBalance float64) Summary {
	s := Summary{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		PeakBalance:    initialBalance,
		Equity:         make([]EquityPoint, 0, len(trades)),
	}

	var grossWin, grossLoss float64
	balance := initialBalance
	peak := initialBalance

	for _, tr := range trades {
		s.TotalTrades++
		s.TotalPnL += tr.PnL
		if tr.PnL > 0 {
			s.Wins++
			grossWin += tr.PnL
		} else {
			s.Losses++
			grossLoss += -tr.PnL
		}

		balance += tr.PnL
		if balance > peak {
			peak = balance
		}
		if peak > 0 {
			dd := (peak - balance) / peak * 100
			if dd > s.MaxDrawdownPct {
				s.MaxDrawdownPct = dd
			}
		}
		s.Equity = append(s.Equity, EquityPoint{Time: tr.ExitTime, Balance: balance})
	}

	s.FinalBalance = balance
	s.PeakBalance = peak

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
	}
	if s.Wins > 0 {
		s.AvgWin = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		// grossLoss holds magnitudes; the average is reported signed
		sum := 0.0
		for _, tr := range trades {
			if tr.PnL <= 0 {
				sum += tr.PnL
			}
		}
		s.AvgLoss = sum / float64(s.Losses)
	}

	switch {
	case grossLoss > 0:
		s.ProfitFactor = grossWin / grossLoss
	case s.Wins > 0:
		s.ProfitFactor = math.Inf(1)
	}

	if initialBalance > 0 {
		s.TotalReturnPct = s.TotalPnL / initialBalance * 100
	}
	return s
}
