package sizing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSizing reports a computed quantity of zero or less, typically a
// balance too small for the instrument's quantity precision.
var ErrInvalidSizing = errors.New("computed position size is zero or negative")

// Params are the inputs to a position-size calculation.
type Params struct {
	AvailableBalance float64
	RiskFraction     float64 // fraction of available balance at risk, (0,1]
	Leverage         float64
	StopLossPct      float64 // negative, in leveraged percent (e.g. -5.0)
	EntryPrice       float64
	QtyPrecision     int // instrument quantity precision (decimal places)
}

// Quantity converts a risk budget into a contract quantity such that a fill
// at the stop price loses exactly availableBalance*riskFraction:
//
//	qty = riskAmount / (stopDistance * leverage * entryPrice)
//
// where stopDistance = |stopLossPct|/100. The result is rounded down to the
// instrument's quantity precision. Scaling risk by leverage without the
// stop-distance normalization breaks that identity and is deliberately not
// offered.
func Quantity(p Params) (float64, error) {
	if p.RiskFraction <= 0 || p.RiskFraction > 1 {
		return 0, fmt.Errorf("risk fraction %v outside (0,1]", p.RiskFraction)
	}
	if p.Leverage <= 0 {
		return 0, fmt.Errorf("leverage %v must be positive", p.Leverage)
	}
	if p.EntryPrice <= 0 {
		return 0, fmt.Errorf("entry price %v must be positive", p.EntryPrice)
	}
	if p.StopLossPct >= 0 {
		return 0, fmt.Errorf("stop loss percent %v must be negative", p.StopLossPct)
	}
	if p.AvailableBalance <= 0 {
		return 0, fmt.Errorf("available balance %v must be positive", p.AvailableBalance)
	}

	stopDistance := math.Abs(p.StopLossPct) / 100
	riskAmount := p.AvailableBalance * p.RiskFraction
	qty := riskAmount / (stopDistance * p.Leverage * p.EntryPrice)

	qty = RoundDown(qty, p.QtyPrecision)
	if qty <= 0 {
		return 0, fmt.Errorf("%w: balance %.2f risk %.2f entry %.2f",
			ErrInvalidSizing, p.AvailableBalance, riskAmount, p.EntryPrice)
	}
	return qty, nil
}

// RoundDown truncates v to the given number of decimal places. Rounding to
// nearest could size above the risk budget, so truncation is required.
func RoundDown(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	scale := math.Pow10(precision)
	return math.Floor(v*scale) / scale
}
