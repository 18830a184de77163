package risk

import (
	"errors"
	"time"

	"flowtrader/internal/signal"
)

// State is the lifecycle state of a per-symbol position slot.
type State string

const (
	StateFlat    State = "FLAT"
	StateOpening State = "OPENING"
	StateOpen    State = "OPEN"
	StateClosing State = "CLOSING"
	StateError   State = "ERROR"
)

// ExitReason labels why a position was closed. Exactly one reason is
// recorded per trade.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitManual       ExitReason = "MANUAL"
	ExitTimeout      ExitReason = "TIMEOUT"
)

var (
	// ErrPositionExists reports an open attempt on a symbol that already
	// holds a position.
	ErrPositionExists = errors.New("position already open for symbol")
	// ErrNotOpen reports a close or tick action on a symbol with no open
	// position.
	ErrNotOpen = errors.New("no open position for symbol")
)

// Position is the engine's view of one open position plus the protective
// intent it was opened with. Percent fields are price percents (stop loss
// negative, take profit positive); reconciliation may rewrite them from
// venue prices. TrailingStopPct is a plain price fraction, 0 disables
// trailing.
type Position struct {
	Symbol          string
	Direction       signal.Direction
	EntryPrice      float64
	Qty             float64
	Leverage        float64
	StopLossPct     float64
	TakeProfitPct   float64
	TrailingStopPct float64
	StopPrice       float64
	TakeProfitPrice float64
	ExtremePrice    float64
	EntryTime       time.Time
	State           State
	EntryOrderID    string
	StopOrderID     string
	TPOrderID       string
}

// Trade is an immutable record of a closed position.
type Trade struct {
	Symbol     string
	Direction  signal.Direction
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	Leverage   float64
	PnL        float64
	Reason     ExitReason
	EntryTime  time.Time
	ExitTime   time.Time
}

// ProtectivePrice converts a percent into a price level relative to entry.
// The percent is a raw price distance: placing the stop at it makes the
// realized loss on a stop fill equal the sized risk amount exactly. For
// longs the percent applies directly; for shorts the sign flips so a
// negative stop-loss percent lands above entry.
func ProtectivePrice(dir signal.Direction, entry, pct float64) float64 {
	move := pct / 100
	if dir == signal.Short {
		move = -move
	}
	return entry * (1 + move)
}

// PnL computes realized or unrealized profit for a position at price. The
// leveraged price-change identity keeps backtest and live accounting equal:
//
//	pnl = qty * entry * (price-entry)/entry * leverage
//
// negated for shorts.
func PnL(dir signal.Direction, entry, price, qty, leverage float64) float64 {
	if entry == 0 {
		return 0
	}
	ratio := (price - entry) / entry
	if dir == signal.Short {
		ratio = -ratio
	}
	return qty * entry * ratio * leverage
}
