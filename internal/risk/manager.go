package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"flowtrader/internal/events"
	"flowtrader/internal/signal"
	"flowtrader/internal/sizing"
	"flowtrader/pkg/exchange"
)

// Config holds the per-strategy risk parameters applied to every position.
type Config struct {
	RiskFraction    float64       // fraction of available balance at risk
	Leverage        float64
	StopLossPct     float64       // price percent, negative
	TakeProfitPct   float64       // price percent, positive
	TrailingStopPct float64       // price fraction, 0 disables trailing
	MaxHold         time.Duration // 0 disables the timeout close
}

// Manager owns the position lifecycle: sizing, entry, protective orders,
// exit evaluation and trade emission. One position per symbol; mutations on
// a symbol are serialized through the store's slot lock.
type Manager struct {
	cfg         Config
	gateway     exchange.Gateway
	instruments exchange.InstrumentSource
	store       *PositionStore
	bus         *events.Bus
	retry       exchange.RetryPolicy

	mu     sync.Mutex
	trades []Trade
}

// NewManager creates a risk manager using the default venue retry policy.
func NewManager(cfg Config, gw exchange.Gateway, instruments exchange.InstrumentSource, bus *events.Bus) *Manager {
	return &Manager{
		cfg:         cfg,
		gateway:     gw,
		instruments: instruments,
		store:       NewPositionStore(),
		bus:         bus,
		retry:       exchange.DefaultRetryPolicy(),
	}
}

// SetRetryPolicy overrides the venue retry discipline, mainly for tests and
// backtests where real backoff pauses are unwanted.
func (m *Manager) SetRetryPolicy(p exchange.RetryPolicy) { m.retry = p }

// Open sizes and opens a position for symbol in the signal direction. The
// sequence is: size from account balance, submit the entry order, confirm
// the fill against the venue's open positions, then place the reduce-only
// stop-loss and take-profit orders. An entry rejection leaves the slot flat;
// a failure after the fill moves the slot to StateError and raises an alert,
// since the position is live without protection.
func (m *Manager) Open(ctx context.Context, symbol string, dir signal.Direction, entryPrice float64, now time.Time) error {
	if dir != signal.Long && dir != signal.Short {
		return fmt.Errorf("open %s: direction %q is not tradable", symbol, dir)
	}
	if entryPrice <= 0 {
		return fmt.Errorf("open %s: %w: %v", symbol, exchange.ErrInvalidPrice, entryPrice)
	}

	sl := m.store.slot(symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.pos != nil && sl.pos.State != StateFlat {
		return fmt.Errorf("%w: %s is %s", ErrPositionExists, symbol, sl.pos.State)
	}

	meta, err := m.instruments.Instrument(symbol)
	if err != nil {
		return fmt.Errorf("open %s: instrument metadata: %w", symbol, err)
	}

	var acct exchange.AccountState
	err = m.retry.Do(ctx, "account state", func(ctx context.Context) error {
		var e error
		acct, e = m.gateway.AccountState(ctx)
		return e
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", symbol, err)
	}

	qty, err := sizing.Quantity(sizing.Params{
		AvailableBalance: acct.AvailableBalance,
		RiskFraction:     m.cfg.RiskFraction,
		Leverage:         m.cfg.Leverage,
		StopLossPct:      m.cfg.StopLossPct,
		EntryPrice:       entryPrice,
		QtyPrecision:     meta.QtyPrecision,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", symbol, err)
	}

	pos := &Position{
		Symbol:          symbol,
		Direction:       dir,
		EntryPrice:      entryPrice,
		Qty:             qty,
		Leverage:        m.cfg.Leverage,
		StopLossPct:     m.cfg.StopLossPct,
		TakeProfitPct:   m.cfg.TakeProfitPct,
		TrailingStopPct: m.cfg.TrailingStopPct,
		EntryTime:       now,
		State:           StateOpening,
	}
	sl.pos = pos

	side := exchange.SideBuy
	if dir == signal.Short {
		side = exchange.SideSell
	}

	var orderID string
	err = m.retry.Do(ctx, "entry order", func(ctx context.Context) error {
		var e error
		orderID, e = m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:   symbol,
			Side:     side,
			Type:     exchange.OrderTypeMarket,
			Qty:      qty,
			Leverage: int(m.cfg.Leverage),
		})
		return e
	})
	if err != nil {
		sl.pos = nil
		m.publish(events.EventOrderRejected, Trade{Symbol: symbol, Direction: dir, Qty: qty, EntryTime: now})
		log.Printf("Risk: entry order rejected for %s: %v", symbol, err)
		return fmt.Errorf("open %s: %w", symbol, err)
	}
	pos.EntryOrderID = orderID

	// Confirm the fill; the venue's entry price is authoritative.
	var recs []exchange.PositionRecord
	err = m.retry.Do(ctx, "confirm position", func(ctx context.Context) error {
		var e error
		recs, e = m.gateway.OpenPositions(ctx)
		return e
	})
	if err != nil {
		return m.degrade(pos, fmt.Errorf("open %s: confirm after fill: %w", symbol, err))
	}
	for _, r := range recs {
		if r.Symbol == symbol && r.EntryPrice > 0 {
			pos.EntryPrice = r.EntryPrice
			break
		}
	}

	pos.StopPrice = roundPrice(ProtectivePrice(dir, pos.EntryPrice, m.cfg.StopLossPct), meta.PricePrecision)
	pos.TakeProfitPrice = roundPrice(ProtectivePrice(dir, pos.EntryPrice, m.cfg.TakeProfitPct), meta.PricePrecision)

	if err := m.placeProtective(ctx, pos); err != nil {
		return m.degrade(pos, fmt.Errorf("open %s: %w", symbol, err))
	}

	pos.ExtremePrice = pos.EntryPrice
	pos.State = StateOpen
	log.Printf("Risk: opened %s %s qty=%v entry=%v sl=%v tp=%v",
		symbol, dir, qty, pos.EntryPrice, pos.StopPrice, pos.TakeProfitPrice)
	m.publish(events.EventPositionOpened, *pos)
	return nil
}

// placeProtective submits the reduce-only stop-loss and take-profit orders.
func (m *Manager) placeProtective(ctx context.Context, pos *Position) error {
	closeSide := exchange.SideSell
	if pos.Direction == signal.Short {
		closeSide = exchange.SideBuy
	}

	err := m.retry.Do(ctx, "stop loss order", func(ctx context.Context) error {
		id, e := m.gateway.PlaceConditionalOrder(ctx, exchange.ConditionalOrderRequest{
			Symbol:    pos.Symbol,
			Side:      closeSide,
			Kind:      exchange.ConditionalStop,
			StopPrice: pos.StopPrice,
			Qty:       pos.Qty,
		})
		if e == nil {
			pos.StopOrderID = id
		}
		return e
	})
	if err != nil {
		return err
	}

	return m.retry.Do(ctx, "take profit order", func(ctx context.Context) error {
		id, e := m.gateway.PlaceConditionalOrder(ctx, exchange.ConditionalOrderRequest{
			Symbol:    pos.Symbol,
			Side:      closeSide,
			Kind:      exchange.ConditionalTakeProfit,
			StopPrice: pos.TakeProfitPrice,
			Qty:       pos.Qty,
		})
		if e == nil {
			pos.TPOrderID = id
		}
		return e
	})
}

// degrade moves a filled-but-unprotected position into StateError and
// raises a risk alert. The position stays tracked so reconciliation or a
// manual close can still act on it.
func (m *Manager) degrade(pos *Position, err error) error {
	pos.State = StateError
	log.Printf("Risk: ALERT %s entered error state: %v", pos.Symbol, err)
	m.publish(events.EventRiskAlert, *pos)
	return err
}

// OnTick evaluates an open position against the latest price. The extreme
// price is updated first, then exits are checked in fixed priority: take
// profit, stop loss, trailing stop, max-hold timeout. Boundary touches
// count as hits. Returns true when the position was closed.
func (m *Manager) OnTick(ctx context.Context, symbol string, price float64, now time.Time) (bool, error) {
	if price <= 0 {
		return false, nil
	}

	sl := m.store.slot(symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	pos := sl.pos
	if pos == nil || pos.State != StateOpen {
		return false, nil
	}

	if pos.Direction == signal.Long {
		if price > pos.ExtremePrice {
			pos.ExtremePrice = price
		}
	} else if price < pos.ExtremePrice {
		pos.ExtremePrice = price
	}

	reason, hit := m.exitReason(pos, price, now)
	if !hit {
		return false, nil
	}
	if err := m.closeLocked(ctx, sl, price, now, reason); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) exitReason(pos *Position, price float64, now time.Time) (ExitReason, bool) {
	if pos.Direction == signal.Long {
		if price >= pos.TakeProfitPrice {
			return ExitTakeProfit, true
		}
		if price <= pos.StopPrice {
			return ExitStopLoss, true
		}
		if pos.TrailingStopPct > 0 && price <= pos.ExtremePrice*(1-pos.TrailingStopPct) {
			return ExitTrailingStop, true
		}
	} else {
		if price <= pos.TakeProfitPrice {
			return ExitTakeProfit, true
		}
		if price >= pos.StopPrice {
			return ExitStopLoss, true
		}
		if pos.TrailingStopPct > 0 && price >= pos.ExtremePrice*(1+pos.TrailingStopPct) {
			return ExitTrailingStop, true
		}
	}
	if m.cfg.MaxHold > 0 && now.Sub(pos.EntryTime) >= m.cfg.MaxHold {
		return ExitTimeout, true
	}
	return "", false
}

// Close closes the position for symbol at price with a MANUAL exit reason.
func (m *Manager) Close(ctx context.Context, symbol string, price float64, now time.Time) error {
	sl := m.store.slot(symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.pos == nil || (sl.pos.State != StateOpen && sl.pos.State != StateError) {
		return fmt.Errorf("%w: %s", ErrNotOpen, symbol)
	}
	return m.closeLocked(ctx, sl, price, now, ExitManual)
}

// closeLocked cancels protective orders, submits the reduce-only close and
// emits the trade. Caller holds the slot lock.
func (m *Manager) closeLocked(ctx context.Context, sl *slot, exitPrice float64, now time.Time, reason ExitReason) error {
	pos := sl.pos
	pos.State = StateClosing

	for _, id := range []string{pos.StopOrderID, pos.TPOrderID} {
		if id == "" {
			continue
		}
		cancelErr := m.retry.Do(ctx, "cancel order", func(ctx context.Context) error {
			return m.gateway.CancelOrder(ctx, pos.Symbol, id)
		})
		if cancelErr != nil {
			log.Printf("Risk: cancel %s on %s failed: %v", id, pos.Symbol, cancelErr)
		}
	}

	closeSide := exchange.SideSell
	if pos.Direction == signal.Short {
		closeSide = exchange.SideBuy
	}
	err := m.retry.Do(ctx, "close order", func(ctx context.Context) error {
		_, e := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       closeSide,
			Type:       exchange.OrderTypeMarket,
			Qty:        pos.Qty,
			ReduceOnly: true,
		})
		return e
	})
	if err != nil {
		return m.degrade(pos, fmt.Errorf("close %s: %w", pos.Symbol, err))
	}

	trade := Trade{
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Qty:        pos.Qty,
		Leverage:   pos.Leverage,
		PnL:        PnL(pos.Direction, pos.EntryPrice, exitPrice, pos.Qty, pos.Leverage),
		Reason:     reason,
		EntryTime:  pos.EntryTime,
		ExitTime:   now,
	}

	m.mu.Lock()
	m.trades = append(m.trades, trade)
	m.mu.Unlock()

	sl.pos = nil
	log.Printf("Risk: closed %s %s exit=%v pnl=%.4f reason=%s",
		trade.Symbol, trade.Direction, exitPrice, trade.PnL, reason)
	m.publish(events.EventTrade, trade)
	m.publish(events.EventPositionClosed, trade)
	return nil
}

// FlattenAll closes every open position, resolving each exit price through
// markPrice. Used on shutdown; failures are joined so one stuck symbol does
// not hide the rest.
func (m *Manager) FlattenAll(ctx context.Context, now time.Time, markPrice func(symbol string) (float64, bool)) error {
	var errs []error
	for _, pos := range m.store.Snapshot() {
		if pos.State != StateOpen && pos.State != StateError {
			continue
		}
		price, ok := markPrice(pos.Symbol)
		if !ok || price <= 0 {
			price = pos.EntryPrice
			log.Printf("Risk: no mark price for %s, flattening at entry %v", pos.Symbol, price)
		}
		if err := m.Close(ctx, pos.Symbol, price, now); err != nil && !errors.Is(err, ErrNotOpen) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Position returns a copy of the tracked position for symbol.
func (m *Manager) Position(symbol string) (Position, bool) {
	return m.store.Get(symbol)
}

// OpenPositions returns copies of all positions currently in StateOpen.
func (m *Manager) OpenPositions() []Position {
	var out []Position
	for _, pos := range m.store.Snapshot() {
		if pos.State == StateOpen {
			out = append(out, pos)
		}
	}
	return out
}

// UpdateProtectiveIntent overwrites the stored stop or take-profit percent
// and price after reconciliation decided the venue's working order is
// authoritative.
func (m *Manager) UpdateProtectiveIntent(symbol string, kind exchange.ConditionalKind, pct, price float64) bool {
	sl := m.store.slot(symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pos == nil {
		return false
	}
	switch kind {
	case exchange.ConditionalStop:
		sl.pos.StopLossPct = pct
		sl.pos.StopPrice = price
	case exchange.ConditionalTakeProfit:
		sl.pos.TakeProfitPct = pct
		sl.pos.TakeProfitPrice = price
	default:
		return false
	}
	return true
}

// UnrealizedPnL computes mark-to-market profit for the open position.
func (m *Manager) UnrealizedPnL(symbol string, price float64) (float64, bool) {
	pos, ok := m.store.Get(symbol)
	if !ok || pos.State != StateOpen {
		return 0, false
	}
	return PnL(pos.Direction, pos.EntryPrice, price, pos.Qty, pos.Leverage), true
}

// Trades returns a copy of the in-memory trade log, oldest first.
func (m *Manager) Trades() []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

func (m *Manager) publish(e events.Event, payload any) {
	if m.bus != nil {
		m.bus.Publish(e, payload)
	}
}

func roundPrice(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	scale := math.Pow10(precision)
	return math.Round(v*scale) / scale
}
