package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Sim is a deterministic in-process venue used by the backtester and by
// dry-run live mode. Fills are immediate at the current mark price, order
// IDs are sequential, and the balance is local bookkeeping since no external
// ledger exists.
type Sim struct {
	mu           sync.Mutex
	balance      float64
	marks        map[string]float64
	positions    map[string]*simPosition
	conditionals map[string][]OrderRecord
	instruments  map[string]InstrumentMeta
	nextID       int

	failOrders       error // when set, PlaceOrder fails with this error
	failConditionals error // when set, PlaceConditionalOrder fails
}

type simPosition struct {
	qty        float64 // signed: >0 long, <0 short
	entryPrice float64
	leverage   float64
}

// NewSim creates a simulated venue with an initial balance.
func NewSim(initialBalance float64, instruments []InstrumentMeta) *Sim {
	im := make(map[string]InstrumentMeta, len(instruments))
	for _, m := range instruments {
		im[m.Symbol] = m
	}
	return &Sim{
		balance:      initialBalance,
		marks:        make(map[string]float64),
		positions:    make(map[string]*simPosition),
		conditionals: make(map[string][]OrderRecord),
		instruments:  im,
	}
}

// SetMarkPrice advances the simulated mark price for a symbol.
func (s *Sim) SetMarkPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[symbol] = price
}

// MarkPrice returns the current mark, 0 when unknown.
func (s *Sim) MarkPrice(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[symbol]
}

// FailOrders forces subsequent PlaceOrder calls to fail with err
// (nil restores normal behavior). Used to exercise rejection paths.
func (s *Sim) FailOrders(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOrders = err
}

// FailConditionalOrders forces subsequent PlaceConditionalOrder calls to
// fail with err (nil restores normal behavior).
func (s *Sim) FailConditionalOrders(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failConditionals = err
}

// AdjustBalance applies realized pnl bookkeeping.
func (s *Sim) AdjustBalance(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance += delta
}

func (s *Sim) AccountState(ctx context.Context) (AccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unrealized := 0.0
	for sym, p := range s.positions {
		mark, ok := s.marks[sym]
		if !ok || p.qty == 0 {
			continue
		}
		lev := p.leverage
		if lev <= 0 {
			lev = 1
		}
		unrealized += (mark - p.entryPrice) * p.qty * lev
	}
	return AccountState{
		TotalBalance:     s.balance,
		AvailableBalance: s.balance,
		UnrealizedPnL:    unrealized,
	}, nil
}

func (s *Sim) OpenPositions(ctx context.Context) ([]PositionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PositionRecord
	for sym, p := range s.positions {
		if p.qty == 0 {
			continue
		}
		out = append(out, PositionRecord{
			Symbol:     sym,
			Qty:        p.qty,
			EntryPrice: p.entryPrice,
			Leverage:   p.leverage,
			MarkPrice:  s.marks[sym],
		})
	}
	return out, nil
}

func (s *Sim) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOrders != nil {
		return "", fmt.Errorf("%w: %v", ErrOrderRejected, s.failOrders)
	}
	if req.Qty <= 0 {
		return "", fmt.Errorf("%w: qty %v", ErrOrderRejected, req.Qty)
	}

	price := req.Price
	if req.Type == OrderTypeMarket {
		price = s.marks[req.Symbol]
	}
	if price <= 0 {
		return "", fmt.Errorf("%w: no mark price for %s", ErrInvalidPrice, req.Symbol)
	}

	pos, ok := s.positions[req.Symbol]
	if !ok {
		pos = &simPosition{}
		s.positions[req.Symbol] = pos
	}

	signed := req.Qty
	if req.Side == SideSell {
		signed = -req.Qty
	}

	switch {
	case pos.qty == 0:
		pos.qty = signed
		pos.entryPrice = price
		pos.leverage = float64(req.Leverage)
		if pos.leverage == 0 {
			pos.leverage = 1
		}
	case req.ReduceOnly || sameSign(pos.qty, -signed):
		// closing (fully or partially): realize leveraged pnl into the
		// local ledger so the balance tracks the trade log
		closeQty := math.Min(math.Abs(signed), math.Abs(pos.qty))
		direction := 1.0
		if pos.qty < 0 {
			direction = -1
		}
		lev := pos.leverage
		if lev <= 0 {
			lev = 1
		}
		s.balance += (price - pos.entryPrice) * closeQty * direction * lev
		pos.qty -= math.Copysign(closeQty, pos.qty)
		if pos.qty == 0 {
			pos.entryPrice = 0
		}
	default:
		// adding to an existing position: blend the entry
		newQty := pos.qty + signed
		pos.entryPrice = (pos.entryPrice*math.Abs(pos.qty) + price*math.Abs(signed)) / math.Abs(newQty)
		pos.qty = newQty
	}

	s.nextID++
	return fmt.Sprintf("SIM-%d", s.nextID), nil
}

func (s *Sim) PlaceConditionalOrder(ctx context.Context, req ConditionalOrderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failConditionals != nil {
		return "", fmt.Errorf("%w: %v", ErrOrderRejected, s.failConditionals)
	}
	if req.StopPrice <= 0 {
		return "", fmt.Errorf("%w: stop price %v", ErrInvalidPrice, req.StopPrice)
	}

	s.nextID++
	id := fmt.Sprintf("SIM-%d", s.nextID)
	s.conditionals[req.Symbol] = append(s.conditionals[req.Symbol], OrderRecord{
		OrderID:   id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      string(req.Kind),
		StopPrice: req.StopPrice,
		Qty:       req.Qty,
	})
	return id, nil
}

func (s *Sim) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := s.conditionals[symbol]
	for i, o := range orders {
		if o.OrderID == orderID {
			s.conditionals[symbol] = append(orders[:i], orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cancel %s: order %s not found", symbol, orderID)
}

func (s *Sim) OpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]OrderRecord, len(s.conditionals[symbol]))
	copy(out, s.conditionals[symbol])
	return out, nil
}

// Instrument implements InstrumentSource.
func (s *Sim) Instrument(symbol string) (InstrumentMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.instruments[symbol]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("%w: unknown instrument %s", ErrConfiguration, symbol)
	}
	return m, nil
}

// CancelAll removes every working conditional order for a symbol.
func (s *Sim) CancelAll(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conditionals, symbol)
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
