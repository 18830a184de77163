package risk

import "sync"

// slot holds the per-symbol position and its lock. All mutations to a
// symbol's position happen under the slot lock, so concurrent ticks and
// signals for the same symbol are serialized while different symbols
// proceed independently.
type slot struct {
	mu  sync.Mutex
	pos *Position
}

// PositionStore keys position slots by symbol.
type PositionStore struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{slots: make(map[string]*slot)}
}

// slot returns the slot for symbol, creating it on first use.
func (s *PositionStore) slot(symbol string) *slot {
	s.mu.RLock()
	sl, ok := s.slots[symbol]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[symbol]; ok {
		return sl
	}
	sl = &slot{}
	s.slots[symbol] = sl
	return sl
}

// Get returns a copy of the position for symbol.
func (s *PositionStore) Get(symbol string) (Position, bool) {
	sl := s.slot(symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pos == nil {
		return Position{}, false
	}
	return *sl.pos, true
}

// Snapshot returns copies of every tracked position, open or not flat.
func (s *PositionStore) Snapshot() []Position {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.slots))
	for sym := range s.slots {
		symbols = append(symbols, sym)
	}
	s.mu.RUnlock()

	var out []Position
	for _, sym := range symbols {
		if pos, ok := s.Get(sym); ok {
			out = append(out, pos)
		}
	}
	return out
}
