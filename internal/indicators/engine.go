package indicators

import "sync"

// Snapshot holds the latest computed indicator values for one symbol.
// The Ready flags distinguish "not enough data yet" from a real zero.
type Snapshot struct {
	ShortMA    float64
	LongMA     float64
	RSI        float64
	TrendReady bool
	RSIReady   bool
}

// Engine maintains per-symbol closing-price windows and computes the
// indicators the signal generator needs.
type Engine struct {
	mu        sync.Mutex
	closes    map[string][]float64
	window    int
	shortMA   int
	longMA    int
	rsiPeriod int
}

// NewEngine builds an indicator engine. The retained window is widened to
// cover the slowest lookback if the caller passes something smaller.
func NewEngine(shortMA, longMA, rsiPeriod, window int) *Engine {
	if window < longMA {
		window = longMA
	}
	if window < rsiPeriod+1 {
		window = rsiPeriod + 1
	}
	return &Engine{
		closes:    make(map[string][]float64),
		window:    window,
		shortMA:   shortMA,
		longMA:    longMA,
		rsiPeriod: rsiPeriod,
	}
}

// Update ingests a new closing price and returns the latest snapshot.
func (e *Engine) Update(symbol string, close float64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	arr := append(e.closes[symbol], close)
	if len(arr) > e.window {
		arr = arr[len(arr)-e.window:]
	}
	e.closes[symbol] = arr

	return e.snapshotLocked(arr)
}

// Snapshot recomputes indicators from the current window without ingesting.
func (e *Engine) Snapshot(symbol string) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.closes[symbol])
}

func (e *Engine) snapshotLocked(arr []float64) Snapshot {
	var snap Snapshot
	short, shortOK := SMA(arr, e.shortMA)
	long, longOK := SMA(arr, e.longMA)
	rsi, rsiOK := RSI(arr, e.rsiPeriod)

	snap.ShortMA = short
	snap.LongMA = long
	snap.RSI = rsi
	snap.TrendReady = shortOK && longOK
	snap.RSIReady = rsiOK
	return snap
}

// Reset drops all accumulated state for a symbol.
func (e *Engine) Reset(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.closes, symbol)
}
