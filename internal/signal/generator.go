package signal

import (
	"sync"
	"time"

	"flowtrader/internal/flow"
	"flowtrader/internal/indicators"
)

// Direction is the side a signal points at.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	None  Direction = "NONE"
)

// Trigger records which confirming condition fired first. RSI is evaluated
// before flow, so a bar satisfying both is labelled TriggerTrendRSI.
type Trigger string

const (
	TriggerTrendRSI  Trigger = "TREND_RSI"
	TriggerTrendFlow Trigger = "TREND_FLOW"
)

// Signal is a directional decision for one bar close. It is transient; only
// the dedup bookkeeping outlives the bar.
type Signal struct {
	Symbol    string
	Timestamp time.Time
	Direction Direction
	Trigger   Trigger

	// Observability context
	RSI       float64
	FlowShort float64
	FlowAgg   float64
}

// Config parameterizes signal generation. One explicit structure replaces
// the hardcoded per-revision constants of earlier strategy drafts.
type Config struct {
	OversoldThreshold   float64 // RSI long confirmation, e.g. 30
	OverboughtThreshold float64 // RSI short confirmation, e.g. 70
	FlowShortThreshold  float64 // magnitude for the short-window flow, e.g. 1e6
	FlowAggThreshold    float64 // magnitude for the aggregated flow, e.g. 5e6
	FlowAggWindows      int     // samples summed into the aggregate, e.g. 12
	Cooldown            time.Duration
}

// Inputs bundles the per-bar readings the generator consumes.
type Inputs struct {
	Indicators indicators.Snapshot
	FlowShort  float64
	FlowOK     bool
	FlowAgg    float64
	FlowAggOK  bool
}

type lastAction struct {
	direction Direction
	at        time.Time
}

// Generator turns indicator and flow readings into deduplicated directional
// signals, one evaluation per bar close per symbol.
type Generator struct {
	cfg Config

	mu   sync.Mutex
	last map[string]lastAction
}

// NewGenerator builds a generator; a zero cooldown falls back to 300s.
func NewGenerator(cfg Config) *Generator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 300 * time.Second
	}
	return &Generator{
		cfg:  cfg,
		last: make(map[string]lastAction),
	}
}

// Evaluate computes the raw signal for a bar and applies dedup/cooldown.
// actionable is false either because no direction fired or because the same
// direction was actioned within the cooldown interval. An actionable result
// is recorded as the new previously-actioned signal.
func (g *Generator) Evaluate(symbol string, ts time.Time, in Inputs) (Signal, bool) {
	sig := g.raw(symbol, ts, in)
	if sig.Direction == None {
		return sig, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, seen := g.last[symbol]
	if seen && prev.direction == sig.Direction && ts.Sub(prev.at) < g.cfg.Cooldown {
		return sig, false
	}

	g.last[symbol] = lastAction{direction: sig.Direction, at: ts}
	return sig, true
}

// raw applies the trend + confirmation rules without dedup. Trend and a
// confirming reading are both required: a strong RSI or flow reading with no
// trend does not fire.
func (g *Generator) raw(symbol string, ts time.Time, in Inputs) Signal {
	sig := Signal{
		Symbol:    symbol,
		Timestamp: ts,
		Direction: None,
		RSI:       in.Indicators.RSI,
		FlowShort: in.FlowShort,
		FlowAgg:   in.FlowAgg,
	}

	ind := in.Indicators
	if !ind.TrendReady || !ind.RSIReady {
		return sig
	}

	bullishTrend := ind.ShortMA > ind.LongMA
	bearishTrend := ind.ShortMA < ind.LongMA

	flowBullish := (in.FlowOK && in.FlowShort < -g.cfg.FlowShortThreshold) ||
		(in.FlowAggOK && in.FlowAgg < -g.cfg.FlowAggThreshold)
	flowBearish := (in.FlowOK && in.FlowShort > g.cfg.FlowShortThreshold) ||
		(in.FlowAggOK && in.FlowAgg > g.cfg.FlowAggThreshold)

	switch {
	case bullishTrend && ind.RSI < g.cfg.OversoldThreshold:
		sig.Direction = Long
		sig.Trigger = TriggerTrendRSI
	case bullishTrend && flowBullish:
		sig.Direction = Long
		sig.Trigger = TriggerTrendFlow
	case bearishTrend && ind.RSI > g.cfg.OverboughtThreshold:
		sig.Direction = Short
		sig.Trigger = TriggerTrendRSI
	case bearishTrend && flowBearish:
		sig.Direction = Short
		sig.Trigger = TriggerTrendFlow
	}

	return sig
}

// ReadFlow resolves the two flow readings for a bar from a feed.
func (g *Generator) ReadFlow(feed flow.Feed, ts time.Time) Inputs {
	var in Inputs
	if feed == nil {
		return in
	}
	in.FlowShort, in.FlowOK = flow.ShortWindowFlow(feed, ts, flow.Window5m)
	in.FlowAgg, in.FlowAggOK = flow.AggregatedFlow(feed, ts, g.cfg.FlowAggWindows)
	return in
}

// Reset clears dedup state for a symbol.
func (g *Generator) Reset(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, symbol)
}
