package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Instrument is the per-symbol metadata carried in the strategy preset.
type Instrument struct {
	Symbol         string  `yaml:"symbol"`
	QtyPrecision   int     `yaml:"qty_precision"`
	PricePrecision int     `yaml:"price_precision"`
	FallbackPrice  float64 `yaml:"fallback_price"`
}

// Strategy is one parameterized strategy preset. Every tunable the engine
// uses lives here so variants are data, not code.
type Strategy struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval"`

	// Indicators
	ShortMA   int `yaml:"short_ma"`
	LongMA    int `yaml:"long_ma"`
	RSIPeriod int `yaml:"rsi_period"`

	// Signal thresholds
	Oversold           float64 `yaml:"oversold"`
	Overbought         float64 `yaml:"overbought"`
	FlowShortThreshold float64 `yaml:"flow_short_threshold"`
	FlowAggThreshold   float64 `yaml:"flow_agg_threshold"`
	FlowAggWindows     int     `yaml:"flow_agg_windows"`
	CooldownSeconds    int     `yaml:"cooldown_seconds"`

	// Risk
	RiskFraction    float64 `yaml:"risk_fraction"`
	Leverage        float64 `yaml:"leverage"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct"`
	MaxHoldMinutes  int     `yaml:"max_hold_minutes"`

	Instruments []Instrument `yaml:"instruments"`
}

// LoadStrategy reads and validates a strategy preset file.
func LoadStrategy(path string) (*Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy preset: %w", err)
	}
	s, err := ParseStrategy(data)
	if err != nil {
		return nil, fmt.Errorf("strategy preset %s: %w", path, err)
	}
	return s, nil
}

// ParseStrategy decodes YAML bytes, applying defaults before validation.
func ParseStrategy(data []byte) (*Strategy, error) {
	s := &Strategy{
		Interval:        "5m",
		ShortMA:         7,
		LongMA:          25,
		RSIPeriod:       14,
		Oversold:        30,
		Overbought:      70,
		FlowAggWindows:  12,
		CooldownSeconds: 300,
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Strategy) validate() error {
	if s.ShortMA <= 0 || s.LongMA <= 0 || s.ShortMA >= s.LongMA {
		return fmt.Errorf("ma windows %d/%d: short must be positive and below long", s.ShortMA, s.LongMA)
	}
	if s.RSIPeriod <= 0 {
		return fmt.Errorf("rsi_period %d must be positive", s.RSIPeriod)
	}
	if s.Oversold >= s.Overbought {
		return fmt.Errorf("oversold %v must be below overbought %v", s.Oversold, s.Overbought)
	}
	if s.RiskFraction <= 0 || s.RiskFraction > 1 {
		return fmt.Errorf("risk_fraction %v outside (0,1]", s.RiskFraction)
	}
	if s.Leverage <= 0 {
		return fmt.Errorf("leverage %v must be positive", s.Leverage)
	}
	if s.StopLossPct >= 0 {
		return fmt.Errorf("stop_loss_pct %v must be negative", s.StopLossPct)
	}
	if s.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct %v must be positive", s.TakeProfitPct)
	}
	if s.TrailingStopPct < 0 || s.TrailingStopPct >= 1 {
		return fmt.Errorf("trailing_stop_pct %v outside [0,1)", s.TrailingStopPct)
	}
	if len(s.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	for _, inst := range s.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument with empty symbol")
		}
	}
	return nil
}

// Symbols lists the configured instrument symbols in preset order.
func (s *Strategy) Symbols() []string {
	out := make([]string, len(s.Instruments))
	for i, inst := range s.Instruments {
		out[i] = inst.Symbol
	}
	return out
}
