package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Mode selects how the engine runs.
const (
	ModeLive     = "live"
	ModeBacktest = "backtest"
)

// Config holds environment-driven process settings. Strategy parameters
// live in the YAML preset, not here.
type Config struct {
	Mode string

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	UseMockFeed      bool

	// Execution
	DryRun         bool
	InitialBalance float64

	// Paths
	DBPath       string
	StrategyPath string
	CandleCSV    string
	FlowCSV      string

	// Live loop timing
	TickSeconds      int
	ReconcileSeconds int

	// Observability API
	APIPort   string
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the engine still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Mode:             strings.ToLower(getEnv("MODE", ModeBacktest)),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		UseMockFeed:      getEnv("USE_MOCK_FEED", "false") == "true",
		DryRun:           getEnv("DRY_RUN", "true") == "true",
		InitialBalance:   getEnvFloat("INITIAL_BALANCE", 10000.0),
		DBPath:           getEnv("DB_PATH", "./data/flowtrader.db"),
		StrategyPath:     getEnv("STRATEGY_PATH", "./strategy.yaml"),
		CandleCSV:        os.Getenv("CANDLE_CSV"),
		FlowCSV:          os.Getenv("FLOW_CSV"),
		TickSeconds:      getEnvInt("TICK_SECONDS", 5),
		ReconcileSeconds: getEnvInt("RECONCILE_SECONDS", 30),
		APIPort:          getEnv("API_PORT", "8080"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Mode != ModeLive && c.Mode != ModeBacktest {
		return fmt.Errorf("MODE %q must be %q or %q", c.Mode, ModeLive, ModeBacktest)
	}
	// Real-money live trading must not start half-configured.
	if c.Mode == ModeLive && !c.DryRun {
		if c.BinanceAPIKey == "" || c.BinanceAPISecret == "" {
			return fmt.Errorf("live trading requires BINANCE_API_KEY and BINANCE_API_SECRET")
		}
	}
	if c.Mode == ModeBacktest && c.CandleCSV == "" && !c.UseMockFeed {
		return fmt.Errorf("backtest requires CANDLE_CSV or USE_MOCK_FEED=true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
