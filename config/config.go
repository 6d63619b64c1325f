// Package config loads all bot configuration from environment variables,
// optionally seeded from a .env file. Nothing is reconfigurable after Load:
// the trading day runs on a fixed parameter set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the bot needs at construction time.
type Config struct {
	// Broker / data API
	APIKey    string
	APISecret string
	DataURL   string
	BrokerURL string
	StreamURL string
	Paper     bool

	// Symbols to scan
	Symbols []string

	// Scan cadence
	ScanInterval time.Duration
	LookbackBars int

	// Risk parameters
	AccountRiskPerTrade float64 // fraction of equity risked per trade
	MaxDailyLossPct     float64 // fraction of equity; breach halts the day
	MaxOpenTrades       int
	MinRiskReward       float64

	// Setup recognition
	SwingLookback        int
	RetracementTolerance float64
	MaxRetestBars        int

	// Order submission
	SubmitRetries int
	PollInterval  time.Duration

	// Observability
	MetricsAddr string
	TradesDir   string

	// Paper trading and backtests
	StartingBalance float64
}

// Load reads configuration from the environment. A missing .env file is not an
// error; explicit environment variables always win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:    getEnv("BROKER_API_KEY", ""),
		APISecret: getEnv("BROKER_API_SECRET", ""),
		DataURL:   getEnv("DATA_URL", "https://data.alpaca.markets"),
		BrokerURL: getEnv("BROKER_URL", "https://paper-api.alpaca.markets"),
		StreamURL: getEnv("STREAM_URL", "wss://paper-api.alpaca.markets/stream"),

		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),
		TradesDir:   getEnv("TRADES_DIR", "trades"),
	}

	cfg.Symbols = parseCommaList(getEnv("SYMBOLS", "AAPL,MSFT,TSLA,NVDA,SPY"))

	var err error
	if cfg.Paper, err = getBool("PAPER", true); err != nil {
		return nil, err
	}
	if cfg.ScanInterval, err = getDurationSeconds("SCAN_INTERVAL_SECONDS", 300); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDurationSeconds("POLL_INTERVAL_SECONDS", 15); err != nil {
		return nil, err
	}
	if cfg.LookbackBars, err = getInt("LOOKBACK_BARS", 100); err != nil {
		return nil, err
	}

	if cfg.AccountRiskPerTrade, err = getFloat("ACCOUNT_RISK_PER_TRADE", 0.01); err != nil {
		return nil, err
	}
	if cfg.MaxDailyLossPct, err = getFloat("MAX_DAILY_LOSS_PCT", 0.03); err != nil {
		return nil, err
	}
	if cfg.MaxOpenTrades, err = getInt("MAX_OPEN_TRADES", 3); err != nil {
		return nil, err
	}
	if cfg.MinRiskReward, err = getFloat("MIN_RISK_REWARD", 1.5); err != nil {
		return nil, err
	}

	if cfg.SwingLookback, err = getInt("SWING_LOOKBACK", 5); err != nil {
		return nil, err
	}
	if cfg.RetracementTolerance, err = getFloat("RETRACEMENT_TOLERANCE", 0.003); err != nil {
		return nil, err
	}
	if cfg.MaxRetestBars, err = getInt("MAX_RETEST_BARS", 12); err != nil {
		return nil, err
	}

	if cfg.SubmitRetries, err = getInt("SUBMIT_RETRIES", 3); err != nil {
		return nil, err
	}

	if cfg.StartingBalance, err = getFloat("STARTING_BALANCE", 100_000); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present before the bot starts.
func (c *Config) Validate() error {
	if !c.Paper && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("BROKER_API_KEY and BROKER_API_SECRET are required for live trading")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must name at least one symbol")
	}
	if c.AccountRiskPerTrade <= 0 || c.AccountRiskPerTrade >= 1 {
		return fmt.Errorf("ACCOUNT_RISK_PER_TRADE must be in (0, 1), got %v", c.AccountRiskPerTrade)
	}
	if c.MaxDailyLossPct <= 0 || c.MaxDailyLossPct >= 1 {
		return fmt.Errorf("MAX_DAILY_LOSS_PCT must be in (0, 1), got %v", c.MaxDailyLossPct)
	}
	if c.MaxOpenTrades < 1 {
		return fmt.Errorf("MAX_OPEN_TRADES must be >= 1, got %d", c.MaxOpenTrades)
	}
	if c.MinRiskReward <= 0 {
		return fmt.Errorf("MIN_RISK_REWARD must be > 0, got %v", c.MinRiskReward)
	}
	if c.SwingLookback < 1 {
		return fmt.Errorf("SWING_LOOKBACK must be >= 1, got %d", c.SwingLookback)
	}
	if c.RetracementTolerance <= 0 {
		return fmt.Errorf("RETRACEMENT_TOLERANCE must be > 0, got %v", c.RetracementTolerance)
	}
	if c.MaxRetestBars < 1 {
		return fmt.Errorf("MAX_RETEST_BARS must be >= 1, got %d", c.MaxRetestBars)
	}
	if c.StartingBalance <= 0 {
		return fmt.Errorf("STARTING_BALANCE must be > 0, got %v", c.StartingBalance)
	}
	return nil
}

// MarketLocation returns the exchange timezone used for market hours and the
// daily risk rollover.
func MarketLocation() (*time.Location, error) {
	return time.LoadLocation("America/New_York")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %v", key, err)
	}
	return b, nil
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return f, nil
}

func getDurationSeconds(key string, defaultSeconds int) (time.Duration, error) {
	n, err := getInt(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parseCommaList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
