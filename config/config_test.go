package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Paper {
		t.Error("Paper = false, want true by default")
	}
	if cfg.ScanInterval != 5*time.Minute {
		t.Errorf("ScanInterval = %v, want 5m", cfg.ScanInterval)
	}
	if cfg.AccountRiskPerTrade != 0.01 {
		t.Errorf("AccountRiskPerTrade = %v, want 0.01", cfg.AccountRiskPerTrade)
	}
	if cfg.MaxDailyLossPct != 0.03 {
		t.Errorf("MaxDailyLossPct = %v, want 0.03", cfg.MaxDailyLossPct)
	}
	if cfg.MaxOpenTrades != 3 {
		t.Errorf("MaxOpenTrades = %d, want 3", cfg.MaxOpenTrades)
	}
	if cfg.MinRiskReward != 1.5 {
		t.Errorf("MinRiskReward = %v, want 1.5", cfg.MinRiskReward)
	}
	if cfg.SwingLookback != 5 {
		t.Errorf("SwingLookback = %d, want 5", cfg.SwingLookback)
	}
	if cfg.MaxRetestBars != 12 {
		t.Errorf("MaxRetestBars = %d, want 12", cfg.MaxRetestBars)
	}
	if len(cfg.Symbols) == 0 {
		t.Error("no default symbols")
	}
	if cfg.StartingBalance != 100_000 {
		t.Errorf("StartingBalance = %v, want 100000", cfg.StartingBalance)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", " AAPL , MSFT ,")
	t.Setenv("SCAN_INTERVAL_SECONDS", "60")
	t.Setenv("MAX_OPEN_TRADES", "5")
	t.Setenv("PAPER", "false")
	t.Setenv("BROKER_API_KEY", "k")
	t.Setenv("BROKER_API_SECRET", "s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "AAPL" || cfg.Symbols[1] != "MSFT" {
		t.Errorf("Symbols = %v, want [AAPL MSFT]", cfg.Symbols)
	}
	if cfg.ScanInterval != time.Minute {
		t.Errorf("ScanInterval = %v, want 1m", cfg.ScanInterval)
	}
	if cfg.MaxOpenTrades != 5 {
		t.Errorf("MaxOpenTrades = %d, want 5", cfg.MaxOpenTrades)
	}
	if cfg.Paper {
		t.Error("Paper = true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRejectsMalformedNumber(t *testing.T) {
	t.Setenv("MAX_OPEN_TRADES", "many")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a non-numeric MAX_OPEN_TRADES")
	}
}

func TestLoadRejectsMalformedBool(t *testing.T) {
	t.Setenv("PAPER", "yes")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted PAPER=yes, which would silently mean live trading")
	}
}

func TestValidateLiveNeedsCredentials(t *testing.T) {
	t.Setenv("PAPER", "false")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("Validate passed for live trading without credentials")
	}
	if !strings.Contains(err.Error(), "BROKER_API_KEY") {
		t.Errorf("err = %v, want mention of BROKER_API_KEY", err)
	}
}

func TestValidateRanges(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg.AccountRiskPerTrade = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted risk fraction >= 1")
	}

	cfg.AccountRiskPerTrade = 0.01
	cfg.MaxOpenTrades = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted MaxOpenTrades = 0")
	}
}

func TestMarketLocation(t *testing.T) {
	loc, err := MarketLocation()
	if err != nil {
		t.Fatalf("MarketLocation: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("location = %s", loc)
	}
}
