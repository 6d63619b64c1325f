// Command backtest replays the break-and-retest strategy over historical
// bars and writes a performance report plus a CSV of every simulated trade.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/backtest"
	"trendline-bot/config"
	"trendline-bot/marketdata"
)

func main() {
	symbol := flag.String("symbol", "", "replay a single symbol instead of the configured list")
	bars := flag.Int("bars", 2000, "bars of history to fetch per symbol")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	symbols := cfg.Symbols
	if *symbol != "" {
		symbols = []string{strings.ToUpper(*symbol)}
	}

	feedCfg := marketdata.DefaultClientConfig()
	feedCfg.BaseURL = cfg.DataURL
	feedCfg.APIKey = cfg.APIKey
	feedCfg.APISecret = cfg.APISecret
	feed := marketdata.NewClient(feedCfg, logger.Named("marketdata"))

	btCfg := backtest.DefaultConfig()
	btCfg.HistoryBars = *bars
	btCfg.LookbackBars = cfg.LookbackBars
	btCfg.StartBalance = decimal.NewFromFloat(cfg.StartingBalance)
	btCfg.RiskPerTrade = cfg.AccountRiskPerTrade
	btCfg.MinRiskReward = cfg.MinRiskReward
	btCfg.Recognizer.SwingLookback = cfg.SwingLookback
	btCfg.Recognizer.RetracementTolerance = cfg.RetracementTolerance
	btCfg.Recognizer.MaxRetestBars = cfg.MaxRetestBars

	engine := backtest.NewEngine(btCfg, logger.Named("backtest"))
	results := engine.Run(context.Background(), feed, symbols)
	if len(results) == 0 {
		fmt.Println("no results: no symbol had enough history")
		os.Exit(1)
	}

	backtest.WriteReport(os.Stdout, results, btCfg.StartBalance)
	path, err := backtest.SaveCSV(cfg.TradesDir, time.Now(), results)
	if err != nil {
		logger.Fatal("saving results failed", zap.Error(err))
	}
	fmt.Printf("results saved to %s\n", path)
}
