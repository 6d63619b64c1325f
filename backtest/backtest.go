// Package backtest replays the break-and-retest strategy over historical
// bars and reports per-symbol performance. Fills are simulated bar-by-bar:
// an open trade exits when a bar's range crosses its stop or target, stop
// checked first.
package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/marketdata"
	"trendline-bot/strategy"
)

// Exit reasons recorded on replayed trades.
const (
	ExitTarget    = "TAKE_PROFIT"
	ExitStop      = "STOP_LOSS"
	ExitEndOfData = "END_OF_DATA"
)

// Config holds the replay parameters. The risk settings mirror the live
// gate; the recognizer settings mirror the live detector.
type Config struct {
	HistoryBars   int // bars of history fetched per symbol
	LookbackBars  int // rolling window fed to the recognizer
	StartBalance  decimal.Decimal
	RiskPerTrade  float64
	MinRiskReward float64
	CashCap       float64
	Recognizer    strategy.RecognizerConfig
}

// DefaultConfig returns the standard replay settings.
func DefaultConfig() Config {
	return Config{
		HistoryBars:   2000,
		LookbackBars:  100,
		StartBalance:  decimal.NewFromInt(100_000),
		RiskPerTrade:  0.01,
		MinRiskReward: 1.5,
		CashCap:       0.95,
		Recognizer:    strategy.DefaultRecognizerConfig(),
	}
}

// Trade is one simulated round trip.
type Trade struct {
	Symbol     string
	Direction  strategy.Direction
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Quantity   int64
	PnL        decimal.Decimal
	ExitReason string
	Confidence float64
	RewardRisk float64
}

// Result collects the trades replayed for one symbol.
type Result struct {
	Symbol string
	Trades []Trade
}

// Wins counts trades with positive P&L.
func (r *Result) Wins() int {
	n := 0
	for _, t := range r.Trades {
		if t.PnL.IsPositive() {
			n++
		}
	}
	return n
}

// WinRate is the winning fraction, 0 when no trades ran.
func (r *Result) WinRate() float64 {
	if len(r.Trades) == 0 {
		return 0
	}
	return float64(r.Wins()) / float64(len(r.Trades))
}

// TotalPnL sums realized P&L across all trades.
func (r *Result) TotalPnL() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Trades {
		total = total.Add(t.PnL)
	}
	return total
}

// ProfitFactor is gross wins over gross losses. With no losing trades it
// reports the gross win total, not infinity.
func (r *Result) ProfitFactor() float64 {
	grossWin, grossLoss := decimal.Zero, decimal.Zero
	for _, t := range r.Trades {
		if t.PnL.IsPositive() {
			grossWin = grossWin.Add(t.PnL)
		} else {
			grossLoss = grossLoss.Add(t.PnL.Abs())
		}
	}
	if grossLoss.IsZero() {
		return grossWin.InexactFloat64()
	}
	return grossWin.Div(grossLoss).InexactFloat64()
}

// MaxDrawdown is the largest peak-to-trough equity drop over the trade
// sequence, starting from the given balance.
func (r *Result) MaxDrawdown(start decimal.Decimal) decimal.Decimal {
	equity, peak, maxDD := start, start, decimal.Zero
	for _, t := range r.Trades {
		equity = equity.Add(t.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// Engine replays the strategy. Each symbol runs an independent recognizer
// and its own balance, so results are comparable across symbols.
type Engine struct {
	config Config
	logger *zap.Logger
}

// NewEngine creates a replay engine.
func NewEngine(config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LookbackBars < config.Recognizer.MinBars {
		config.LookbackBars = config.Recognizer.MinBars
	}
	return &Engine{config: config, logger: logger}
}

// Run fetches history for every symbol and replays it. Symbols whose history
// cannot be fetched or is too short are skipped with a warning.
func (e *Engine) Run(ctx context.Context, feed marketdata.DataFeed, symbols []string) []Result {
	results := make([]Result, 0, len(symbols))
	for _, symbol := range symbols {
		bars, err := feed.GetBars(ctx, symbol, e.config.HistoryBars)
		if err != nil {
			e.logger.Warn("history fetch failed, skipping symbol",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(bars) < e.config.Recognizer.MinBars+1 {
			e.logger.Warn("not enough history, skipping symbol",
				zap.String("symbol", symbol), zap.Int("bars", len(bars)))
			continue
		}
		res := e.Replay(symbol, bars)
		e.logger.Info("symbol replayed",
			zap.String("symbol", symbol),
			zap.Int("bars", len(bars)),
			zap.Int("trades", len(res.Trades)))
		results = append(results, res)
	}
	return results
}

// Replay walks forward through the bars, feeding each rolling window to a
// fresh recognizer and simulating one trade at a time. While a trade is
// open no new entries are taken.
func (e *Engine) Replay(symbol string, bars []marketdata.Bar) Result {
	result := Result{Symbol: symbol}
	rec := strategy.NewRecognizer(e.config.Recognizer, e.logger)
	balance := e.config.StartBalance

	var open *Trade
	var target, stop float64

	for i := e.config.Recognizer.MinBars - 1; i < len(bars); i++ {
		b := bars[i]

		if open != nil {
			exit, reason := exitAt(open.Direction, b, stop, target)
			if reason == "" {
				continue
			}
			closeTrade(open, b.Timestamp, exit, reason)
			balance = balance.Add(open.PnL)
			result.Trades = append(result.Trades, *open)
			open = nil
			continue
		}

		lo := i - e.config.LookbackBars + 1
		if lo < 0 {
			lo = 0
		}
		sig := rec.Scan(symbol, bars[lo:i+1])
		if sig == nil || sig.RiskReward() < e.config.MinRiskReward {
			continue
		}
		qty := e.sizePosition(balance, sig)
		if qty < 1 {
			continue
		}
		open = &Trade{
			Symbol:     symbol,
			Direction:  sig.Direction,
			EntryTime:  b.Timestamp,
			EntryPrice: sig.EntryPrice,
			Quantity:   qty,
			Confidence: sig.Confidence,
			RewardRisk: sig.RiskReward(),
		}
		stop = sig.StopPrice
		target = sig.TargetPrice
	}

	// A trade still open when the data runs out closes at the last close.
	if open != nil {
		last := bars[len(bars)-1]
		closeTrade(open, last.Timestamp, last.Close, ExitEndOfData)
		result.Trades = append(result.Trades, *open)
	}
	return result
}

// exitAt checks one bar against the open trade's exits, stop first.
func exitAt(dir strategy.Direction, b marketdata.Bar, stop, target float64) (float64, string) {
	if dir == strategy.Long {
		if b.Low <= stop {
			return stop, ExitStop
		}
		if b.High >= target {
			return target, ExitTarget
		}
	} else {
		if b.High >= stop {
			return stop, ExitStop
		}
		if b.Low <= target {
			return target, ExitTarget
		}
	}
	return 0, ""
}

func closeTrade(t *Trade, at time.Time, exit float64, reason string) {
	t.ExitTime = at
	t.ExitPrice = exit
	t.ExitReason = reason
	pnl := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(t.EntryPrice)).
		Mul(decimal.NewFromInt(t.Quantity))
	if t.Direction == strategy.Short {
		pnl = pnl.Neg()
	}
	t.PnL = pnl
}

// sizePosition applies the live gate's sizing rules against the replay
// balance: risk budget over per-share risk, capped by the cash fraction.
func (e *Engine) sizePosition(balance decimal.Decimal, sig *strategy.TradeSignal) int64 {
	entry := decimal.NewFromFloat(sig.EntryPrice)
	perShare := entry.Sub(decimal.NewFromFloat(sig.StopPrice)).Abs()
	if perShare.IsZero() {
		return 0
	}
	qty := balance.Mul(decimal.NewFromFloat(e.config.RiskPerTrade)).Div(perShare).IntPart()
	maxNotional := balance.Mul(decimal.NewFromFloat(e.config.CashCap))
	if maxQty := maxNotional.Div(entry).IntPart(); maxQty < qty {
		qty = maxQty
	}
	return qty
}

// WriteReport renders the aggregate and per-symbol summary.
func WriteReport(w io.Writer, results []Result, start decimal.Decimal) {
	var all []Trade
	for _, r := range results {
		all = append(all, r.Trades...)
	}
	wins, total := 0, decimal.Zero
	for _, t := range all {
		if t.PnL.IsPositive() {
			wins++
		}
		total = total.Add(t.PnL)
	}
	winRate := 0.0
	if len(all) > 0 {
		winRate = float64(wins) / float64(len(all)) * 100
	}

	fmt.Fprintf(w, "\nBacktest results\n")
	fmt.Fprintf(w, "  Total trades : %d\n", len(all))
	fmt.Fprintf(w, "  Win rate     : %.1f%%  (%dW / %dL)\n", winRate, wins, len(all)-wins)
	fmt.Fprintf(w, "  Total P&L    : $%s\n\n", total.StringFixed(2))
	fmt.Fprintf(w, "  %-8s %7s %7s %12s %8s %12s\n",
		"Symbol", "Trades", "Win%", "P&L", "PF", "MaxDD")
	for i := range results {
		r := &results[i]
		fmt.Fprintf(w, "  %-8s %7d %6.1f%% %12s %8.2f %12s\n",
			r.Symbol, len(r.Trades), r.WinRate()*100,
			r.TotalPnL().StringFixed(2), r.ProfitFactor(),
			r.MaxDrawdown(start).StringFixed(2))
	}
	fmt.Fprintln(w)
}

// SaveCSV writes every replayed trade to backtest_results_YYYY-MM-DD.csv
// under dir and returns the path.
func SaveCSV(dir string, asOf time.Time, results []Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backtest: create dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("backtest_results_%s.csv", asOf.Format("2006-01-02")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("backtest: create csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{
		"symbol", "direction", "entry_time", "exit_time", "entry_price",
		"exit_price", "quantity", "pnl", "exit_reason", "confidence", "reward_risk",
	}
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("backtest: write header: %w", err)
	}
	for _, r := range results {
		for _, t := range r.Trades {
			row := []string{
				t.Symbol,
				string(t.Direction),
				t.EntryTime.UTC().Format(time.RFC3339),
				t.ExitTime.UTC().Format(time.RFC3339),
				strconv.FormatFloat(t.EntryPrice, 'f', 2, 64),
				strconv.FormatFloat(t.ExitPrice, 'f', 2, 64),
				strconv.FormatInt(t.Quantity, 10),
				t.PnL.StringFixed(2),
				t.ExitReason,
				strconv.FormatFloat(t.Confidence, 'f', 2, 64),
				strconv.FormatFloat(t.RewardRisk, 'f', 2, 64),
			}
			if err := cw.Write(row); err != nil {
				return "", fmt.Errorf("backtest: write row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("backtest: flush csv: %w", err)
	}
	return path, nil
}
