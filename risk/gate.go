// Package risk sizes approved signals and enforces the account-level limits:
// minimum reward:risk, a cap on concurrent trades, and a daily loss halt.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/metrics"
	"trendline-bot/strategy"
)

// GateConfig holds the account-level limits.
type GateConfig struct {
	RiskPerTrade    float64 // fraction of equity risked per trade
	MaxDailyLossPct float64 // realized loss fraction that halts the day
	MaxOpenTrades   int
	MinRiskReward   float64
	CashCap         float64 // max fraction of cash a single position may consume
}

// DefaultGateConfig returns the standard limits.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		RiskPerTrade:    0.01,
		MaxDailyLossPct: 0.03,
		MaxOpenTrades:   3,
		MinRiskReward:   1.5,
		CashCap:         0.95,
	}
}

// dayState is the per-trading-day ledger. It resets when the calendar date in
// the market time zone changes; the halt flag never un-latches within a day.
type dayState struct {
	day         string // YYYY-MM-DD in market time
	startEquity decimal.Decimal
	realizedPnL decimal.Decimal
	halted      bool
}

// Gate serializes every admit decision behind one mutex, so checking the
// limits and reserving the open-trade slot is a single atomic step.
type Gate struct {
	config   GateConfig
	account  AccountSource
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time

	mu         sync.Mutex
	openTrades int
	day        dayState
}

// NewGate creates a gate. The location defines the trading-day boundary.
func NewGate(config GateConfig, account AccountSource, location *time.Location, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &Gate{
		config:   config,
		account:  account,
		logger:   logger,
		location: location,
		now:      time.Now,
	}
}

// Evaluate runs the gate checks in order and, on approval, reserves an
// open-trade slot before returning. A *Rejection error means the signal was
// turned away by policy; any other error means the account state could not be
// read and nothing was reserved.
func (g *Gate) Evaluate(ctx context.Context, signal *strategy.TradeSignal) (*ApprovedOrder, error) {
	// A geometry defect must never reach sizing or submission. This is not
	// a policy rejection; it indicates a bug upstream.
	if err := signal.Validate(); err != nil {
		g.logger.Error("defective signal reached the risk gate",
			zap.String("symbol", signal.Symbol),
			zap.Error(err))
		return nil, fmt.Errorf("risk: %w", err)
	}

	rr := signal.RiskReward()
	if rr < g.config.MinRiskReward {
		return nil, g.reject(signal, ReasonRRTooLow,
			fmt.Sprintf("reward:risk %.2f below minimum %.2f", rr, g.config.MinRiskReward))
	}

	acct, err := g.account.AccountSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: account snapshot: %w", err)
	}
	metrics.AccountEquity.Set(acct.Equity.InexactFloat64())

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.openTrades >= g.config.MaxOpenTrades {
		return nil, g.reject(signal, ReasonMaxTrades,
			fmt.Sprintf("%d trades already open", g.openTrades))
	}

	g.rollDayLocked(acct.Equity)
	g.latchIfBreachedLocked()
	if g.day.halted {
		return nil, g.reject(signal, ReasonDailyLoss,
			fmt.Sprintf("daily loss limit hit, realized %s on %s", g.day.realizedPnL, g.day.day))
	}

	order, rej := g.size(signal, acct)
	if rej != nil {
		return nil, g.rejectWith(signal, rej)
	}

	g.openTrades++
	metrics.OpenTrades.Set(float64(g.openTrades))
	g.logger.Info("signal approved",
		zap.String("symbol", signal.Symbol),
		zap.String("direction", string(signal.Direction)),
		zap.Int64("quantity", order.Quantity),
		zap.String("at_risk", order.AtRisk.StringFixed(2)),
		zap.Int("open_trades", g.openTrades))
	return order, nil
}

// size computes the position from equity and per-share risk, then applies the
// cash cap. Caller holds the mutex.
func (g *Gate) size(signal *strategy.TradeSignal, acct Account) (*ApprovedOrder, *Rejection) {
	entry := decimal.NewFromFloat(signal.EntryPrice)
	stop := decimal.NewFromFloat(signal.StopPrice)
	perShare := entry.Sub(stop).Abs()
	if perShare.IsZero() {
		return nil, &Rejection{Reason: ReasonSizeTooSmall, Detail: "entry equals stop"}
	}

	budget := acct.Equity.Mul(decimal.NewFromFloat(g.config.RiskPerTrade))
	qty := budget.Div(perShare).IntPart()

	maxNotional := acct.Cash.Mul(decimal.NewFromFloat(g.config.CashCap))
	if maxQty := maxNotional.Div(entry).IntPart(); maxQty < qty {
		qty = maxQty
	}
	if qty < 1 {
		return nil, &Rejection{
			Reason: ReasonSizeTooSmall,
			Detail: fmt.Sprintf("budget %s cannot buy one share at risk %s/share", budget.StringFixed(2), perShare.StringFixed(2)),
		}
	}

	q := decimal.NewFromInt(qty)
	return &ApprovedOrder{
		Signal:     signal,
		Quantity:   qty,
		Notional:   entry.Mul(q),
		AtRisk:     perShare.Mul(q),
		RewardRisk: signal.RiskReward(),
	}, nil
}

// rollDayLocked resets the daily ledger when the market-time date changes.
// Caller holds the mutex.
func (g *Gate) rollDayLocked(equity decimal.Decimal) {
	today := g.now().In(g.location).Format("2006-01-02")
	if g.day.day == today {
		return
	}
	if g.day.day != "" {
		g.logger.Info("trading day rolled over",
			zap.String("previous", g.day.day),
			zap.String("realized_pnl", g.day.realizedPnL.StringFixed(2)))
	}
	g.day = dayState{day: today, startEquity: equity}
	metrics.TradingHalted.Set(0)
}

// ReleaseSlot returns a reserved slot without recording a trade result. Used
// when a submission never reaches the broker.
func (g *Gate) ReleaseSlot() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openTrades > 0 {
		g.openTrades--
	}
	metrics.OpenTrades.Set(float64(g.openTrades))
}

// OnTradeClosed releases the trade's slot and folds its realized result into
// the daily ledger, latching the halt if the loss limit is crossed.
func (g *Gate) OnTradeClosed(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openTrades > 0 {
		g.openTrades--
	}
	metrics.OpenTrades.Set(float64(g.openTrades))

	// A close can be the first event of a new trading day. The fresh
	// ledger starts from the previous day's ending equity; the next
	// evaluate does not refresh it, so intraday drift is carried until
	// the following rollover.
	g.rollDayLocked(g.day.startEquity.Add(g.day.realizedPnL))
	g.day.realizedPnL = g.day.realizedPnL.Add(pnl)
	g.latchIfBreachedLocked()
}

// latchIfBreachedLocked sets the halt when the day's realized loss has
// reached the limit. The latch never clears within a day, even if later
// trades recover the loss. Caller holds the mutex.
func (g *Gate) latchIfBreachedLocked() {
	if g.day.halted || g.day.startEquity.IsZero() {
		return
	}
	limit := g.day.startEquity.Mul(decimal.NewFromFloat(g.config.MaxDailyLossPct)).Neg()
	if g.day.realizedPnL.LessThanOrEqual(limit) {
		g.day.halted = true
		metrics.TradingHalted.Set(1)
		g.logger.Warn("daily loss limit hit, trading halted for the day",
			zap.String("realized_pnl", g.day.realizedPnL.StringFixed(2)),
			zap.String("limit", limit.StringFixed(2)))
	}
}

// Halted reports whether new entries are blocked for the current day.
func (g *Gate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.day.halted
}

// OpenTradeCount reports how many slots are reserved.
func (g *Gate) OpenTradeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openTrades
}

// ReserveExisting claims slots for trades discovered during startup
// reconciliation, so positions that predate this process still count against
// the concurrency cap.
func (g *Gate) ReserveExisting(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openTrades += n
	metrics.OpenTrades.Set(float64(g.openTrades))
}

func (g *Gate) reject(signal *strategy.TradeSignal, reason RejectReason, detail string) *Rejection {
	return g.rejectWith(signal, &Rejection{Reason: reason, Detail: detail})
}

func (g *Gate) rejectWith(signal *strategy.TradeSignal, rej *Rejection) *Rejection {
	metrics.RejectionsTotal.WithLabelValues(string(rej.Reason)).Inc()
	g.logger.Info("signal rejected",
		zap.String("symbol", signal.Symbol),
		zap.String("reason", string(rej.Reason)),
		zap.String("detail", rej.Detail))
	return rej
}
