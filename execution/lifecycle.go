package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/metrics"
	"trendline-bot/risk"
	"trendline-bot/strategy"
)

// ManagerConfig tunes submission retries and status polling.
type ManagerConfig struct {
	SubmitRetries int           // attempts per bracket before giving up
	RetryBackoff  time.Duration // base backoff, doubled per attempt
	PollInterval  time.Duration // order status poll cadence
}

// DefaultManagerConfig returns the standard settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SubmitRetries: 3,
		RetryBackoff:  time.Second,
		PollInterval:  15 * time.Second,
	}
}

// Manager owns every in-flight trade. Closure is idempotent: whichever exit
// observation arrives first (poll or stream) wins, later ones are no-ops.
type Manager struct {
	config  ManagerConfig
	broker  Broker
	gate    RiskNotifier
	journal Journal
	logger  *zap.Logger

	mu        sync.RWMutex
	trades    map[string]*OpenTrade // by trade id
	byOrderID map[string]string     // broker order id -> trade id

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewManager wires the manager to its broker, risk gate, and journal.
func NewManager(config ManagerConfig, broker Broker, gate RiskNotifier, journal Journal, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SubmitRetries < 1 {
		config.SubmitRetries = 1
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	return &Manager{
		config:    config,
		broker:    broker,
		gate:      gate,
		journal:   journal,
		logger:    logger,
		trades:    make(map[string]*OpenTrade),
		byOrderID: make(map[string]string),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the status poll loop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.pollLoop(ctx)
}

// Stop halts the poll loop and waits for it.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.syncOnce(ctx)
		}
	}
}

// Execute submits an approved order as a bracket. The halt latch is rechecked
// here: approval and submission are separate moments and the daily limit may
// have tripped in between. On any failure the reserved risk slot is released
// before returning.
func (m *Manager) Execute(ctx context.Context, order *risk.ApprovedOrder) (*OpenTrade, error) {
	if m.gate.Halted() {
		m.gate.ReleaseSlot()
		return nil, ErrTradingHalted
	}

	signal := order.Signal
	side := "buy"
	if signal.Direction == strategy.Short {
		side = "sell"
	}
	req := BracketRequest{
		ClientOrderID: uuid.New().String(),
		Symbol:        signal.Symbol,
		Side:          side,
		Quantity:      order.Quantity,
		TakeProfit:    decimal.NewFromFloat(signal.TargetPrice),
		StopLoss:      decimal.NewFromFloat(signal.StopPrice),
	}

	trade := &OpenTrade{
		ID:            uuid.New().String(),
		Symbol:        signal.Symbol,
		Direction:     signal.Direction,
		Quantity:      order.Quantity,
		State:         StatePendingSubmit,
		ClientOrderID: req.ClientOrderID,
		IntendedEntry: decimal.NewFromFloat(signal.EntryPrice),
		TargetPrice:   req.TakeProfit,
		StopPrice:     req.StopLoss,
		OpenedAt:      time.Now().UTC(),
	}

	ack, err := m.submitWithRetry(ctx, req)
	if err != nil {
		trade.State = StateSubmitFailed
		m.gate.ReleaseSlot()
		metrics.OrdersTotal.WithLabelValues("submit_failed").Inc()
		m.logger.Error("bracket submission abandoned",
			zap.String("symbol", signal.Symbol),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	trade.State = StateWorking
	trade.EntryOrderID = ack.ID
	for _, leg := range ack.Legs {
		switch leg.LegKind {
		case LegTarget:
			trade.TargetOrderID = leg.ID
		case LegStop:
			trade.StopOrderID = leg.ID
		}
	}

	m.mu.Lock()
	m.trades[trade.ID] = trade
	m.byOrderID[trade.EntryOrderID] = trade.ID
	if trade.TargetOrderID != "" {
		m.byOrderID[trade.TargetOrderID] = trade.ID
	}
	if trade.StopOrderID != "" {
		m.byOrderID[trade.StopOrderID] = trade.ID
	}
	m.mu.Unlock()

	metrics.OrdersTotal.WithLabelValues("submitted").Inc()
	m.logger.Info("bracket submitted",
		zap.String("symbol", signal.Symbol),
		zap.String("trade_id", trade.ID),
		zap.String("entry_order_id", trade.EntryOrderID),
		zap.Int64("quantity", trade.Quantity),
		zap.String("take_profit", trade.TargetPrice.StringFixed(2)),
		zap.String("stop_loss", trade.StopPrice.StringFixed(2)))
	return trade, nil
}

func (m *Manager) submitWithRetry(ctx context.Context, req BracketRequest) (*OrderInfo, error) {
	backoff := m.config.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= m.config.SubmitRetries; attempt++ {
		ack, err := m.broker.SubmitBracket(ctx, req)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		m.logger.Warn("bracket submission attempt failed",
			zap.String("symbol", req.Symbol),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == m.config.SubmitRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// syncOnce polls the broker for every non-terminal trade and applies what it
// finds. Errors are logged and retried on the next tick.
func (m *Manager) syncOnce(ctx context.Context) {
	for _, trade := range m.snapshotActive() {
		info, err := m.broker.OrderStatus(ctx, trade.EntryOrderID)
		if err != nil {
			m.logger.Warn("order status poll failed",
				zap.String("trade_id", trade.ID),
				zap.String("order_id", trade.EntryOrderID),
				zap.Error(err))
			continue
		}
		m.apply(trade.ID, info)
		for _, leg := range info.Legs {
			m.apply(trade.ID, &leg)
		}
	}
}

// HandleOrderUpdate feeds a streamed broker order event into the state
// machine. Events for unknown orders are ignored.
func (m *Manager) HandleOrderUpdate(info *OrderInfo) {
	m.mu.RLock()
	tradeID, ok := m.byOrderID[info.ID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.apply(tradeID, info)
}

// apply routes one order observation to the right transition.
func (m *Manager) apply(tradeID string, info *OrderInfo) {
	m.mu.Lock()
	trade, ok := m.trades[tradeID]
	if !ok || trade.State.Closed() {
		m.mu.Unlock()
		return
	}

	switch info.ID {
	case trade.EntryOrderID:
		if trade.State == StateWorking && info.Filled() {
			trade.State = StateFilledOpen
			trade.FillPrice = info.FilledAvgPrice
			m.mu.Unlock()
			metrics.OrdersTotal.WithLabelValues("filled").Inc()
			m.logger.Info("entry filled",
				zap.String("trade_id", trade.ID),
				zap.String("symbol", trade.Symbol),
				zap.String("fill_price", trade.FillPrice.StringFixed(2)))
			return
		}
		if trade.State == StateWorking && entryDead(info.Status) {
			// A dead entry with a partial fill still holds shares at
			// the broker. Keep the trade open at the filled size, slot
			// retained, so the exit legs can manage the position.
			if info.FilledQty > 0 {
				trade.State = StateFilledOpen
				trade.Quantity = info.FilledQty
				trade.FillPrice = info.FilledAvgPrice
				m.mu.Unlock()
				metrics.OrdersTotal.WithLabelValues("entry_partial").Inc()
				m.logger.Warn("entry order died partially filled, holding position",
					zap.String("trade_id", trade.ID),
					zap.String("symbol", trade.Symbol),
					zap.String("status", info.Status),
					zap.Int64("filled_qty", info.FilledQty),
					zap.String("fill_price", trade.FillPrice.StringFixed(2)))
				return
			}
			// Unfilled, it never opened a position; drop the trade and
			// hand its slot back.
			trade.State = StateSubmitFailed
			delete(m.trades, trade.ID)
			m.mu.Unlock()
			m.gate.ReleaseSlot()
			metrics.OrdersTotal.WithLabelValues("entry_"+info.Status).Inc()
			m.logger.Warn("entry order died unfilled",
				zap.String("trade_id", trade.ID),
				zap.String("symbol", trade.Symbol),
				zap.String("status", info.Status))
			return
		}
	case trade.TargetOrderID:
		if info.Filled() {
			m.closeLocked(trade, OutcomeTarget, info.FilledAvgPrice)
			m.mu.Unlock()
			return
		}
	case trade.StopOrderID:
		if info.Filled() {
			m.closeLocked(trade, OutcomeStop, info.FilledAvgPrice)
			m.mu.Unlock()
			return
		}
	}
	m.mu.Unlock()
}

// entryDead reports whether a broker status means the entry order can never
// fill.
func entryDead(status string) bool {
	switch status {
	case "canceled", "rejected", "expired":
		return true
	}
	return false
}

// CloseManual records a closure that did not come through either exit leg,
// e.g. an end-of-day flatten or an operator action at the broker.
func (m *Manager) CloseManual(tradeID string, exitPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.trades[tradeID]
	if !ok || trade.State.Closed() {
		return
	}
	m.closeLocked(trade, OutcomeManual, exitPrice)
}

// closeLocked finishes a trade exactly once: realized P&L, journal row, risk
// slot return, metrics. Caller holds the write lock and has checked the state
// is not already terminal.
func (m *Manager) closeLocked(trade *OpenTrade, outcome string, exitPrice decimal.Decimal) {
	entry := trade.FillPrice
	if entry.IsZero() {
		entry = trade.IntendedEntry
	}
	qty := decimal.NewFromInt(trade.Quantity)
	pnl := exitPrice.Sub(entry).Mul(qty)
	if trade.Direction == strategy.Short {
		pnl = pnl.Neg()
	}

	switch outcome {
	case OutcomeTarget:
		trade.State = StateClosedTarget
	case OutcomeStop:
		trade.State = StateClosedStop
	default:
		trade.State = StateClosedManual
	}
	trade.ExitPrice = exitPrice
	trade.ClosedAt = time.Now().UTC()

	closed := ClosedTrade{
		TradeID:    trade.ID,
		Symbol:     trade.Symbol,
		Direction:  trade.Direction,
		Quantity:   trade.Quantity,
		EntryPrice: entry,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Outcome:    outcome,
		OpenedAt:   trade.OpenedAt,
		ClosedAt:   trade.ClosedAt,
	}
	if m.journal != nil {
		if err := m.journal.RecordClosed(closed); err != nil {
			m.logger.Error("journal write failed",
				zap.String("trade_id", trade.ID),
				zap.Error(err))
		}
	}
	m.gate.OnTradeClosed(pnl)
	metrics.ClosedTradesTotal.WithLabelValues(outcome).Inc()
	m.logger.Info("trade closed",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("outcome", outcome),
		zap.String("pnl", pnl.StringFixed(2)))
}

// Reconcile adopts positions already held at the broker so a restart keeps
// counting them against the concurrency cap. Adopted trades are tracked in
// FILLED_OPEN with no known exit orders; the poll loop cannot close them, so
// they end via CloseManual.
func (m *Manager) Reconcile(ctx context.Context) error {
	positions, err := m.broker.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("execution: reconcile: %w", err)
	}

	adopted := 0
	m.mu.Lock()
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		dir := strategy.Long
		qty := pos.Quantity
		if qty < 0 {
			dir = strategy.Short
			qty = -qty
		}
		trade := &OpenTrade{
			ID:        uuid.New().String(),
			Symbol:    pos.Symbol,
			Direction: dir,
			Quantity:  qty,
			State:     StateFilledOpen,
			FillPrice: pos.AvgEntryPrice,
			OpenedAt:  time.Now().UTC(),
		}
		m.trades[trade.ID] = trade
		adopted++
	}
	m.mu.Unlock()

	if adopted > 0 {
		m.gate.ReserveExisting(adopted)
		m.logger.Info("adopted existing positions", zap.Int("count", adopted))
	}
	return nil
}

// OpenTrades returns a copy of every non-terminal trade.
func (m *Manager) OpenTrades() []OpenTrade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OpenTrade, 0, len(m.trades))
	for _, t := range m.trades {
		if !t.State.Closed() {
			out = append(out, *t)
		}
	}
	return out
}

// snapshotActive copies trades the poll loop still cares about.
func (m *Manager) snapshotActive() []OpenTrade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OpenTrade, 0, len(m.trades))
	for _, t := range m.trades {
		if !t.State.Closed() && t.EntryOrderID != "" {
			out = append(out, *t)
		}
	}
	return out
}
