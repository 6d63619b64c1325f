// Package execution submits bracket orders and tracks each trade from
// submission through fill to closure of one of its exit legs.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"trendline-bot/risk"
	"trendline-bot/strategy"
)

var (
	// ErrTradingHalted means the risk gate latched its daily halt between
	// approval and submission.
	ErrTradingHalted = errors.New("execution: trading halted, order not submitted")

	// ErrSubmitFailed means every submission attempt was rejected or timed
	// out; the trade's risk slot has been released.
	ErrSubmitFailed = errors.New("execution: bracket submission failed")
)

// TradeState is the lifecycle state of one managed trade.
type TradeState string

const (
	StatePendingSubmit TradeState = "PENDING_SUBMIT"
	StateSubmitFailed  TradeState = "SUBMIT_FAILED"
	StateWorking       TradeState = "WORKING"
	StateFilledOpen    TradeState = "FILLED_OPEN"
	StateClosedTarget  TradeState = "CLOSED_TARGET"
	StateClosedStop    TradeState = "CLOSED_STOP"
	StateClosedManual  TradeState = "CLOSED_MANUAL"
)

// Closed reports whether the state is terminal on the closed side.
func (s TradeState) Closed() bool {
	switch s {
	case StateClosedTarget, StateClosedStop, StateClosedManual:
		return true
	}
	return false
}

// Outcome labels for closed trades, used in the journal and metrics.
const (
	OutcomeTarget = "TARGET"
	OutcomeStop   = "STOP"
	OutcomeManual = "MANUAL"
)

// BracketRequest is a broker-bound entry order with attached exit legs. The
// entry is a market order; TakeProfit and StopLoss arm once it fills.
type BracketRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string // "buy" or "sell"
	Quantity      int64
	TakeProfit    decimal.Decimal
	StopLoss      decimal.Decimal
}

// OrderLegKind distinguishes the three orders inside one bracket.
type OrderLegKind string

const (
	LegEntry  OrderLegKind = "entry"
	LegTarget OrderLegKind = "take_profit"
	LegStop   OrderLegKind = "stop_loss"
)

// OrderInfo is the broker's view of one order, with bracket legs attached to
// the entry.
type OrderInfo struct {
	ID             string
	ClientOrderID  string
	Status         string // new, accepted, partially_filled, filled, canceled, rejected
	FilledQty      int64
	FilledAvgPrice decimal.Decimal
	Legs           []OrderInfo
	LegKind        OrderLegKind
	UpdatedAt      time.Time
}

// Filled reports whether the order is completely filled.
func (o *OrderInfo) Filled() bool { return o.Status == "filled" }

// Position is a broker-held position discovered at startup.
type Position struct {
	Symbol        string
	Quantity      int64 // negative for short
	AvgEntryPrice decimal.Decimal
}

// OpenTrade is the manager's record of one bracket trade.
type OpenTrade struct {
	ID            string // internal trade id
	Symbol        string
	Direction     strategy.Direction
	Quantity      int64
	State         TradeState
	ClientOrderID string
	EntryOrderID  string
	TargetOrderID string
	StopOrderID   string
	IntendedEntry decimal.Decimal
	FillPrice     decimal.Decimal
	TargetPrice   decimal.Decimal
	StopPrice     decimal.Decimal
	ExitPrice     decimal.Decimal
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// ClosedTrade is the journal record written when a trade finishes.
type ClosedTrade struct {
	TradeID    string
	Symbol     string
	Direction  strategy.Direction
	Quantity   int64
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	Outcome    string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Broker is the order-side surface the manager needs. AccountSnapshot doubles
// as the risk gate's account source.
type Broker interface {
	SubmitBracket(ctx context.Context, req BracketRequest) (*OrderInfo, error)
	OrderStatus(ctx context.Context, orderID string) (*OrderInfo, error)
	OpenPositions(ctx context.Context) ([]Position, error)
	CancelOrder(ctx context.Context, orderID string) error
	AccountSnapshot(ctx context.Context) (risk.Account, error)
}

// RiskNotifier is the slice of the risk gate the manager talks back to.
type RiskNotifier interface {
	ReleaseSlot()
	ReserveExisting(n int)
	OnTradeClosed(pnl decimal.Decimal)
	Halted() bool
}

// Journal persists closed trades.
type Journal interface {
	RecordClosed(trade ClosedTrade) error
}
