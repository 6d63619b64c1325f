package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trendline-bot/strategy"
)

// RejectReason identifies which gate check a signal failed. The reasons are
// stable strings: they label metrics and appear in logs.
type RejectReason string

const (
	ReasonRRTooLow     RejectReason = "RR_TOO_LOW"
	ReasonMaxTrades    RejectReason = "MAX_TRADES_REACHED"
	ReasonDailyLoss    RejectReason = "DAILY_LOSS_LIMIT_HIT"
	ReasonSizeTooSmall RejectReason = "SIZE_TOO_SMALL"
)

// Rejection is the error returned when a signal fails a gate check.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk: rejected (%s): %s", r.Reason, r.Detail)
}

// ApprovedOrder is a signal that passed every check, sized and holding a
// reserved open-trade slot. The slot must be returned via ReleaseSlot if the
// order never reaches the broker, or via OnTradeClosed when the trade ends.
type ApprovedOrder struct {
	Signal     *strategy.TradeSignal
	Quantity   int64           // whole shares
	Notional   decimal.Decimal // Quantity * entry price
	AtRisk     decimal.Decimal // Quantity * |entry - stop|
	RewardRisk float64
}

// Account is a point-in-time broker account snapshot.
type Account struct {
	Equity decimal.Decimal
	Cash   decimal.Decimal
}

// AccountSource supplies account snapshots for sizing and the daily baseline.
type AccountSource interface {
	AccountSnapshot(ctx context.Context) (Account, error)
}
