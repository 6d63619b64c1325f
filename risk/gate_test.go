package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/strategy"
)

type fakeAccount struct {
	equity decimal.Decimal
	cash   decimal.Decimal
	err    error
}

func (f *fakeAccount) AccountSnapshot(context.Context) (Account, error) {
	if f.err != nil {
		return Account{}, f.err
	}
	return Account{Equity: f.equity, Cash: f.cash}, nil
}

func newTestGate(acct *fakeAccount) *Gate {
	return NewGate(DefaultGateConfig(), acct, time.UTC, zap.NewNop())
}

func longSignal(entry, stop, target float64) *strategy.TradeSignal {
	return &strategy.TradeSignal{
		Symbol:      "TEST",
		Direction:   strategy.Long,
		EntryPrice:  entry,
		StopPrice:   stop,
		TargetPrice: target,
		Confidence:  0.7,
		Timestamp:   time.Now(),
	}
}

func reasonOf(t *testing.T, err error) RejectReason {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want *Rejection", err)
	}
	return rej.Reason
}

func TestEvaluateSizesFromEquityRisk(t *testing.T) {
	acct := &fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(200_000),
	}
	g := newTestGate(acct)

	// 1% of 100k is 1000 at risk; 0.50/share risk sizes 2000 shares.
	order, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 51.00))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if order.Quantity != 2000 {
		t.Errorf("quantity = %d, want 2000", order.Quantity)
	}
	if want := decimal.NewFromInt(1000); !order.AtRisk.Equal(want) {
		t.Errorf("at risk = %s, want %s", order.AtRisk, want)
	}
	if g.OpenTradeCount() != 1 {
		t.Errorf("open trades = %d, want 1 after approval", g.OpenTradeCount())
	}
}

func TestEvaluateCashCapLimitsSize(t *testing.T) {
	acct := &fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(10_000),
	}
	g := newTestGate(acct)

	// Equity sizing wants 2000 shares, but 95% of 10k cash buys only 190.
	order, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 51.00))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if order.Quantity != 190 {
		t.Errorf("quantity = %d, want 190", order.Quantity)
	}
}

func TestEvaluateRejectsLowRiskReward(t *testing.T) {
	g := newTestGate(&fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(100_000),
	})

	// Reward 0.50 on risk 0.50 is 1.0, below the 1.5 floor.
	_, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 50.50))
	if got := reasonOf(t, err); got != ReasonRRTooLow {
		t.Errorf("reason = %s, want %s", got, ReasonRRTooLow)
	}
	if g.OpenTradeCount() != 0 {
		t.Errorf("rejection reserved a slot")
	}
}

func TestEvaluateRejectsWhenSlotsFull(t *testing.T) {
	g := newTestGate(&fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(1_000_000),
	})

	for i := 0; i < 3; i++ {
		if _, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00)); err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
	}

	// A fourth signal is refused no matter how good its geometry is.
	_, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 60.00))
	if got := reasonOf(t, err); got != ReasonMaxTrades {
		t.Errorf("reason = %s, want %s", got, ReasonMaxTrades)
	}

	g.ReleaseSlot()
	if _, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00)); err != nil {
		t.Errorf("Evaluate after release: %v", err)
	}
}

func TestDailyLossLimitLatches(t *testing.T) {
	g := newTestGate(&fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(1_000_000),
	})

	if _, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// A 3% day-start-equity loss trips the halt.
	g.OnTradeClosed(decimal.NewFromInt(-3_500))
	if !g.Halted() {
		t.Fatal("gate not halted after loss past the daily limit")
	}

	_, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00))
	if got := reasonOf(t, err); got != ReasonDailyLoss {
		t.Errorf("reason = %s, want %s", got, ReasonDailyLoss)
	}

	// Winning trades later in the day do not unlatch it.
	g.OnTradeClosed(decimal.NewFromInt(10_000))
	if !g.Halted() {
		t.Error("halt unlatched within the same day")
	}
}

func TestHaltResetsOnNewDay(t *testing.T) {
	g := newTestGate(&fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(1_000_000),
	})
	day1 := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return day1 }

	if _, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	g.OnTradeClosed(decimal.NewFromInt(-5_000))
	if !g.Halted() {
		t.Fatal("gate not halted")
	}

	g.now = func() time.Time { return day1.Add(24 * time.Hour) }
	if _, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00)); err != nil {
		t.Errorf("Evaluate on the next day: %v", err)
	}
}

func TestCloseAfterMidnightBooksIntoFreshLedger(t *testing.T) {
	g := newTestGate(&fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(1_000_000),
	})
	day1 := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return day1 }

	if _, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	g.OnTradeClosed(decimal.NewFromInt(-2_000))
	if g.Halted() {
		t.Fatal("halted below the daily limit")
	}

	// The next close lands after midnight. Against the stale ledger the
	// cumulative -4500 would trip the 3% halt; against the fresh day it
	// is a standalone -2500 on a 98000 baseline and must not.
	g.now = func() time.Time { return day1.Add(24 * time.Hour) }
	g.OnTradeClosed(decimal.NewFromInt(-2_500))
	if g.Halted() {
		t.Error("halt latched against the previous day's ledger")
	}

	if _, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00)); err != nil {
		t.Errorf("Evaluate after rollover: %v", err)
	}
}

func TestEvaluateRejectsUnaffordableShare(t *testing.T) {
	g := newTestGate(&fakeAccount{
		equity: decimal.NewFromInt(1_000),
		cash:   decimal.NewFromInt(1_000),
	})

	// Risk budget is 10 but one share risks 20.
	_, err := g.Evaluate(context.Background(), longSignal(500.00, 480.00, 560.00))
	if got := reasonOf(t, err); got != ReasonSizeTooSmall {
		t.Errorf("reason = %s, want %s", got, ReasonSizeTooSmall)
	}
}

func TestEvaluatePropagatesAccountError(t *testing.T) {
	g := newTestGate(&fakeAccount{err: errors.New("connection refused")})

	_, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00))
	if err == nil {
		t.Fatal("no error from unreachable account source")
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		t.Errorf("infrastructure failure surfaced as a policy rejection: %v", err)
	}
}

func TestReserveExistingCountsTowardCap(t *testing.T) {
	g := newTestGate(&fakeAccount{
		equity: decimal.NewFromInt(100_000),
		cash:   decimal.NewFromInt(1_000_000),
	})

	g.ReserveExisting(3)
	_, err := g.Evaluate(context.Background(), longSignal(50.00, 49.50, 55.00))
	if got := reasonOf(t, err); got != ReasonMaxTrades {
		t.Errorf("reason = %s, want %s", got, ReasonMaxTrades)
	}
}
