// Package strategy implements the trendline break-and-retest setup recognizer.
// Each symbol runs an independent state machine; state is never shared across
// symbols.
package strategy

import (
	"fmt"
	"time"
)

// Direction is the side of a prospective trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// SetupPhase is the recognizer state for one symbol's current setup.
type SetupPhase string

const (
	PhaseSearching      SetupPhase = "SEARCHING"
	PhaseBroken         SetupPhase = "BROKEN"
	PhaseAwaitingRetest SetupPhase = "AWAITING_RETEST"
	PhaseEntrySignaled  SetupPhase = "ENTRY_SIGNALED"
	PhaseExpired        SetupPhase = "EXPIRED"
)

// TradeSignal is an immutable entry signal emitted when a retest bounce
// confirms. For a long, Stop < Entry < Target; mirrored for a short.
type TradeSignal struct {
	Symbol          string
	Direction       Direction
	EntryPrice      float64
	StopPrice       float64
	TargetPrice     float64
	Confidence      float64
	BreakoutExtreme float64 // breakout high for longs, breakout low for shorts
	Timestamp       time.Time
	Reason          string
}

// Validate checks the price-ordering invariant. A signal that fails here is a
// defect and must never reach order submission.
func (s *TradeSignal) Validate() error {
	switch s.Direction {
	case Long:
		if !(s.StopPrice < s.EntryPrice && s.EntryPrice < s.TargetPrice) {
			return fmt.Errorf("strategy: long signal violates stop < entry < target (%.4f, %.4f, %.4f)",
				s.StopPrice, s.EntryPrice, s.TargetPrice)
		}
	case Short:
		if !(s.TargetPrice < s.EntryPrice && s.EntryPrice < s.StopPrice) {
			return fmt.Errorf("strategy: short signal violates target < entry < stop (%.4f, %.4f, %.4f)",
				s.TargetPrice, s.EntryPrice, s.StopPrice)
		}
	default:
		return fmt.Errorf("strategy: unknown direction %q", s.Direction)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("strategy: confidence %.4f outside [0,1]", s.Confidence)
	}
	return nil
}

// RiskReward returns the reward:risk ratio of the signal.
func (s *TradeSignal) RiskReward() float64 {
	var risk, reward float64
	if s.Direction == Long {
		risk = s.EntryPrice - s.StopPrice
		reward = s.TargetPrice - s.EntryPrice
	} else {
		risk = s.StopPrice - s.EntryPrice
		reward = s.EntryPrice - s.TargetPrice
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}
