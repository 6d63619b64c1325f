// Package indicators holds the price-geometry primitives the setup recognizer
// builds on: swing point detection and trendline fitting.
package indicators

import (
	"time"

	"trendline-bot/marketdata"
)

// SwingKind tags a swing point as a local high or low.
type SwingKind string

const (
	SwingHigh SwingKind = "HIGH"
	SwingLow  SwingKind = "LOW"
)

// SwingPoint is a confirmed local price extreme. Once emitted it is never
// mutated; newer swings supersede older ones as the bar window rolls forward.
type SwingPoint struct {
	Timestamp time.Time
	Price     float64
	Kind      SwingKind
	Index     int // position within the bar window it was detected from
}

// DetectSwings scans an ordered bar window and returns all confirmed swing
// points, oldest first. A bar at index i is a swing high when its high is the
// strict maximum over [i-lookback, i+lookback]; swing lows mirror on lows.
// Confirmation needs lookback bars on both sides, so the most recent lookback
// bars can never produce a swing. Fewer than 2*lookback+1 bars yields an
// empty result, not an error.
func DetectSwings(bars []marketdata.Bar, lookback int) []SwingPoint {
	n := len(bars)
	if lookback < 1 || n < 2*lookback+1 {
		return nil
	}

	swings := make([]SwingPoint, 0, 8)
	for i := lookback; i < n-lookback; i++ {
		if isStrictExtreme(bars, i, lookback, true) {
			swings = append(swings, SwingPoint{
				Timestamp: bars[i].Timestamp,
				Price:     bars[i].High,
				Kind:      SwingHigh,
				Index:     i,
			})
		}
		if isStrictExtreme(bars, i, lookback, false) {
			swings = append(swings, SwingPoint{
				Timestamp: bars[i].Timestamp,
				Price:     bars[i].Low,
				Kind:      SwingLow,
				Index:     i,
			})
		}
	}
	return swings
}

// LastOfKind returns up to count most recent swings of the given kind,
// preserving chronological order.
func LastOfKind(swings []SwingPoint, kind SwingKind, count int) []SwingPoint {
	matched := make([]SwingPoint, 0, count)
	for i := len(swings) - 1; i >= 0 && len(matched) < count; i-- {
		if swings[i].Kind == kind {
			matched = append(matched, swings[i])
		}
	}
	// Reverse back to chronological order.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}

// isStrictExtreme reports whether bar i is the unique extreme of its window.
func isStrictExtreme(bars []marketdata.Bar, i, lookback int, high bool) bool {
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i {
			continue
		}
		if high && bars[j].High >= bars[i].High {
			return false
		}
		if !high && bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}
