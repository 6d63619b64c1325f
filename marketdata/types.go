// Package marketdata provides historical bar retrieval and streaming updates
// for the scan loop. Bars are immutable once fetched; the feed guarantees
// strictly increasing timestamps on a fixed interval.
package marketdata

import (
	"context"
	"errors"
	"time"
)

// BarInterval is the fixed bar size the pipeline operates on.
const BarInterval = 5 * time.Minute

// ErrDataUnavailable is returned when the data source cannot supply bars for a
// symbol this scan. Callers skip the symbol; it is never fatal.
var ErrDataUnavailable = errors.New("marketdata: data unavailable")

// Bar is a single OHLCV bar.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// DataFeed is the contract the orchestrator consumes for bar history.
type DataFeed interface {
	// GetBars returns up to lookback bars for symbol, oldest first,
	// strictly increasing timestamps. Fewer bars than requested is not an
	// error; no bars at all is ErrDataUnavailable.
	GetBars(ctx context.Context, symbol string, lookback int) ([]Bar, error)
}

// validateBars reports whether bars are ordered with strictly increasing
// timestamps. Out-of-order data is treated as a data fault.
func validateBars(bars []Bar) bool {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return false
		}
	}
	return true
}
