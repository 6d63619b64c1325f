// Package journal appends closed trades to daily CSV files so results survive
// restarts and can be analyzed with ordinary tooling.
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"trendline-bot/execution"
)

var header = []string{
	"trade_id", "symbol", "direction", "quantity",
	"entry_price", "exit_price", "pnl", "outcome",
	"opened_at", "closed_at",
}

// Writer appends one CSV row per closed trade to trades_YYYY-MM-DD.csv in its
// directory. The file for a day is created on first write, with a header.
type Writer struct {
	dir      string
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	curDay  string
	curFile *os.File
	curCSV  *csv.Writer
}

// NewWriter creates the journal directory if needed. The location decides
// which day's file a trade lands in.
func NewWriter(dir string, location *time.Location, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}
	return &Writer{
		dir:      dir,
		location: location,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// RecordClosed appends the trade and flushes to disk before returning.
func (w *Writer) RecordClosed(trade execution.ClosedTrade) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateLocked(); err != nil {
		return err
	}

	row := []string{
		trade.TradeID,
		trade.Symbol,
		string(trade.Direction),
		fmt.Sprintf("%d", trade.Quantity),
		trade.EntryPrice.StringFixed(4),
		trade.ExitPrice.StringFixed(4),
		trade.PnL.StringFixed(2),
		trade.Outcome,
		trade.OpenedAt.UTC().Format(time.RFC3339),
		trade.ClosedAt.UTC().Format(time.RFC3339),
	}
	if err := w.curCSV.Write(row); err != nil {
		return fmt.Errorf("journal: write row: %w", err)
	}
	w.curCSV.Flush()
	if err := w.curCSV.Error(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	return nil
}

// rotateLocked opens the current day's file, writing the header only when the
// file is new. Caller holds the mutex.
func (w *Writer) rotateLocked() error {
	day := w.now().In(w.location).Format("2006-01-02")
	if day == w.curDay && w.curCSV != nil {
		return nil
	}
	if w.curFile != nil {
		w.curCSV.Flush()
		w.curFile.Close()
	}

	path := filepath.Join(w.dir, "trades_"+day+".csv")
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	if fresh {
		if err := cw.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("journal: write header: %w", err)
		}
		cw.Flush()
	}

	w.curDay = day
	w.curFile = f
	w.curCSV = cw
	w.logger.Info("journal file opened", zap.String("path", path))
	return nil
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curFile == nil {
		return nil
	}
	w.curCSV.Flush()
	err := w.curFile.Close()
	w.curFile = nil
	w.curCSV = nil
	return err
}
