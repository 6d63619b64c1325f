package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/execution"
	"trendline-bot/strategy"
)

func sampleTrade(id string, pnl int64) execution.ClosedTrade {
	opened := time.Date(2025, 6, 2, 14, 45, 0, 0, time.UTC)
	return execution.ClosedTrade{
		TradeID:    id,
		Symbol:     "AAPL",
		Direction:  strategy.Long,
		Quantity:   10,
		EntryPrice: decimal.NewFromFloat(100.50),
		ExitPrice:  decimal.NewFromFloat(102.00),
		PnL:        decimal.NewFromInt(pnl),
		Outcome:    execution.OutcomeTarget,
		OpenedAt:   opened,
		ClosedAt:   opened.Add(time.Hour),
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestRecordClosedAppendsRows(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, time.UTC, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	w.now = func() time.Time { return time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC) }

	if err := w.RecordClosed(sampleTrade("t1", 15)); err != nil {
		t.Fatalf("RecordClosed: %v", err)
	}
	if err := w.RecordClosed(sampleTrade("t2", -8)); err != nil {
		t.Fatalf("RecordClosed: %v", err)
	}

	rows := readRows(t, filepath.Join(dir, "trades_2025-06-02.csv"))
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header plus 2", len(rows))
	}
	if rows[0][0] != "trade_id" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "t1" || rows[2][0] != "t2" {
		t.Errorf("trade ids = %s, %s", rows[1][0], rows[2][0])
	}
	if rows[1][6] != "15.00" {
		t.Errorf("pnl column = %s, want 15.00", rows[1][6])
	}
	if rows[2][7] != execution.OutcomeTarget {
		t.Errorf("outcome column = %s", rows[2][7])
	}
}

func TestRotatesAtDayBoundary(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, time.UTC, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	w.now = func() time.Time { return time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC) }
	if err := w.RecordClosed(sampleTrade("t1", 15)); err != nil {
		t.Fatalf("RecordClosed: %v", err)
	}

	w.now = func() time.Time { return time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC) }
	if err := w.RecordClosed(sampleTrade("t2", 7)); err != nil {
		t.Fatalf("RecordClosed: %v", err)
	}

	day1 := readRows(t, filepath.Join(dir, "trades_2025-06-02.csv"))
	day2 := readRows(t, filepath.Join(dir, "trades_2025-06-03.csv"))
	if len(day1) != 2 || len(day2) != 2 {
		t.Errorf("rows = %d and %d, want 2 each", len(day1), len(day2))
	}
}

func TestReopenAppendsWithoutSecondHeader(t *testing.T) {
	dir := t.TempDir()
	day := func() time.Time { return time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC) }

	w, err := NewWriter(dir, time.UTC, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.now = day
	if err := w.RecordClosed(sampleTrade("t1", 15)); err != nil {
		t.Fatalf("RecordClosed: %v", err)
	}
	w.Close()

	// A restart on the same day reopens the same file.
	w2, err := NewWriter(dir, time.UTC, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w2.Close()
	w2.now = day
	if err := w2.RecordClosed(sampleTrade("t2", 7)); err != nil {
		t.Fatalf("RecordClosed: %v", err)
	}

	rows := readRows(t, filepath.Join(dir, "trades_2025-06-02.csv"))
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header plus 2", len(rows))
	}
	if rows[1][0] != "t1" || rows[2][0] != "t2" {
		t.Errorf("trade ids = %s, %s", rows[1][0], rows[2][0])
	}
}
