package indicators

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestFitTrendlinePerfectLine(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	points := []SwingPoint{
		{Timestamp: start, Price: 100, Kind: SwingHigh},
		{Timestamp: start.Add(5 * time.Minute), Price: 99, Kind: SwingHigh},
		{Timestamp: start.Add(10 * time.Minute), Price: 98, Kind: SwingHigh},
	}

	line, err := FitTrendline(points)
	if err != nil {
		t.Fatalf("FitTrendline: %v", err)
	}
	if line.Kind != Resistance {
		t.Errorf("kind = %s, want %s", line.Kind, Resistance)
	}

	wantSlope := -1.0 / 300.0
	if math.Abs(line.Slope-wantSlope) > 1e-12 {
		t.Errorf("slope = %v, want %v", line.Slope, wantSlope)
	}
	if line.Residual > 1e-9 {
		t.Errorf("residual = %v for a perfect line, want ~0", line.Residual)
	}

	got := line.ProjectAt(start.Add(15 * time.Minute))
	if math.Abs(got-97) > 1e-9 {
		t.Errorf("projection = %v, want 97", got)
	}
}

func TestFitTrendlineSupportKind(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	points := []SwingPoint{
		{Timestamp: start, Price: 50, Kind: SwingLow},
		{Timestamp: start.Add(time.Hour), Price: 51, Kind: SwingLow},
	}
	line, err := FitTrendline(points)
	if err != nil {
		t.Fatalf("FitTrendline: %v", err)
	}
	if line.Kind != Support {
		t.Errorf("kind = %s, want %s", line.Kind, Support)
	}
	if line.Slope <= 0 {
		t.Errorf("slope = %v, want positive", line.Slope)
	}
}

func TestFitTrendlineInsufficientPoints(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	_, err := FitTrendline([]SwingPoint{{Timestamp: start, Price: 100, Kind: SwingHigh}})
	if !errors.Is(err, ErrInsufficientSwingPoints) {
		t.Errorf("err = %v, want ErrInsufficientSwingPoints", err)
	}

	// Coincident timestamps leave no x-spread to fit against.
	_, err = FitTrendline([]SwingPoint{
		{Timestamp: start, Price: 100, Kind: SwingHigh},
		{Timestamp: start, Price: 102, Kind: SwingHigh},
	})
	if !errors.Is(err, ErrInsufficientSwingPoints) {
		t.Errorf("err = %v, want ErrInsufficientSwingPoints for degenerate input", err)
	}
}

func TestFitTrendlineDeterministic(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	points := []SwingPoint{
		{Timestamp: start, Price: 100.13, Kind: SwingLow},
		{Timestamp: start.Add(25 * time.Minute), Price: 100.71, Kind: SwingLow},
		{Timestamp: start.Add(55 * time.Minute), Price: 101.02, Kind: SwingLow},
	}

	a, err := FitTrendline(points)
	if err != nil {
		t.Fatalf("FitTrendline: %v", err)
	}
	b, err := FitTrendline(points)
	if err != nil {
		t.Fatalf("FitTrendline: %v", err)
	}
	if a.Slope != b.Slope || a.Intercept != b.Intercept || a.Residual != b.Residual {
		t.Errorf("identical input produced different fits: %+v vs %+v", a, b)
	}
}
