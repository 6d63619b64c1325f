package indicators

import (
	"errors"
	"math"
	"time"
)

// TrendlineKind distinguishes support (fitted through lows) from resistance
// (fitted through highs).
type TrendlineKind string

const (
	Support    TrendlineKind = "SUPPORT"
	Resistance TrendlineKind = "RESISTANCE"
)

// ErrInsufficientSwingPoints is returned when fewer than two swing points are
// supplied to FitTrendline.
var ErrInsufficientSwingPoints = errors.New("indicators: need at least 2 swing points to fit a trendline")

// Trendline is a least-squares line through same-kind swing points, price
// against time. A fitted line is never mutated; when the underlying swing set
// changes a new line is fitted. Projection beyond the fitted range is the
// intended use.
type Trendline struct {
	Slope      float64 // price units per second
	Intercept  float64 // price at Origin
	Kind       TrendlineKind
	Origin     time.Time // time zero of the fit
	FittedFrom []SwingPoint
	ValidAsOf  time.Time
	Residual   float64 // RMS of fit residuals, relative to mean price
}

// FitTrendline fits a deterministic least-squares line through the supplied
// swing points (price vs. seconds since the first point). All points must be
// the same kind; the line's kind follows from it.
func FitTrendline(points []SwingPoint) (*Trendline, error) {
	if len(points) < 2 {
		return nil, ErrInsufficientSwingPoints
	}

	kind := Resistance
	if points[0].Kind == SwingLow {
		kind = Support
	}

	origin := points[0].Timestamp
	n := float64(len(points))

	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.Timestamp.Sub(origin).Seconds()
		y := p.Price
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		// All points share one timestamp; a vertical line is degenerate.
		return nil, ErrInsufficientSwingPoints
	}

	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	fitted := make([]SwingPoint, len(points))
	copy(fitted, points)

	line := &Trendline{
		Slope:      slope,
		Intercept:  intercept,
		Kind:       kind,
		Origin:     origin,
		FittedFrom: fitted,
		ValidAsOf:  points[len(points)-1].Timestamp,
	}

	meanPrice := sumY / n
	if meanPrice != 0 {
		var sq float64
		for _, p := range points {
			r := p.Price - line.ProjectAt(p.Timestamp)
			sq += r * r
		}
		line.Residual = math.Sqrt(sq/n) / math.Abs(meanPrice)
	}

	return line, nil
}

// ProjectAt returns the line's price at the given time. Extrapolation forward
// of the fitted range is expected.
func (t *Trendline) ProjectAt(ts time.Time) float64 {
	return t.Intercept + t.Slope*ts.Sub(t.Origin).Seconds()
}
