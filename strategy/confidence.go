package strategy

// Confidence scoring. A tight trendline fit and a decisive bounce both raise
// the score; the result is clamped to [0.3, 0.95] so no signal ever claims
// certainty in either direction.

const (
	confidenceBase = 0.5
	confidenceMin  = 0.3
	confidenceMax  = 0.95

	fitWeight    = 0.25
	bounceWeight = 0.20

	// residualScale maps the relative RMS residual into (0, 1]. A residual
	// of 1/residualScale halves the fit component.
	residualScale = 200.0
)

// bounceStrength measures how far past the projection the bounce close
// landed, in units of the tolerance band. Values are capped at 1.
func bounceStrength(close, projection, tolerance float64) float64 {
	if projection <= 0 || tolerance <= 0 {
		return 0
	}
	dist := close - projection
	if dist < 0 {
		dist = -dist
	}
	s := dist / (projection * tolerance)
	if s > 1 {
		return 1
	}
	return s
}

// confidence combines fit quality and bounce strength. It is monotone
// decreasing in residual and monotone increasing in strength.
func confidence(residual, strength float64) float64 {
	if residual < 0 {
		residual = 0
	}
	fit := fitWeight / (1 + residualScale*residual)
	score := confidenceBase + fit + bounceWeight*strength
	if score < confidenceMin {
		return confidenceMin
	}
	if score > confidenceMax {
		return confidenceMax
	}
	return score
}
