package strategy

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trendline-bot/indicators"
	"trendline-bot/marketdata"
)

// RecognizerConfig holds the tunables of the break-and-retest detector.
type RecognizerConfig struct {
	SwingLookback        int     // bars on each side of a swing extreme
	RecentSwings         int     // swing points used to fit a trendline
	RetracementTolerance float64 // fractional band around the projection, e.g. 0.003
	MaxRetestBars        int     // bars a broken setup may wait for its retest
	MinBars              int     // bars required before any detection runs
}

// DefaultRecognizerConfig returns the standard detector settings.
func DefaultRecognizerConfig() RecognizerConfig {
	return RecognizerConfig{
		SwingLookback:        5,
		RecentSwings:         3,
		RetracementTolerance: 0.003,
		MaxRetestBars:        12,
		MinBars:              30,
	}
}

// setupState tracks one symbol's progress through the setup lifecycle. All
// fields after phase are only meaningful once a break has been recorded.
type setupState struct {
	phase     SetupPhase
	direction Direction
	line      *indicators.Trendline

	breakoutExtreme float64 // furthest favorable price since the break
	retestExtreme   float64 // furthest adverse price since the break
	retestTouched   bool
	barsSinceBreak  int
	lastBarTime     time.Time
}

// Recognizer runs the per-symbol setup state machines. Scan never returns an
// error: a window it cannot work with simply produces no signal.
type Recognizer struct {
	config RecognizerConfig
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*setupState
}

// NewRecognizer creates a recognizer with the given settings.
func NewRecognizer(config RecognizerConfig, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{
		config: config,
		logger: logger,
		states: make(map[string]*setupState),
	}
}

// Phase reports the current lifecycle phase for a symbol.
func (r *Recognizer) Phase(symbol string) SetupPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[symbol]; ok {
		return st.phase
	}
	return PhaseSearching
}

// Scan advances the symbol's state machine with the latest bar window and
// returns a signal if a retest bounce confirmed on this bar, nil otherwise.
// Bars must be ordered oldest first; the last bar is the one being evaluated.
// Calling Scan twice with the same latest bar is a no-op on the second call.
func (r *Recognizer) Scan(symbol string, bars []marketdata.Bar) *TradeSignal {
	if len(bars) < r.config.MinBars {
		return nil
	}
	latest := bars[len(bars)-1]

	// The lock covers the whole state transition so Phase always observes
	// a settled phase, never a half-advanced one.
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[symbol]
	if !ok {
		st = &setupState{phase: PhaseSearching}
		r.states[symbol] = st
	}

	if !latest.Timestamp.After(st.lastBarTime) {
		return nil
	}
	st.lastBarTime = latest.Timestamp

	// Terminal phases reset on the next bar so a fresh cycle can begin.
	if st.phase == PhaseEntrySignaled || st.phase == PhaseExpired {
		r.reset(st)
	}

	switch st.phase {
	case PhaseSearching:
		r.scanForBreak(symbol, st, bars)
		return nil
	case PhaseBroken, PhaseAwaitingRetest:
		return r.trackRetest(symbol, st, latest)
	default:
		return nil
	}
}

func (r *Recognizer) reset(st *setupState) {
	*st = setupState{phase: PhaseSearching, lastBarTime: st.lastBarTime}
}

// scanForBreak refits trendlines against the current window and records a
// break when the latest close crosses a line the previous close respected.
func (r *Recognizer) scanForBreak(symbol string, st *setupState, bars []marketdata.Bar) {
	if len(bars) < 2 {
		return
	}
	swings := indicators.DetectSwings(bars, r.config.SwingLookback)
	if len(swings) == 0 {
		return
	}
	prev := bars[len(bars)-2]
	latest := bars[len(bars)-1]

	// A long setup breaks a falling resistance line fitted to swing highs.
	highs := indicators.LastOfKind(swings, indicators.SwingHigh, r.config.RecentSwings)
	if line, err := indicators.FitTrendline(highs); err == nil && line.Slope < 0 {
		prevProj := line.ProjectAt(prev.Timestamp)
		proj := line.ProjectAt(latest.Timestamp)
		if prev.Close <= prevProj && latest.Close > proj {
			r.recordBreak(symbol, st, Long, line, latest)
			return
		}
	}

	// A short setup breaks a rising support line fitted to swing lows.
	lows := indicators.LastOfKind(swings, indicators.SwingLow, r.config.RecentSwings)
	if line, err := indicators.FitTrendline(lows); err == nil && line.Slope > 0 {
		prevProj := line.ProjectAt(prev.Timestamp)
		proj := line.ProjectAt(latest.Timestamp)
		if prev.Close >= prevProj && latest.Close < proj {
			r.recordBreak(symbol, st, Short, line, latest)
		}
	}
}

func (r *Recognizer) recordBreak(symbol string, st *setupState, dir Direction, line *indicators.Trendline, bar marketdata.Bar) {
	st.phase = PhaseBroken
	st.direction = dir
	st.line = line
	st.barsSinceBreak = 0
	st.retestTouched = false
	if dir == Long {
		st.breakoutExtreme = bar.High
		st.retestExtreme = bar.Low
	} else {
		st.breakoutExtreme = bar.Low
		st.retestExtreme = bar.High
	}
	r.logger.Info("trendline break detected",
		zap.String("symbol", symbol),
		zap.String("direction", string(dir)),
		zap.Float64("close", bar.Close),
		zap.Float64("projection", line.ProjectAt(bar.Timestamp)),
		zap.Float64("slope_per_sec", line.Slope))
}

// trackRetest advances a broken setup by one bar. The broken line keeps
// projecting forward; the setup expires on budget exhaustion or a close back
// through the tolerance band against the breakout.
func (r *Recognizer) trackRetest(symbol string, st *setupState, bar marketdata.Bar) *TradeSignal {
	st.phase = PhaseAwaitingRetest
	st.barsSinceBreak++
	proj := st.line.ProjectAt(bar.Timestamp)
	tol := r.config.RetracementTolerance

	if st.direction == Long {
		if bar.High > st.breakoutExtreme {
			st.breakoutExtreme = bar.High
		}
		if bar.Low < st.retestExtreme {
			st.retestExtreme = bar.Low
		}
		// Close back below the band invalidates the break.
		if bar.Close < proj*(1-tol) {
			r.expire(symbol, st, "close back below broken line")
			return nil
		}
		if st.retestTouched && bar.Close > proj*(1+tol) {
			return r.emit(symbol, st, bar, proj)
		}
		if bar.Low <= proj*(1+tol) {
			st.retestTouched = true
		}
	} else {
		if bar.Low < st.breakoutExtreme {
			st.breakoutExtreme = bar.Low
		}
		if bar.High > st.retestExtreme {
			st.retestExtreme = bar.High
		}
		if bar.Close > proj*(1+tol) {
			r.expire(symbol, st, "close back above broken line")
			return nil
		}
		if st.retestTouched && bar.Close < proj*(1-tol) {
			return r.emit(symbol, st, bar, proj)
		}
		if bar.High >= proj*(1-tol) {
			st.retestTouched = true
		}
	}

	if st.barsSinceBreak >= r.config.MaxRetestBars {
		r.expire(symbol, st, "retest budget exhausted")
	}
	return nil
}

func (r *Recognizer) expire(symbol string, st *setupState, why string) {
	r.logger.Debug("setup expired",
		zap.String("symbol", symbol),
		zap.String("direction", string(st.direction)),
		zap.Int("bars_since_break", st.barsSinceBreak),
		zap.String("why", why))
	st.phase = PhaseExpired
}

func (r *Recognizer) emit(symbol string, st *setupState, bar marketdata.Bar, proj float64) *TradeSignal {
	const stopPad = 0.002

	entry := bar.Close
	var stop, target float64
	if st.direction == Long {
		stop = st.retestExtreme * (1 - stopPad)
		target = st.breakoutExtreme
	} else {
		stop = st.retestExtreme * (1 + stopPad)
		target = st.breakoutExtreme
	}

	signal := &TradeSignal{
		Symbol:          symbol,
		Direction:       st.direction,
		EntryPrice:      entry,
		StopPrice:       stop,
		TargetPrice:     target,
		Confidence:      confidence(st.line.Residual, bounceStrength(entry, proj, r.config.RetracementTolerance)),
		BreakoutExtreme: st.breakoutExtreme,
		Timestamp:       bar.Timestamp,
		Reason: fmt.Sprintf("%s break-and-retest of %s line, bounce %d bars after break",
			st.direction, st.line.Kind, st.barsSinceBreak),
	}
	if err := signal.Validate(); err != nil {
		// Degenerate geometry, e.g. the retest wicked past the breakout
		// extreme. Not tradable; discard the setup.
		r.expire(symbol, st, "signal geometry invalid")
		return nil
	}
	st.phase = PhaseEntrySignaled
	r.logger.Info("entry signal",
		zap.String("symbol", symbol),
		zap.String("direction", string(signal.Direction)),
		zap.Float64("entry", signal.EntryPrice),
		zap.Float64("stop", signal.StopPrice),
		zap.Float64("target", signal.TargetPrice),
		zap.Float64("confidence", signal.Confidence),
		zap.String("reason", signal.Reason))
	return signal
}
