package ptywrap

import (
	"context"
	"sync"
	"time"
)

// Signal is one independently-weighted contributor to an idle confidence
// score, reported back so callers (and tests) can see why a decision was
// made.
type Signal struct {
	Name       string
	Confidence float64
}

// IdleResult is the outcome of a single checkIdle call.
type IdleResult struct {
	IsIdle     bool
	Confidence float64
	Signals    []Signal
}

const (
	weightSilence  = 0.45
	weightCursor   = 0.30
	weightProcess  = 0.15
	weightNoEscape = 0.10
)

// idleDetector determines whether an interactive child is in an
// input-accepting quiescent state, combining the silence, TUI-cursor,
// process-state, and recent-escape-activity signals from 
type idleDetector struct {
	minSilence    time.Duration
	confThreshold float64
	useProcState  bool

	mu              sync.Mutex
	lastOutputAt    time.Time
	lastEscapeAt    time.Time
	pidFunc         func() int
	statusTracker   *statusTracker
}

func newIdleDetector(minSilence time.Duration, confThreshold float64, useProcState bool, pidFunc func() int, st *statusTracker) *idleDetector {
	now := time.Now()
	return &idleDetector{
		minSilence:    minSilence,
		confThreshold: confThreshold,
		useProcState:  useProcState,
		pidFunc:       pidFunc,
		statusTracker: st,
		lastOutputAt:  now,
		lastEscapeAt:  now,
	}
}

// noteOutput records that output was just observed, resetting the silence
// clock. escaped indicates the chunk contained escape sequences suggestive
// of active drawing (spinner, animated cursor).
func (d *idleDetector) noteOutput(escaped bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastOutputAt = time.Now()
	if escaped {
		d.lastEscapeAt = d.lastOutputAt
	}
}

// checkIdle evaluates all signals at the current moment. An explicit
// minSilence override of 0 uses the detector's configured default.
func (d *idleDetector) checkIdle(minSilenceOverride time.Duration) IdleResult {
	d.mu.Lock()
	lastOutput := d.lastOutputAt
	lastEscape := d.lastEscapeAt
	d.mu.Unlock()

	minSilence := d.minSilence
	if minSilenceOverride > 0 {
		minSilence = minSilenceOverride
	}

	silenceElapsed := time.Since(lastOutput)
	silenceConf := 0.0
	if minSilence > 0 {
		silenceConf = float64(silenceElapsed) / float64(3*minSilence)
	}
	silenceConf = clamp01(silenceConf)

	cursorConf := 0.0
	if d.statusTracker != nil {
		switch d.statusTracker.currentState() {
		case StateWaitingInput:
			cursorConf = 1.0
		case StateWaitingApproval:
			cursorConf = 0.8
		case StateWorking:
			cursorConf = 0.0
		default:
			cursorConf = 0.3
		}
	}

	processConf := 0.0
	if d.useProcState && d.pidFunc != nil {
		if pid := d.pidFunc(); pid > 0 && processSleeping(pid) {
			processConf = 1.0
		}
	}

	noEscapeConf := 0.0
	if time.Since(lastEscape) >= minSilence {
		noEscapeConf = 1.0
	}

	weighted := weightSilence*silenceConf + weightCursor*cursorConf +
		weightProcess*processConf + weightNoEscape*noEscapeConf

	hardGate := 0.0
	if silenceElapsed >= minSilence {
		hardGate = d.confThreshold
	}

	confidence := weighted
	if hardGate > confidence {
		confidence = hardGate
	}
	confidence = clamp01(confidence)

	isIdle := silenceElapsed >= minSilence && confidence >= d.confThreshold

	return IdleResult{
		IsIdle:     isIdle,
		Confidence: confidence,
		Signals: []Signal{
			{Name: "silence", Confidence: silenceConf},
			{Name: "cursor", Confidence: cursorConf},
			{Name: "process_state", Confidence: processConf},
			{Name: "no_recent_escapes", Confidence: noEscapeConf},
		},
	}
}

// waitForIdle polls checkIdle at pollInterval until confidence reaches the
// configured threshold or timeout elapses, or ctx is cancelled.
func (d *idleDetector) waitForIdle(ctx context.Context, timeout, pollInterval time.Duration) IdleResult {
	if pollInterval <= 0 {
		pollInterval = 150 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := d.checkIdle(0)
	if result.IsIdle {
		return result
	}

	for {
		select {
		case <-ctx.Done():
			return result
		case <-ticker.C:
			result = d.checkIdle(0)
			if result.IsIdle || time.Now().After(deadline) {
				return result
			}
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
