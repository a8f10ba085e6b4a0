package ptywrap

import (
	"regexp"
	"sync"
	"time"

	"github.com/kandev/agentrelay/internal/logging"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"
)

// AgentState is the detected TUI state of an interactive child, fed to the
// Idle Detector's cursor signal as one of several independently weighted
// inputs.
type AgentState string

const (
	StateUnknown         AgentState = "unknown"
	StateWorking         AgentState = "working"
	StateWaitingApproval AgentState = "waiting_approval"
	StateWaitingInput    AgentState = "waiting_input"
)

// promptPatterns recognises common cursor/prompt shapes: "│ > " variants,
// trailing "> ", bare "$ "/"# " shell prompts.
var promptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`│\s*>\s*$`),
	regexp.MustCompile(`>\s*$`),
	regexp.MustCompile(`\$\s*$`),
	regexp.MustCompile(`#\s*$`),
}

// approvalPatterns recognise common "do you want to proceed" style prompts
// that CLIs render while waiting on a yes/no/allow decision.
var approvalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(y/n\)\s*$`),
	regexp.MustCompile(`(?i)\[y/N\]\s*$`),
	regexp.MustCompile(`(?i)allow\?\s*$`),
	regexp.MustCompile(`(?i)proceed\?\s*$`),
}

// statusTracker feeds PTY output into a vt10x virtual terminal and derives
// AgentState from the rendered screen. Status tracking and idle detection
// are folded into one concrete detector rather than a per-provider plugin
// surface, since a single generic detector covers every supported shell.
type statusTracker struct {
	log *logging.Logger

	mu            sync.Mutex
	term          vt10x.Terminal
	cols, rows    int
	lastState     AgentState
	lastCheck     time.Time
	checkInterval time.Duration
}

func newStatusTracker(cols, rows int, checkInterval time.Duration, log *logging.Logger) *statusTracker {
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 30
	}
	if checkInterval <= 0 {
		checkInterval = 100 * time.Millisecond
	}
	return &statusTracker{
		log:           log,
		term:          vt10x.New(vt10x.WithSize(cols, rows)),
		cols:          cols,
		rows:          rows,
		lastState:     StateUnknown,
		checkInterval: checkInterval,
	}
}

func (t *statusTracker) write(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.term.Write(data)
}

func (t *statusTracker) resize(cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.term.Resize(cols, rows)
	t.cols, t.rows = cols, rows
}

func (t *statusTracker) shouldCheck() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastCheck) >= t.checkInterval
}

// lastLine returns the last non-empty visible row, used by the idle
// detector's cursor-pattern signal.
func (t *statusTracker) lastLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for row := t.rows - 1; row >= 0; row-- {
		var chars []rune
		nonBlank := false
		for col := 0; col < t.cols; col++ {
			g := t.term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
				continue
			}
			chars = append(chars, g.Char)
			nonBlank = true
		}
		if nonBlank {
			return string(chars)
		}
	}
	return ""
}

// checkAndUpdate classifies the current screen and updates lastState,
// returning the new state.
func (t *statusTracker) checkAndUpdate() AgentState {
	t.mu.Lock()
	t.lastCheck = time.Now()
	t.mu.Unlock()

	line := t.lastLine()
	state := classifyLine(line)

	t.mu.Lock()
	changed := state != t.lastState
	t.lastState = state
	t.mu.Unlock()

	if changed && t.log != nil {
		t.log.Debug("agent tui state changed", zap.String("state", string(state)))
	}
	return state
}

func (t *statusTracker) currentState() AgentState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastState
}

func classifyLine(line string) AgentState {
	if line == "" {
		return StateUnknown
	}
	for _, re := range approvalPatterns {
		if re.MatchString(line) {
			return StateWaitingApproval
		}
	}
	for _, re := range promptPatterns {
		if re.MatchString(line) {
			return StateWaitingInput
		}
	}
	return StateWorking
}
