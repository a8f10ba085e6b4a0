package ptywrap

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kandev/agentrelay/internal/logging"
	"github.com/kandev/agentrelay/internal/markers"
	"github.com/kandev/agentrelay/pkg/apperrors"
	"go.uber.org/zap"
)

// State is the PTY Wrapper's lifecycle state:
// STARTING -> RUNNING -> STOPPING -> EXITED (RUNNING -> EXITED when the
// child exits on its own). An injection in progress does not change it.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateExited   State = "exited"
)

// maxWindow bounds the stripped-text accumulator used for marker detection;
// it is independent of the raw ring buffer, which preserves everything for
// re-display.
const maxWindow = 32 * 1024

// EventKind tags a Wrapper event.
type EventKind string

const (
	EventOutput          EventKind = "output"
	EventSummary         EventKind = "summary"
	EventSessionEnd      EventKind = "session_end"
	EventInjectionFailed EventKind = "injection_failed"
	EventExit            EventKind = "exit"
	EventCommand         EventKind = "command"
	EventAuthRevocation  EventKind = "auth_revocation"
)

// Event is the sum type emitted on the Wrapper's event channel.
type Event struct {
	Kind EventKind

	Output          *OutputChunk
	SummaryRaw      string
	SessionEndRaw   string
	FailedMessageID string
	FailedAttempts  int
	ExitCode        int
	ExitSignal      string
	Crashed         bool
	Command         *markers.Command
}

// Config configures one Wrapper instance.
type Config struct {
	Cols, Rows      int
	BufferMaxBytes  int64
	GraceSeconds    int
	Idle            IdleTuning
	Injection       InjectionConfig
}

// IdleTuning mirrors internal/config.IdleConfig.
type IdleTuning struct {
	MinSilence    time.Duration
	ConfThreshold float64
	PollInterval  time.Duration
	UseProcState  bool
}

// authRevocationPatterns are lowercase substrings of output signalling that
// the child's external credentials were revoked (the AuthRevocation kind).
var authRevocationPatterns = []string{
	"authentication failed",
	"invalid api key",
	"credentials have been revoked",
	"please re-authenticate",
	"401 unauthorized",
}

// Wrapper owns exactly one child process attached to a PTY.
type Wrapper struct {
	agentName string
	log       *logging.Logger
	cfg       Config

	mu     sync.Mutex
	state  State
	handle Handle
	cmd    *exec.Cmd

	buffer        *ringBuffer
	statusTracker *statusTracker
	idle          *idleDetector
	injection     *injectionEngine

	accum               string
	lastSummaryRaw      string
	sessionEndProcessed bool
	authBlocked         bool

	events     chan Event
	stopOnce   sync.Once
	stopSignal chan struct{}
	cancel     context.CancelFunc
}

// New creates a Wrapper in STARTING state; call Start to spawn the child.
func New(agentName string, cfg Config, log *logging.Logger) *Wrapper {
	if cfg.Cols <= 0 {
		cfg.Cols = 120
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 30
	}
	if cfg.GraceSeconds <= 0 {
		cfg.GraceSeconds = 5
	}
	return &Wrapper{
		agentName:  agentName,
		log:        log.With(zap.String("component", "ptywrap"), zap.String("agent", agentName)),
		cfg:        cfg,
		state:      StateStarting,
		buffer:     newRingBuffer(cfg.BufferMaxBytes),
		events:     make(chan Event, 256),
		stopSignal: make(chan struct{}),
	}
}

// Events returns the wrapper's event stream. Must be drained by the caller
// or the wrapper will block once the channel buffer fills.
func (w *Wrapper) Events() <-chan Event { return w.events }

// Start launches command in a PTY at the wrapper's configured size, with
// env augmented (NO_COLOR, TERM, BROWSER, DISPLAY).
func (w *Wrapper) Start(ctx context.Context, command []string, workDir string, env map[string]string) error {
	if len(command) == 0 {
		return apperrors.Spawn("Wrapper.Start", "command is required").WithAgent(w.agentName)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workDir
	cmd.Env = mergeEnv(env)

	handle, err := startWithSize(cmd, w.cfg.Cols, w.cfg.Rows)
	if err != nil {
		return apperrors.Spawn("Wrapper.Start", err.Error()).WithAgent(w.agentName)
	}

	runCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.handle = handle
	w.cmd = cmd
	w.statusTracker = newStatusTracker(w.cfg.Cols, w.cfg.Rows, 100*time.Millisecond, w.log)
	w.idle = newIdleDetector(w.cfg.Idle.MinSilence, w.cfg.Idle.ConfThreshold, w.cfg.Idle.UseProcState, w.pid, w.statusTracker)
	w.injection = newInjectionEngine(w.cfg.Injection, w.writeRaw, w.idle, w.onInjectionFailed, w.log)
	w.state = StateRunning
	w.cancel = cancel
	w.mu.Unlock()

	go w.injection.run(runCtx)
	go w.readLoop()
	go w.waitLoop()

	w.log.Info("agent started", zap.Strings("command", command), zap.String("working_dir", workDir))
	return nil
}

func (w *Wrapper) pid() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		return w.cmd.Process.Pid
	}
	return 0
}

// Pid exposes the child process id for liveness probing (agentsup's
// Supervisor) and crash-record context.
func (w *Wrapper) Pid() int { return w.pid() }

func mergeEnv(extra map[string]string) []string {
	base := []string{
		"NO_COLOR=1",
		"TERM=xterm-256color",
		"BROWSER=echo",
		"DISPLAY=",
	}
	for k, v := range extra {
		base = append(base, fmt.Sprintf("%s=%s", k, v))
	}
	return base
}

// WriteInput writes raw bytes directly to the child, bypassing the
// injection queue — used for human/API-driven input (sendInput,
// interrupt), which does not need idle gating.
func (w *Wrapper) WriteInput(data []byte) error {
	_, err := w.writeRaw(data)
	return err
}

// Interrupt sends SIGINT-equivalent \x03 to the child's stdin stream.
func (w *Wrapper) Interrupt() error {
	_, err := w.writeRaw([]byte{0x03})
	return err
}

// onInjectionFailed reports a message the injection engine gave up on as an
// EventInjectionFailed event.
func (w *Wrapper) onInjectionFailed(msg *Message, attempts int) {
	w.emit(Event{Kind: EventInjectionFailed, FailedMessageID: msg.ID, FailedAttempts: attempts})
}

func (w *Wrapper) writeRaw(data []byte) (int, error) {
	w.mu.Lock()
	handle := w.handle
	w.mu.Unlock()

	if handle == nil {
		return 0, apperrors.PTYWrite("Wrapper.writeRaw", fmt.Errorf("pty not started")).WithAgent(w.agentName)
	}
	n, err := handle.Write(data)
	if err != nil {
		return n, apperrors.PTYWrite("Wrapper.writeRaw", err).WithAgent(w.agentName)
	}
	if w.idle != nil {
		w.idle.noteOutput(false)
	}
	return n, nil
}

// EnqueueMessage queues a rendered message for idle-gated injection.
func (w *Wrapper) EnqueueMessage(msg *Message) {
	w.mu.Lock()
	inj := w.injection
	w.mu.Unlock()
	if inj != nil {
		inj.enqueue(msg)
	}
}

// PendingInjections returns the current injection queue depth.
func (w *Wrapper) PendingInjections() int {
	w.mu.Lock()
	inj := w.injection
	w.mu.Unlock()
	if inj == nil {
		return 0
	}
	return inj.pending()
}

// Metrics returns the current injection metrics snapshot.
func (w *Wrapper) Metrics() (total, firstTry, withRetry, failed int64, averageWaitMs float64) {
	w.mu.Lock()
	inj := w.injection
	w.mu.Unlock()
	if inj == nil {
		return
	}
	return inj.metrics.Snapshot()
}

// Resize changes the PTY window size and the vt10x terminal used for
// status detection.
func (w *Wrapper) Resize(cols, rows int) error {
	w.mu.Lock()
	handle := w.handle
	st := w.statusTracker
	w.mu.Unlock()

	if handle == nil {
		return fmt.Errorf("pty not started")
	}
	if err := handle.Resize(uint16(cols), uint16(rows)); err != nil {
		return err
	}
	if st != nil {
		st.resize(cols, rows)
	}
	return nil
}

// GetOutput returns up to limit of the most recently buffered output
// chunks (0 = all retained).
func (w *Wrapper) GetOutput(limit int) []OutputChunk {
	chunks := w.buffer.snapshot()
	if limit > 0 && limit < len(chunks) {
		return chunks[len(chunks)-limit:]
	}
	return chunks
}

// OutputTail returns the most recent maxBytes of buffered output
// concatenated into a single string (0 = all retained) — used by Crash
// Insights to capture exit-time context.
func (w *Wrapper) OutputTail(maxBytes int) string {
	text := w.buffer.tail(0)
	if maxBytes > 0 && len(text) > maxBytes {
		text = text[len(text)-maxBytes:]
	}
	return text
}

// State returns the wrapper's current lifecycle state.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stop cooperatively terminates the child: SIGTERM, then SIGKILL after the
// configured grace window. Idempotent.
func (w *Wrapper) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.state = StateStopping
	cmd := w.cmd
	handle := w.handle
	cancel := w.cancel
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopSignal) })
	if cancel != nil {
		cancel()
	}

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-time.After(time.Duration(w.cfg.GraceSeconds) * time.Second):
			_ = cmd.Process.Kill()
		case <-done:
		}
	}

	if handle != nil {
		_ = handle.Close()
	}
	return nil
}

// Kill sends signal directly to the child process.
func (w *Wrapper) Kill(sig syscall.Signal) error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	return cmd.Process.Signal(sig)
}

func (w *Wrapper) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.log.Warn("event channel full, dropping event", zap.String("kind", string(ev.Kind)))
	}
}

func (w *Wrapper) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-w.stopSignal:
			return
		default:
		}

		w.mu.Lock()
		handle := w.handle
		w.mu.Unlock()
		if handle == nil {
			return
		}

		n, err := handle.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			w.handleChunk(data)
		}
		if err != nil {
			return
		}
	}
}

func (w *Wrapper) handleChunk(data []byte) {
	chunk := OutputChunk{Data: string(data), Timestamp: time.Now()}
	w.buffer.append(chunk)
	w.emit(Event{Kind: EventOutput, Output: &chunk})

	hasEscapes := strings.ContainsRune(string(data), '\x1b')

	if containsDSRQuery(data) {
		_, _ = w.writeRaw([]byte("\x1b[1;1R"))
	}
	if containsDA1Query(data) {
		_, _ = w.writeRaw([]byte("\x1b[?1;2c"))
	}

	w.mu.Lock()
	st := w.statusTracker
	idle := w.idle
	w.mu.Unlock()

	if st != nil {
		st.write(data)
		if st.shouldCheck() {
			st.checkAndUpdate()
		}
	}
	if idle != nil {
		idle.noteOutput(hasEscapes)
	}

	stripped := stripANSI(data)
	w.processMarkers(stripped)
	w.checkAuthRevocation(stripped)
}

func (w *Wrapper) checkAuthRevocation(stripped string) {
	if w.authBlocked {
		return
	}
	lower := strings.ToLower(stripped)
	for _, pat := range authRevocationPatterns {
		if strings.Contains(lower, pat) {
			w.authBlocked = true
			w.emit(Event{Kind: EventAuthRevocation})
			w.log.Warn("auth revocation pattern detected, session blocked")
			return
		}
	}
}

// processMarkers appends stripped to the rolling window and extracts
// summary/session-end blocks and line commands, mirroring the
// continuation-line joining rule in 
func (w *Wrapper) processMarkers(stripped string) {
	w.accum += stripped

	for {
		blocks := markers.ExtractSummaryBlocks(w.accum)
		if len(blocks) == 0 {
			break
		}
		block := blocks[0]
		if block != w.lastSummaryRaw {
			w.lastSummaryRaw = block
			w.emit(Event{Kind: EventSummary, SummaryRaw: block})
		}
		idx := strings.Index(w.accum, "[[/SUMMARY]]")
		if idx < 0 {
			break
		}
		w.accum = w.accum[idx+len("[[/SUMMARY]]"):]
	}

	if !w.sessionEndProcessed {
		blocks := markers.ExtractSessionEndBlocks(w.accum)
		if len(blocks) > 0 {
			w.sessionEndProcessed = true
			w.emit(Event{Kind: EventSessionEnd, SessionEndRaw: blocks[0]})
		}
	}

	if lastNL := strings.LastIndex(w.accum, "\n"); lastNL >= 0 {
		complete := w.accum[:lastNL]
		w.accum = w.accum[lastNL+1:]

		lines := strings.Split(complete, "\n")
		joined := markers.JoinContinuationLines(lines)
		for _, line := range joined {
			if cmd, ok := markers.ParseLine(line); ok {
				cmdCopy := cmd
				w.emit(Event{Kind: EventCommand, Command: &cmdCopy})
			}
		}
	}

	if len(w.accum) > maxWindow {
		w.accum = w.accum[len(w.accum)-maxWindow:]
	}
}

func (w *Wrapper) waitLoop() {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil {
		return
	}

	err := cmd.Wait()
	exitCode := 0
	var signalName string
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() {
					signalName = ws.Signal().String()
					exitCode = 128 + int(ws.Signal())
				} else {
					exitCode = ws.ExitStatus()
				}
			} else {
				exitCode = 1
			}
		} else {
			exitCode = 1
		}
	}

	w.mu.Lock()
	priorState := w.state
	w.state = StateExited
	w.mu.Unlock()

	crashed := priorState != StateStopping

	w.log.Info("agent exited", zap.Int("exit_code", exitCode), zap.String("signal", signalName), zap.Bool("crashed", crashed))
	w.emit(Event{Kind: EventExit, ExitCode: exitCode, ExitSignal: signalName, Crashed: crashed})
}
