package agentsup

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentrelay/internal/ptywrap"
)

// SupervisorConfig mirrors internal/config.SupervisorConfig.
type SupervisorConfig struct {
	HealthCheckInterval time.Duration
	MaxRestarts         int
	BackoffWindow       time.Duration
	RestartBase         time.Duration
	RestartCap          time.Duration
	AutoInjectOnRestart bool
	RestartOnCleanExit  bool
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 2 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.BackoffWindow <= 0 {
		c.BackoffWindow = 60 * time.Second
	}
	if c.RestartBase <= 0 {
		c.RestartBase = time.Second
	}
	if c.RestartCap <= 0 {
		c.RestartCap = 30 * time.Second
	}
	return c
}

// maxMemorySamples bounds the per-agent RSS sample window kept for Crash
// Insights' trend/spike analysis.
const maxMemorySamples = 20

// supervisorEntry is the Supervisor's per-agent restart bookkeeping.
type supervisorEntry struct {
	mu            sync.Mutex
	cfg           SupervisorConfig
	req           SpawnRequest
	restartCount  int
	windowStart   time.Time
	permanentDead bool
	cancelProbe   context.CancelFunc
	memSamples    []MemorySample
}

// recordMemorySample appends a fresh RSS reading for pid, evicting the
// oldest sample once maxMemorySamples is exceeded. A failed read (pid gone,
// unreadable /proc entry) is silently skipped — this signal is advisory.
func (e *supervisorEntry) recordMemorySample(pid int) {
	rss := readRSSBytes(pid)
	if rss <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memSamples = append(e.memSamples, MemorySample{Timestamp: time.Now(), RSSBytes: rss})
	if len(e.memSamples) > maxMemorySamples {
		e.memSamples = e.memSamples[len(e.memSamples)-maxMemorySamples:]
	}
}

// memoryContext snapshots the entry's sample window into a MemoryContext.
func (e *supervisorEntry) memoryContext() MemoryContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return buildMemoryContext(e.memSamples)
}

// SetSupervisorConfig installs the restart policy used by every
// subsequently spawned agent. Call once at startup.
func (m *Manager) SetSupervisorConfig(cfg SupervisorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supervisorCfg = cfg.withDefaults()
}

// startSupervision registers periodic liveness probing for agentID and
// arms the crash/restart path. The wrapper's own cmd.Wait() already gives a
// reliable, immediate exit notification (handleExit below); the periodic
// probe here exists for parity with the "signal 0 probe" cadence and
// to catch a wedged child whose PTY read side never reaches EOF.
func (m *Manager) startSupervision(agentID, agentName string, req SpawnRequest) {
	m.mu.Lock()
	cfg := m.supervisorCfg
	m.mu.Unlock()

	entry := &supervisorEntry{cfg: cfg.withDefaults(), req: req, windowStart: time.Now()}

	ctx, cancel := context.WithCancel(context.Background())
	entry.cancelProbe = cancel

	m.mu.Lock()
	m.sup[agentID] = entry
	m.mu.Unlock()

	go m.probeLoop(ctx, agentID, entry)
}

func (m *Manager) stopSupervision(agentID string) {
	m.mu.Lock()
	entry, ok := m.sup[agentID]
	delete(m.sup, agentID)
	m.mu.Unlock()
	if ok {
		entry.cancelProbe()
	}
}

// probeLoop periodically confirms the child is still alive via a signal-0
// probe, logging (but not acting on) a negative result — handleExit, driven
// by the wrapper's own waitLoop, remains the authoritative crash signal.
// Each tick also samples the child's RSS so a later crash has recent memory
// context to classify against.
func (m *Manager) probeLoop(ctx context.Context, agentID string, entry *supervisorEntry) {
	ticker := time.NewTicker(entry.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inst, ok := m.get(agentID)
			if !ok {
				return
			}
			pid := inst.wrapper.Pid()
			if pid <= 0 {
				continue
			}
			entry.recordMemorySample(pid)
			if proc, err := os.FindProcess(pid); err == nil {
				if err := proc.Signal(syscall.Signal(0)); err != nil {
					m.log.Debug("supervisor liveness probe found dead pid", zap.Int("pid", pid), zap.String("agentId", agentID))
				}
			}
		}
	}
}

// handleExit is invoked from pumpEvents on ptywrap.EventExit. It records a
// crash (if non-clean), applies the restart policy, and — on restart —
// respawns the agent and, if configured, injects the restart context
// before any user input is accepted.
func (m *Manager) handleExit(agentID, agentName string, ev ptywrap.Event) {
	m.mu.Lock()
	inst, ok := m.instances[agentID]
	entry := m.sup[agentID]
	m.mu.Unlock()
	if !ok {
		return
	}

	clean := ev.ExitCode == 0 && ev.ExitSignal == ""
	if !clean {
		pid := inst.wrapper.Pid()
		tail := inst.wrapper.OutputTail(2048)
		var mem MemoryContext
		if entry != nil {
			mem = entry.memoryContext()
		}
		signal := ev.ExitSignal
		if signal != "" && ev.ExitCode > 128 {
			// The wrapper reports Go's signal text (e.g. "killed"); crash
			// records use the SIG* names that classify matches on.
			signal = SignalName(syscall.Signal(ev.ExitCode - 128))
		}
		rec := m.history.Record(
			uuid.NewString(), agentName, pid, ev.ExitCode, signal,
			tail, "", mem,
		)
		m.emit(Event{Kind: EventCrashed, AgentID: agentID, CrashRecord: &rec, Timestamp: time.Now().UTC()})
	}

	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.permanentDead {
		return
	}

	shouldRestart := !clean || entry.cfg.RestartOnCleanExit
	if !shouldRestart {
		m.mu.Lock()
		inst.agent.Status = StatusStopped
		m.mu.Unlock()
		return
	}

	if time.Since(entry.windowStart) > entry.cfg.BackoffWindow {
		entry.restartCount = 0
		entry.windowStart = time.Now()
	}

	if entry.restartCount >= entry.cfg.MaxRestarts {
		entry.permanentDead = true
		m.emit(Event{Kind: EventCrashed, AgentID: agentID, Message: "permanentlyDead", Timestamp: time.Now().UTC()})
		return
	}

	entry.restartCount++
	backoff := entry.cfg.RestartBase * time.Duration(1<<uint(entry.restartCount-1))
	if backoff > entry.cfg.RestartCap {
		backoff = entry.cfg.RestartCap
	}

	req := entry.req
	go m.restartAfter(backoff, agentID, agentName, req, entry.cfg.AutoInjectOnRestart, entry.restartCount, entry.windowStart)
}

func (m *Manager) restartAfter(backoff time.Duration, agentID, agentName string, req SpawnRequest, autoInject bool, restartCount int, windowStart time.Time) {
	time.Sleep(backoff)

	m.mu.Lock()
	delete(m.instances, agentID)
	delete(m.byName, workspaceKey(req.WorkspaceID, req.Name))
	delete(m.sup, agentID)
	m.mu.Unlock()

	req.ResumeAgentID = agentID
	agent, err := m.Spawn(context.Background(), req)
	if err != nil {
		m.log.Warn("supervisor restart failed", zap.String("agentId", agentID), zap.Error(err))
		return
	}

	// Spawn registered a fresh supervisor entry; carry the restart count and
	// window over so MaxRestarts applies across restarts.
	m.mu.Lock()
	if inst, ok := m.instances[agentID]; ok {
		inst.agent.RestartCount = restartCount
	}
	newEntry := m.sup[agentID]
	m.mu.Unlock()
	agent.RestartCount = restartCount
	if newEntry != nil {
		newEntry.mu.Lock()
		newEntry.restartCount = restartCount
		newEntry.windowStart = windowStart
		newEntry.mu.Unlock()
	}

	if autoInject && m.continuity != nil {
		if text, found, err := m.continuity.BuildRestartContext(agentName); err == nil && found {
			if inst, ok := m.get(agentID); ok {
				inst.wrapper.EnqueueMessage(&ptywrap.Message{
					ID:         uuid.NewString(),
					From:       "system",
					Body:       text,
					Importance: ptywrap.ImportanceHigh,
				})
			}
		}
	}

	m.emit(Event{Kind: EventRestarted, AgentID: agentID, Agent: agent, Timestamp: time.Now().UTC()})
}
