package agentsup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentrelay/internal/continuity"
	"github.com/kandev/agentrelay/internal/logging"
	"github.com/kandev/agentrelay/internal/markers"
	"github.com/kandev/agentrelay/internal/ptywrap"
	"github.com/kandev/agentrelay/internal/registry"
	"github.com/kandev/agentrelay/internal/relay"
)

// agentCollision is returned by Spawn when (workspaceId, name) is already
// in use,
type agentCollision struct {
	workspaceID, name string
}

func (e *agentCollision) Error() string {
	return fmt.Sprintf("agent %q already running in workspace %q", e.name, e.workspaceID)
}

// instance bundles everything the Manager owns per live agent.
type instance struct {
	agent   Agent
	wrapper *ptywrap.Wrapper
	cancel  context.CancelFunc
}

// Manager is the top-level orchestrator: spawn/stop/sendInput/interrupt/
// getOutput plus the unified event stream ("Agent Manager").
type Manager struct {
	log        *logging.Logger
	wrapperCfg ptywrap.Config
	relay      *relay.Relay
	registry   *registry.Registry
	continuity *continuity.Manager
	history    *History
	events     chan Event

	mu            sync.Mutex
	instances     map[string]*instance        // agentId -> instance
	byName        map[string]string           // workspaceId/name -> agentId
	sup           map[string]*supervisorEntry // agentId -> supervisor bookkeeping
	supervisorCfg SupervisorConfig
}

// NewManager wires a Manager over its collaborators. relay, registry, and
// continuity may be supplied as nil in isolated tests.
func NewManager(log *logging.Logger, wrapperCfg ptywrap.Config, r *relay.Relay, reg *registry.Registry, cont *continuity.Manager, history *History) *Manager {
	return &Manager{
		log:           log,
		wrapperCfg:    wrapperCfg,
		relay:         r,
		registry:      reg,
		continuity:    cont,
		history:       history,
		events:        make(chan Event, 256),
		instances:     make(map[string]*instance),
		byName:        make(map[string]string),
		sup:           make(map[string]*supervisorEntry),
		supervisorCfg: SupervisorConfig{}.withDefaults(),
	}
}

// Events returns the Manager's unified event stream.
func (m *Manager) Events() <-chan Event { return m.events }

func workspaceKey(workspaceID, name string) string { return workspaceID + "/" + name }

// Spawn starts a new agent process, rejecting a (workspaceId, name)
// collision.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*Agent, error) {
	key := workspaceKey(req.WorkspaceID, req.Name)

	m.mu.Lock()
	if _, exists := m.byName[key]; exists {
		m.mu.Unlock()
		return nil, &agentCollision{workspaceID: req.WorkspaceID, name: req.Name}
	}
	m.mu.Unlock()

	agentID := req.ResumeAgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	w := ptywrap.New(req.Name, m.wrapperCfg, m.log)
	if err := w.Start(ctx, req.Command, req.WorkingDir, nil); err != nil {
		return nil, err
	}

	agent := Agent{
		AgentID:        agentID,
		Name:           req.Name,
		WorkspaceID:    req.WorkspaceID,
		Provider:       req.Provider,
		CommandTemplate: req.Command,
		WorkingDir:     req.WorkingDir,
		Status:         StatusStarting,
		PID:            0,
		SpawnTimestamp: time.Now().UTC(),
		Task:           req.Task,
	}

	wctx, cancel := context.WithCancel(ctx)
	inst := &instance{agent: agent, wrapper: w, cancel: cancel}

	m.mu.Lock()
	m.instances[agentID] = inst
	m.byName[key] = agentID
	m.mu.Unlock()

	if m.registry != nil {
		_ = m.registry.Register(req.Name, agentID, req.Provider, req.WorkingDir, nil)
	}
	if m.relay != nil {
		m.relay.Subscribe(req.Name, m.injectionHandlerFor(req.Name))
		m.relay.SetPendingQuery(req.Name, w.PendingInjections)
	}

	go m.pumpEvents(wctx, agentID, req.Name)
	m.startSupervision(agentID, req.Name, req)

	m.emit(Event{Kind: EventSpawned, AgentID: agentID, Agent: &agent, Timestamp: time.Now().UTC()})
	return &agent, nil
}

// injectionHandlerFor returns a relay.Handler that enqueues an inbound
// envelope onto agentName's injection queue, rendering it via ptywrap.
func (m *Manager) injectionHandlerFor(agentName string) relay.Handler {
	return func(env relay.Envelope) error {
		m.mu.Lock()
		inst := m.instanceByName(agentName)
		m.mu.Unlock()
		if inst == nil {
			return fmt.Errorf("agentsup: no live instance for %s", agentName)
		}
		inst.wrapper.EnqueueMessage(&ptywrap.Message{
			ID:         env.ID,
			From:       env.From,
			Thread:     env.Thread,
			Body:       env.Body,
			Importance: ptywrap.Importance(env.Importance),
		})
		return nil
	}
}

func (m *Manager) instanceByName(name string) *instance {
	for _, inst := range m.instances {
		if inst.agent.Name == name {
			return inst
		}
	}
	return nil
}

// Stop gracefully stops agentID.
func (m *Manager) Stop(ctx context.Context, agentID string) error {
	m.mu.Lock()
	inst, ok := m.instances[agentID]
	if ok {
		inst.agent.Status = StatusStopped
		delete(m.instances, agentID)
		delete(m.byName, workspaceKey(inst.agent.WorkspaceID, inst.agent.Name))
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("agentsup: unknown agent %s", agentID)
	}

	m.stopSupervision(agentID)
	if m.relay != nil {
		m.relay.Unsubscribe(inst.agent.Name)
	}
	inst.cancel()
	err := inst.wrapper.Stop(ctx)
	m.emit(Event{Kind: EventStopped, AgentID: agentID, Timestamp: time.Now().UTC()})
	return err
}

// StopAllInWorkspace stops every agent belonging to workspaceID.
func (m *Manager) StopAllInWorkspace(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	var ids []string
	for id, inst := range m.instances {
		if inst.agent.WorkspaceID == workspaceID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAll stops every currently running agent across all workspaces
// concurrently, returning the first error encountered (if any) once every
// stop attempt has finished. Used by the daemon's shutdown path, where
// stopping agents one at a time would otherwise serialize on each one's
// grace period.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.Stop(ctx, id)
		})
	}
	return g.Wait()
}

// SendInput writes raw bytes to agentID's PTY (bypassing the injection
// queue — used for direct operator/API input, not relay messages).
func (m *Manager) SendInput(agentID string, data []byte) error {
	inst, ok := m.get(agentID)
	if !ok {
		return fmt.Errorf("agentsup: unknown agent %s", agentID)
	}
	return inst.wrapper.WriteInput(data)
}

// Interrupt sends ctrl-C to agentID.
func (m *Manager) Interrupt(agentID string) error {
	inst, ok := m.get(agentID)
	if !ok {
		return fmt.Errorf("agentsup: unknown agent %s", agentID)
	}
	return inst.wrapper.Interrupt()
}

// GetOutput returns up to limit buffered output chunks for agentID.
func (m *Manager) GetOutput(agentID string, limit int) []ptywrap.OutputChunk {
	inst, ok := m.get(agentID)
	if !ok {
		return nil
	}
	return inst.wrapper.GetOutput(limit)
}

// List returns a snapshot of every currently tracked agent.
func (m *Manager) List() []Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Agent, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.agent)
	}
	return out
}

// Get returns a snapshot of a single agent's state, if tracked.
func (m *Manager) Get(agentID string) (Agent, bool) {
	inst, ok := m.get(agentID)
	if !ok {
		return Agent{}, false
	}
	return inst.agent, true
}

// PendingFor reports agentID's live injection-queue depth, or 0 if the
// agent isn't currently tracked. Routed through the relay's
// SetPendingQuery registration when a relay is wired, falling back to
// querying the wrapper directly otherwise.
func (m *Manager) PendingFor(agentID string) int {
	inst, ok := m.get(agentID)
	if !ok {
		return 0
	}
	if m.relay != nil {
		return m.relay.PendingFor(inst.agent.Name)
	}
	return inst.wrapper.PendingInjections()
}

func (m *Manager) get(agentID string) (*instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[agentID]
	return inst, ok
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("agentsup event dropped, channel full", zap.String("kind", string(ev.Kind)))
	}
}

// pumpEvents translates a Wrapper's internal events into Manager events and
// dispatches relay/continuity commands, until ctx is cancelled.
func (m *Manager) pumpEvents(ctx context.Context, agentID, agentName string) {
	inst, ok := m.get(agentID)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-inst.wrapper.Events():
			if !ok {
				return
			}
			m.handleWrapperEvent(agentID, agentName, ev)
		}
	}
}

func (m *Manager) handleWrapperEvent(agentID, agentName string, ev ptywrap.Event) {
	switch ev.Kind {
	case ptywrap.EventSummary:
		if m.continuity != nil {
			if err := m.continuity.ApplySummary(agentName, ev.SummaryRaw); err != nil {
				m.log.Warn("continuity summary apply failed", zap.String("agent", agentName), zap.Error(err))
			}
		}
		m.emit(Event{Kind: EventSummary, AgentID: agentID, Message: ev.SummaryRaw, Timestamp: time.Now().UTC()})
	case ptywrap.EventSessionEnd:
		m.emit(Event{Kind: EventSessionEnd, AgentID: agentID, Message: ev.SessionEndRaw, Timestamp: time.Now().UTC()})
	case ptywrap.EventInjectionFailed:
		m.emit(Event{Kind: EventInjectionFailed, AgentID: agentID, Message: ev.FailedMessageID, Timestamp: time.Now().UTC()})
	case ptywrap.EventCommand:
		if ev.Command != nil {
			m.dispatchCommand(agentID, agentName, *ev.Command)
		}
	case ptywrap.EventExit:
		m.handleExit(agentID, agentName, ev)
	}
}

// dispatchCommand routes a parsed marker command to the relay or the
// continuity manager (data flow: Parser -> Relay / Continuity).
func (m *Manager) dispatchCommand(agentID, agentName string, cmd markers.Command) {
	switch cmd.Kind {
	case markers.KindRelay:
		if cmd.Relay == nil || m.relay == nil {
			return
		}
		env := relay.New(agentName, cmd.Relay.To, cmd.Relay.Body)
		if err := m.relay.Publish(env); err != nil {
			m.log.Warn("relay publish failed", zap.String("from", agentName), zap.Error(err))
		}
	case markers.KindContinuity:
		if cmd.Continuity == nil || m.continuity == nil {
			return
		}
		inject, err := m.continuity.Dispatch(agentName, cmd.Continuity)
		if err != nil {
			m.log.Warn("continuity dispatch failed", zap.String("agent", agentName), zap.Error(err))
			return
		}
		if inject == "" {
			return
		}
		inst, ok := m.get(agentID)
		if !ok {
			return
		}
		inst.wrapper.EnqueueMessage(&ptywrap.Message{
			ID:         uuid.NewString(),
			From:       "system",
			Body:       inject,
			Importance: ptywrap.ImportanceHigh,
		})
	case markers.KindSpawn, markers.KindRelease:
		// Dynamic spawn/release of agents from within another agent's
		// output is delegated to the embedding program's policy layer
		// ("External policy source"); the core only parses
		// and surfaces the command as an event for that layer to act on.
		m.emit(Event{Kind: EventSpawned, AgentID: agentID, Message: fmt.Sprintf("%+v", cmd), Timestamp: time.Now().UTC()})
	}
}
