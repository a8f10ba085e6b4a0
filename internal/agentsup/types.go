// Package agentsup is the top-level orchestrator: the Agent Manager maps
// agent ids to live (Agent, PTY Wrapper) pairs, the Supervisor probes
// liveness and drives restarts, and Crash Insights classifies why an agent
// died: atomic status transitions and a stderr ring buffer for crash
// context, with classification vocabulary and stagnant-seconds cadence
// borrowed from patrol-style health monitors.
package agentsup

import "time"

// Status is an agent's lifecycle state.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusIdle        Status = "idle"
	StatusInjecting   Status = "injecting"
	StatusRestarting  Status = "restarting"
	StatusCrashed     Status = "crashed"
	StatusStopped     Status = "stopped"
	StatusPermaDead   Status = "permanentlyDead"
)

// Agent is the Manager's record of one supervised process.
type Agent struct {
	AgentID        string    `json:"agentId"`
	Name           string    `json:"name"`
	WorkspaceID    string    `json:"workspaceId"`
	Provider       string    `json:"provider"`
	CommandTemplate []string `json:"commandTemplate"`
	WorkingDir     string    `json:"workingDir"`
	Status         Status    `json:"status"`
	PID            int       `json:"pid"`
	SpawnTimestamp time.Time `json:"spawnTimestamp"`
	RestartCount   int       `json:"restartCount"`
	Task           string    `json:"task"`
	LogFilePath    string    `json:"logFilePath"`
}

// SpawnRequest is the Agent Manager's spawn() parameter object.
type SpawnRequest struct {
	WorkspaceID   string
	Name          string
	Provider      string
	Command       []string
	WorkingDir    string
	Task          string
	ResumeAgentID string
}

// EventKind enumerates the Agent Manager's public event stream
// ("event stream").
type EventKind string

const (
	EventSpawned         EventKind = "spawned"
	EventStopped         EventKind = "stopped"
	EventRestarted       EventKind = "restarted"
	EventCrashed         EventKind = "crashed"
	EventSummary         EventKind = "summary"
	EventSessionEnd      EventKind = "session-end"
	EventInjectionFailed EventKind = "injection-failed"
)

// Event is one notification on the Manager's event stream.
type Event struct {
	Kind        EventKind    `json:"kind"`
	AgentID     string       `json:"agentId"`
	Agent       *Agent       `json:"agent,omitempty"`
	CrashRecord *CrashRecord `json:"crashRecord,omitempty"`
	Message     string       `json:"message,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}
