package agentsup

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentrelay/internal/continuity"
	"github.com/kandev/agentrelay/internal/markers"
)

func testContinuityManager(t *testing.T) *continuity.Manager {
	t.Helper()
	store, err := continuity.NewStore(continuity.StoreConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	return continuity.NewManager(store, testLogger(), nil, 0)
}

// TestManager_RestartReinjectsContinuityContext checks that a crashed agent
// comes back up under the same agent id and, with AutoInjectOnRestart set,
// has its saved ledger context re-injected before the restarted event
// fires. The spawned command fails exactly once (recording a marker file on
// disk) so the restarted attempt survives long enough to observe the
// injection queue.
func TestManager_RestartReinjectsContinuityContext(t *testing.T) {
	cont := testContinuityManager(t)

	_, err := cont.Dispatch("dave", &markers.ContinuityCommand{
		Verb: markers.VerbSave,
		Body: "Current task: ship the relay\n",
	})
	require.NoError(t, err)

	m := NewManager(testLogger(), testWrapperConfig(), nil, nil, cont, NewHistory(10))
	m.SetSupervisorConfig(SupervisorConfig{
		HealthCheckInterval: 50 * time.Millisecond,
		MaxRestarts:         3,
		BackoffWindow:       time.Minute,
		RestartBase:         10 * time.Millisecond,
		RestartCap:          50 * time.Millisecond,
		AutoInjectOnRestart: true,
	})

	marker := filepath.Join(t.TempDir(), "restarted")
	script := fmt.Sprintf("if [ -f %s ]; then sleep 5; else touch %s; exit 1; fi", marker, marker)
	req := SpawnRequest{WorkspaceID: "ws1", Name: "dave", Command: []string{"sh", "-c", script}}
	agent, err := m.Spawn(context.Background(), req)
	require.NoError(t, err)

	var restarted *Agent
	deadline := time.After(3 * time.Second)
	for restarted == nil {
		select {
		case ev := <-m.Events():
			if ev.Kind == EventRestarted {
				restarted = ev.Agent
			}
		case <-deadline:
			t.Fatal("timed out waiting for restarted event")
		}
	}

	require.NotNil(t, restarted)
	assert.Equal(t, agent.AgentID, restarted.AgentID, "restart must keep the same agent id")

	inst, ok := m.get(agent.AgentID)
	require.True(t, ok)

	var sawInjected bool
	deadline = time.After(time.Second)
	for !sawInjected {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for restart-context injection")
		default:
			total, _, _, _, _ := inst.wrapper.Metrics()
			if total > 0 || inst.wrapper.PendingInjections() > 0 {
				sawInjected = true
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	require.NoError(t, m.Stop(context.Background(), agent.AgentID))
}
