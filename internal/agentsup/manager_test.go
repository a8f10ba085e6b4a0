package agentsup

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/agentrelay/internal/logging"
	"github.com/kandev/agentrelay/internal/ptywrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger { return logging.Default() }

func testWrapperConfig() ptywrap.Config {
	return ptywrap.Config{Cols: 80, Rows: 24, GraceSeconds: 1}
}

func TestManager_SpawnRejectsNameCollision(t *testing.T) {
	m := NewManager(testLogger(), testWrapperConfig(), nil, nil, nil, NewHistory(10))

	req := SpawnRequest{WorkspaceID: "ws1", Name: "alice", Command: []string{"sleep", "1"}}
	_, err := m.Spawn(context.Background(), req)
	require.NoError(t, err)
	defer m.Stop(context.Background(), m.byName["ws1/alice"])

	_, err = m.Spawn(context.Background(), req)
	assert.Error(t, err)
}

func TestManager_SpawnAndStop(t *testing.T) {
	m := NewManager(testLogger(), testWrapperConfig(), nil, nil, nil, NewHistory(10))

	req := SpawnRequest{WorkspaceID: "ws1", Name: "bob", Command: []string{"sleep", "5"}}
	agent, err := m.Spawn(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, agent.AgentID)

	var sawSpawned bool
	deadline := time.After(time.Second)
	for !sawSpawned {
		select {
		case ev := <-m.Events():
			if ev.Kind == EventSpawned {
				sawSpawned = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for spawned event")
		}
	}

	require.NoError(t, m.Stop(context.Background(), agent.AgentID))
}

func TestManager_GetOutput(t *testing.T) {
	m := NewManager(testLogger(), testWrapperConfig(), nil, nil, nil, NewHistory(10))

	req := SpawnRequest{WorkspaceID: "ws1", Name: "carol", Command: []string{"sh", "-c", "printf hi; sleep 2"}}
	agent, err := m.Spawn(context.Background(), req)
	require.NoError(t, err)
	defer m.Stop(context.Background(), agent.AgentID)

	deadline := time.Now().Add(time.Second)
	var combined string
	for time.Now().Before(deadline) {
		chunks := m.GetOutput(agent.AgentID, 0)
		for _, c := range chunks {
			combined += c.Data
		}
		if combined != "" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Contains(t, combined, "hi")
}
