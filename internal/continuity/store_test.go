package continuity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreConfig{
		DataDir:     t.TempDir(),
		LockBase:    5 * time.Millisecond,
		LockCap:     20 * time.Millisecond,
		LockTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestStore_CreateLoad(t *testing.T) {
	s := newTestStore(t)

	ledger, err := s.Create("claude-1", "claude-code", "sess-abc", "agent-123")
	require.NoError(t, err)
	assert.Equal(t, "claude-1", ledger.AgentName)

	loaded, found, err := s.Load("claude-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "agent-123", loaded.AgentID)
	assert.Equal(t, "claude-code", loaded.CLI)
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.Load("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_UpdatePreservesIdentity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("claude-1", "claude-code", "sess-abc", "agent-123")
	require.NoError(t, err)

	updated, found, err := s.Update("claude-1", func(l *Ledger) {
		l.AgentID = "tampered"
		l.AgentName = "tampered"
		l.CurrentTask = "writing tests"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "agent-123", updated.AgentID)
	assert.Equal(t, "claude-1", updated.AgentName)
	assert.Equal(t, "writing tests", updated.CurrentTask)
}

func TestStore_AddToListIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("claude-1", "claude-code", "sess-abc", "agent-123")
	require.NoError(t, err)

	require.NoError(t, s.AddToList("claude-1", "completed", "wired the store"))
	require.NoError(t, s.AddToList("claude-1", "completed", "wired the store"))

	ledger, _, err := s.Load("claude-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"wired the store"}, ledger.Completed)
}

func TestStore_FindByAgentID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("claude-1", "claude-code", "sess-abc", "agent-123")
	require.NoError(t, err)

	ledger, found, err := s.FindByAgentID("agent-123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "claude-1", ledger.AgentName)

	_, found, err = s.FindByAgentID("unknown-agent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_FindByAgentID_StaleIndexRebuild(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("claude-1", "claude-code", "sess-abc", "agent-123")
	require.NoError(t, err)

	// simulate index corruption
	s.mu.Lock()
	s.index["agent-123"] = "wrong-name"
	s.mu.Unlock()

	ledger, found, err := s.FindByAgentID("agent-123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "claude-1", ledger.AgentName)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "foo_bar", sanitizeName("foo bar"))
	assert.Equal(t, "a_b_c", sanitizeName("a/b\\c"))
}

func TestStore_CreateRejectsUnsafeName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("../escape", "cli", "sess", "id")
	assert.Error(t, err)
}
