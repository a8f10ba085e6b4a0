package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("claude-1", "agent-1", "claude-code", "/work/a", nil))

	rec, ok := r.Get("claude-1")
	require.True(t, ok)
	assert.Equal(t, "agent-1", rec.ID)
	assert.Equal(t, "claude-code", rec.Provider)
	assert.False(t, rec.FirstSeen.IsZero())
}

func TestRegistry_RegisterPreservesFirstSeenOnReRegister(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("claude-1", "agent-1", "claude-code", "/work/a", nil))
	first, _ := r.Get("claude-1")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Register("claude-1", "agent-1", "claude-code", "/work/a", nil))
	second, _ := r.Get("claude-1")

	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.True(t, second.LastSeen.After(first.LastSeen) || second.LastSeen.Equal(first.LastSeen))
}

func TestRegistry_RecordPublishIncrementsCounters(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("sender", "a1", "p", "/w", nil))
	require.NoError(t, r.Register("recipient", "a2", "p", "/w", nil))

	require.NoError(t, r.RecordPublish("sender", []string{"recipient"}))

	sender, _ := r.Get("sender")
	recipient, _ := r.Get("recipient")
	assert.EqualValues(t, 1, sender.MessagesSent)
	assert.EqualValues(t, 1, recipient.MessagesReceived)
}

func TestRegistry_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	r1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, r1.Register("claude-1", "agent-1", "claude-code", "/work/a", nil))

	r2, err := New(dir)
	require.NoError(t, err)
	rec, ok := r2.Get("claude-1")
	require.True(t, ok)
	assert.Equal(t, "agent-1", rec.ID)
}

func TestRegistry_RemoveAndStaleSince(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("old-agent", "a1", "p", "/w", nil))

	future := time.Now().Add(time.Hour)
	stale := r.StaleSince(future)
	assert.Contains(t, stale, "old-agent")

	require.NoError(t, r.Remove("old-agent"))
	_, ok := r.Get("old-agent")
	assert.False(t, ok)
}
