package relay

import (
	"testing"

	"github.com/kandev/agentrelay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger { return logging.Default() }

type fakeRegistry struct {
	calls []struct {
		from string
		to   []string
	}
}

func (f *fakeRegistry) RecordPublish(from string, to []string) error {
	f.calls = append(f.calls, struct {
		from string
		to   []string
	}{from, to})
	return nil
}

// TestRelay_BasicDirectMessage checks that alice sending bob a direct
// message delivers exactly one envelope to bob's handler.
func TestRelay_BasicDirectMessage(t *testing.T) {
	reg := &fakeRegistry{}
	r := New(Config{}, testLogger(), reg)

	var received []Envelope
	r.Subscribe("alice", func(Envelope) error { return nil })
	r.Subscribe("bob", func(e Envelope) error {
		received = append(received, e)
		return nil
	})

	env := New("alice", "bob", "hello")
	require.NoError(t, r.Publish(env))

	require.Len(t, received, 1)
	assert.Equal(t, "alice", received[0].From)
	assert.Equal(t, "hello", received[0].Body)
	require.Len(t, reg.calls, 1)
	assert.Equal(t, []string{"bob"}, reg.calls[0].to)
}

func TestRelay_Broadcast_ExcludesSender(t *testing.T) {
	r := New(Config{}, testLogger(), nil)

	var aliceGot, bobGot, carolGot bool
	r.Subscribe("alice", func(Envelope) error { aliceGot = true; return nil })
	r.Subscribe("bob", func(Envelope) error { bobGot = true; return nil })
	r.Subscribe("carol", func(Envelope) error { carolGot = true; return nil })

	require.NoError(t, r.Publish(New("alice", "*", "everyone")))

	assert.False(t, aliceGot, "sender should not receive its own broadcast")
	assert.True(t, bobGot)
	assert.True(t, carolGot)
}

func TestRelay_Channel_FansOutToMembersOnly(t *testing.T) {
	r := New(Config{}, testLogger(), nil)

	var bobGot, carolGot bool
	r.Subscribe("alice", func(Envelope) error { return nil })
	r.Subscribe("bob", func(Envelope) error { bobGot = true; return nil })
	r.Subscribe("carol", func(Envelope) error { carolGot = true; return nil })

	r.JoinChannel("#team", "alice")
	r.JoinChannel("#team", "bob")

	require.NoError(t, r.Publish(New("alice", "#team", "standup")))
	assert.True(t, bobGot)
	assert.False(t, carolGot, "carol never joined #team")
}

func TestRelay_DirectMessageChannel_SortsParticipants(t *testing.T) {
	r := New(Config{}, testLogger(), nil)

	var bobGot bool
	r.Subscribe("alice", func(Envelope) error { return nil })
	r.Subscribe("bob", func(Envelope) error { bobGot = true; return nil })

	require.NoError(t, r.Publish(New("alice", "dm:bob:alice", "private chat")))
	assert.True(t, bobGot)
}

func TestRelay_Publish_UnknownRecipientErrors(t *testing.T) {
	r := New(Config{}, testLogger(), nil)
	err := r.Publish(New("alice", "nobody", "hi"))
	assert.Error(t, err)
}

// TestRelay_Dedupe_RepeatedIDIsDropped checks the duplicate-hash guard: the
// same envelope, delivered twice with the same id, is only handled once.
func TestRelay_Dedupe_RepeatedIDIsDropped(t *testing.T) {
	r := New(Config{}, testLogger(), nil)

	count := 0
	r.Subscribe("bob", func(Envelope) error { count++; return nil })

	env := New("alice", "bob", "hello")
	require.NoError(t, r.Publish(env))
	require.NoError(t, r.Publish(env))

	assert.Equal(t, 1, count)
}

func TestRelay_Dedupe_SenderHashSuppressesReparsedLine(t *testing.T) {
	r := New(Config{}, testLogger(), nil)

	count := 0
	r.Subscribe("bob", func(Envelope) error { count++; return nil })

	// Simulates a wrapper minting a fresh id for the same re-rendered body.
	first := New("alice", "bob", "same body from a TUI redraw")
	second := first
	second.ID = "different-id"

	require.NoError(t, r.Publish(first))
	require.NoError(t, r.Publish(second))

	assert.Equal(t, 1, count)
}

func TestRelay_Unsubscribe_RemovesFromChannels(t *testing.T) {
	r := New(Config{}, testLogger(), nil)

	var bobGot bool
	r.Subscribe("alice", func(Envelope) error { return nil })
	r.Subscribe("bob", func(Envelope) error { bobGot = true; return nil })
	r.JoinChannel("#team", "bob")

	r.Unsubscribe("bob")
	require.NoError(t, r.Publish(New("alice", "#team", "standup")))
	assert.False(t, bobGot)
}

func TestParseChannel(t *testing.T) {
	kind, canonical := ParseChannel("#general")
	assert.Equal(t, ChannelPublic, kind)
	assert.Equal(t, "#general", canonical)

	kind, canonical = ParseChannel("dm:bob:alice")
	assert.Equal(t, ChannelDirect, kind)
	assert.Equal(t, "dm:alice:bob", canonical)

	kind, canonical = ParseChannel("private:ops")
	assert.Equal(t, ChannelPrivate, kind)
	assert.Equal(t, "private:ops", canonical)

	kind, _ = ParseChannel("alice")
	assert.Equal(t, ChannelNone, kind)
}

func TestFIFOSet_EvictsOldest(t *testing.T) {
	s := newFIFOSet(2)
	assert.True(t, s.addIfNew("a"))
	assert.True(t, s.addIfNew("b"))
	assert.False(t, s.addIfNew("b"), "b is still within the window")
	assert.True(t, s.addIfNew("c")) // evicts "a"
	assert.True(t, s.addIfNew("a"), "a was evicted, so it's new again")
	assert.False(t, s.addIfNew("c"), "c is still within the window")
}
