package eventbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentrelay/internal/agentsup"
	"github.com/kandev/agentrelay/internal/config"
	"github.com/kandev/agentrelay/internal/logging"
)

func TestNew_DisabledReturnsNoopBridge(t *testing.T) {
	b, err := New(config.EventsConfig{Enabled: false}, logging.Default())
	require.NoError(t, err)
	assert.Nil(t, b.conn)
}

func TestBridge_RunDrainsChannelWithoutConnection(t *testing.T) {
	b, err := New(config.EventsConfig{Enabled: false, Namespace: "agentrelay"}, logging.Default())
	require.NoError(t, err)

	events := make(chan agentsup.Event, 2)
	events <- agentsup.Event{Kind: agentsup.EventSummary, AgentID: "a1", Timestamp: time.Now()}
	events <- agentsup.Event{Kind: agentsup.EventSessionEnd, AgentID: "a1", Timestamp: time.Now()}
	close(events)

	done := make(chan struct{})
	go func() {
		b.Run(events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel closed")
	}
}
