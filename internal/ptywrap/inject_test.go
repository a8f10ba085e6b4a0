package ptywrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWrapper_InjectionWaitsForIdle checks that a queued message is held
// back while the child keeps producing output and is only written to the
// PTY once the child has gone quiet for at least MinSilence.
func TestWrapper_InjectionWaitsForIdle(t *testing.T) {
	w := New("idle-gate", Config{
		Cols: 80, Rows: 24, GraceSeconds: 1,
		Idle: IdleTuning{
			MinSilence:    150 * time.Millisecond,
			ConfThreshold: 0.1,
			PollInterval:  10 * time.Millisecond,
		},
		Injection: InjectionConfig{
			QueueSize:   4,
			Timeout:     2 * time.Second,
			MaxAttempts: 1,
			SubmitDelay: 5 * time.Millisecond,
		},
	}, testLogger())

	// Produces output for ~300ms (never idle for MinSilence), then goes
	// quiet and blocks on stdin so any written bytes are observable.
	script := `for i in $(seq 1 6); do echo tick$i; sleep 0.05; done; cat`
	require.NoError(t, w.Start(context.Background(), []string{"sh", "-c", script}, "", nil))
	defer w.Stop(context.Background())

	w.EnqueueMessage(&Message{ID: "m1", From: "alice", Body: "hello-while-busy"})

	// While the loop is still producing output, the message must not have
	// been delivered yet.
	time.Sleep(120 * time.Millisecond)
	combinedEarly := outputText(w.GetOutput(0))
	assert.NotContains(t, combinedEarly, "hello-while-busy", "message must not be injected while the child is still busy")

	deadline := time.Now().Add(2 * time.Second)
	var delivered bool
	for time.Now().Before(deadline) {
		if strings.Contains(outputText(w.GetOutput(0)), "hello-while-busy") {
			delivered = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, delivered, "message should be injected once the child goes idle")
}

func outputText(chunks []OutputChunk) string {
	var out string
	for _, c := range chunks {
		out += c.Data
	}
	return out
}
