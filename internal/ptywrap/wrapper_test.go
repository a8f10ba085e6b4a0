package ptywrap

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/agentrelay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger { return logging.Default() }

func TestWrapper_StartAndExit(t *testing.T) {
	w := New("echo-agent", Config{Cols: 80, Rows: 24, GraceSeconds: 1}, testLogger())

	err := w.Start(context.Background(), []string{"echo", "hello from wrapper"}, "", nil)
	require.NoError(t, err)

	var sawExit bool
	deadline := time.After(3 * time.Second)
	for !sawExit {
		select {
		case ev := <-w.Events():
			if ev.Kind == EventExit {
				sawExit = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for exit event")
		}
	}

	assert.Equal(t, StateExited, w.State())
}

func TestWrapper_GetOutput(t *testing.T) {
	w := New("cat-agent", Config{Cols: 80, Rows: 24, GraceSeconds: 1}, testLogger())
	err := w.Start(context.Background(), []string{"sh", "-c", "printf hello"}, "", nil)
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	exited := false
	for !exited {
		select {
		case ev := <-w.Events():
			if ev.Kind == EventExit {
				exited = true
			}
		case <-deadline:
			t.Fatal("timed out")
		}
	}

	out := w.GetOutput(0)
	var combined string
	for _, c := range out {
		combined += c.Data
	}
	assert.Contains(t, combined, "hello")
}

func TestWrapper_StartRejectsEmptyCommand(t *testing.T) {
	w := New("bad-agent", Config{}, testLogger())
	err := w.Start(context.Background(), nil, "", nil)
	require.Error(t, err)
}
