package ptywrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleDetector_BecomesIdleAfterSilence(t *testing.T) {
	d := newIdleDetector(50*time.Millisecond, 0.5, false, nil, nil)

	result := d.checkIdle(0)
	assert.False(t, result.IsIdle, "should not be idle immediately after construction's implicit noteOutput")

	time.Sleep(200 * time.Millisecond)
	result = d.checkIdle(0)
	assert.True(t, result.IsIdle)
	assert.GreaterOrEqual(t, result.Confidence, 0.5)
}

func TestIdleDetector_ResetsOnOutput(t *testing.T) {
	d := newIdleDetector(50*time.Millisecond, 0.5, false, nil, nil)
	time.Sleep(200 * time.Millisecond)
	d.noteOutput(false)

	result := d.checkIdle(0)
	assert.False(t, result.IsIdle)
}

func TestIdleDetector_WaitForIdle(t *testing.T) {
	d := newIdleDetector(30*time.Millisecond, 0.5, false, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result := d.waitForIdle(ctx, 500*time.Millisecond, 10*time.Millisecond)
	assert.True(t, result.IsIdle)
}

func TestRingBuffer_EvictsOldest(t *testing.T) {
	b := newRingBuffer(10)
	b.append(OutputChunk{Data: "12345"})
	b.append(OutputChunk{Data: "67890"})
	b.append(OutputChunk{Data: "abcde"})

	snap := b.snapshot()
	var total int
	for _, c := range snap {
		total += len(c.Data)
	}
	assert.LessOrEqual(t, total, 10)
	assert.Equal(t, "abcde", snap[len(snap)-1].Data)
}

func TestStripANSI(t *testing.T) {
	raw := "\x1b[1;32mhello\x1b[0m world"
	assert.Equal(t, "hello world", stripANSI([]byte(raw)))
}

func TestContainsDSRQuery(t *testing.T) {
	assert.True(t, containsDSRQuery([]byte("\x1b[6n")))
	assert.True(t, containsDSRQuery([]byte("prefix\x1b[?6nsuffix")))
	assert.False(t, containsDSRQuery([]byte("no query here")))
}

func TestContainsDA1Query(t *testing.T) {
	assert.True(t, containsDA1Query([]byte("\x1b[c")))
	assert.True(t, containsDA1Query([]byte("\x1b[0c")))
	assert.False(t, containsDA1Query([]byte("\x1b[1c")))
}
