package agentsup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestHistory_OOMClassification checks that a SIGKILL after a rising memory
// trend crossing 1 GiB classifies as oom with high confidence.
func TestHistory_OOMClassification(t *testing.T) {
	h := NewHistory(10)

	now := time.Now()
	mem := MemoryContext{
		PeakRSSBytes: 1100 * 1024 * 1024,
		Trend:        "rising",
		RecentSamples: []MemorySample{
			{Timestamp: now.Add(-time.Minute), RSSBytes: 900 * 1024 * 1024},
			{Timestamp: now, RSSBytes: 1100 * 1024 * 1024},
		},
	}

	rec := h.Record("crash-1", "bob", 4242, 0, "SIGKILL", "", "", mem)

	assert.Equal(t, CauseOOM, rec.Analysis.LikelyCause)
	assert.Equal(t, ConfidenceHigh, rec.Analysis.Confidence)

	before := HealthScore(nil, 0)
	after := HealthScore(h.All(), 0)
	assert.GreaterOrEqual(t, before-after, 15)
}

func TestClassify_ExitCode137IsOOM(t *testing.T) {
	a := classify(137, "", "", "", MemoryContext{})
	assert.Equal(t, CauseOOM, a.LikelyCause)
}

func TestClassify_CallAndRetryLastIsOOM(t *testing.T) {
	a := classify(1, "", "", "...CALL_AND_RETRY_LAST...", MemoryContext{})
	assert.Equal(t, CauseOOM, a.LikelyCause)
}

func TestClassify_MemoryLeak(t *testing.T) {
	now := time.Now()
	mem := MemoryContext{
		PeakRSSBytes: 950 * 1024 * 1024,
		Trend:        "rising",
		RecentSamples: []MemorySample{
			{Timestamp: now.Add(-5 * time.Minute), RSSBytes: 400 * 1024 * 1024},
			{Timestamp: now, RSSBytes: 950 * 1024 * 1024},
		},
	}
	a := classify(1, "", "", "", mem)
	assert.Equal(t, CauseMemoryLeak, a.LikelyCause)
}

func TestClassify_SuddenSpike(t *testing.T) {
	now := time.Now()
	mem := MemoryContext{
		RecentSamples: []MemorySample{
			{Timestamp: now.Add(-3 * time.Minute), RSSBytes: 100 * 1024 * 1024},
			{Timestamp: now.Add(-2 * time.Minute), RSSBytes: 105 * 1024 * 1024},
			{Timestamp: now, RSSBytes: 500 * 1024 * 1024},
		},
	}
	a := classify(1, "", "", "", mem)
	assert.Equal(t, CauseSuddenSpike, a.LikelyCause)
}

func TestClassify_SegfaultIsError(t *testing.T) {
	a := classify(1, "SIGSEGV", "", "", MemoryContext{})
	assert.Equal(t, CauseError, a.LikelyCause)
}

func TestClassify_UnknownFallback(t *testing.T) {
	a := classify(1, "", "", "", MemoryContext{})
	assert.Equal(t, CauseUnknown, a.LikelyCause)
}

func TestHistory_DerivesPatternAfterThreeOccurrences(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 2; i++ {
		rec := h.Record("crash", "bob", 1, 137, "SIGKILL", "", "", MemoryContext{})
		assert.Empty(t, rec.Analysis.RelatedCrashIDs)
	}
	rec := h.Record("crash-3", "bob", 1, 137, "SIGKILL", "", "", MemoryContext{})
	assert.Len(t, rec.Analysis.RelatedCrashIDs, 2)
}

func TestHistory_EvictsOldestBeyondCapacity(t *testing.T) {
	h := NewHistory(2)
	h.Record("c1", "bob", 1, 1, "", "", "", MemoryContext{})
	h.Record("c2", "bob", 1, 1, "", "", "", MemoryContext{})
	h.Record("c3", "bob", 1, 1, "", "", "", MemoryContext{})

	all := h.All()
	assert.Len(t, all, 2)
	assert.Equal(t, "c2", all[0].ID)
	assert.Equal(t, "c3", all[1].ID)
}

func TestHealthScore_ClampedToZero(t *testing.T) {
	var records []CrashRecord
	for i := 0; i < 10; i++ {
		records = append(records, CrashRecord{Analysis: Analysis{LikelyCause: CauseOOM}})
	}
	assert.Equal(t, 0, HealthScore(records, 0))
}
