package continuity

import (
	"sync"
	"time"

	"github.com/kandev/agentrelay/pkg/apperrors"
)

// agentLock is a per-agent advisory in-process lock acquired with
// exponential backoff (base 100ms, cap 2s, total timeout 10s). A
// process-wide lock map is sufficient since multi-process operation on the
// same data dir is out of scope.
type agentLock struct {
	mu sync.Mutex
}

// acquire blocks until the lock is obtained or timeout elapses.
func (l *agentLock) acquire(op string, baseBackoff, capBackoff, timeout time.Duration) error {
	if l.mu.TryLock() {
		return nil
	}

	deadline := time.Now().Add(timeout)
	backoff := baseBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	if capBackoff <= 0 {
		capBackoff = 2 * time.Second
	}

	for {
		if time.Now().After(deadline) {
			return apperrors.LockTimeout(op, "ledger lock acquisition timed out")
		}
		time.Sleep(backoff)
		if l.mu.TryLock() {
			return nil
		}
		backoff *= 2
		if backoff > capBackoff {
			backoff = capBackoff
		}
	}
}

func (l *agentLock) release() {
	l.mu.Unlock()
}
