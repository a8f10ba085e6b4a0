package ptywrap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kandev/agentrelay/internal/logging"
	"go.uber.org/zap"
)

// Importance mirrors the relay envelope's importance so the injection
// queue can apply the "preserve urgent" overflow rule without importing
// the relay package.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// Message is a single rendered unit queued for injection into a child PTY.
type Message struct {
	ID         string
	From       string
	Thread     string
	Body       string
	Importance Importance

	attempts   int
	enqueuedAt time.Time
}

// InjectionMetrics tracks the observable side effects of message injection.
type InjectionMetrics struct {
	Total            int64
	SuccessFirstTry   int64
	SuccessWithRetry  int64
	Failed           int64
	totalWaitNanos   int64
}

// Snapshot returns a read-only copy plus the derived average wait.
func (m *InjectionMetrics) Snapshot() (total, firstTry, withRetry, failed int64, averageWaitMs float64) {
	total = atomic.LoadInt64(&m.Total)
	firstTry = atomic.LoadInt64(&m.SuccessFirstTry)
	withRetry = atomic.LoadInt64(&m.SuccessWithRetry)
	failed = atomic.LoadInt64(&m.Failed)
	delivered := firstTry + withRetry
	if delivered > 0 {
		averageWaitMs = float64(atomic.LoadInt64(&m.totalWaitNanos)) / float64(delivered) / float64(time.Millisecond)
	}
	return
}

// InjectionFailedHandler is invoked when a message exhausts maxAttempts or
// the child exits mid-injection.
type InjectionFailedHandler func(msg *Message, attempts int)

// InjectionConfig configures one engine instance, mirroring
// internal/config.InjectionConfig.
type InjectionConfig struct {
	QueueSize     int
	Timeout       time.Duration
	MaxAttempts   int
	SubmitDelay   time.Duration
	BackoffCap    time.Duration
	PollInterval  time.Duration
}

// injectionEngine delivers queued messages to a single child PTY as if a
// human had typed them, respecting the idle detector and the per-wrapper
// mutual-exclusion flag.
type injectionEngine struct {
	cfg InjectionConfig
	log *logging.Logger

	writeFn  func([]byte) (int, error)
	idle     *idleDetector
	onFailed InjectionFailedHandler

	mu          sync.Mutex
	queue       []*Message
	isInjecting atomic.Bool

	metrics InjectionMetrics
}

func newInjectionEngine(cfg InjectionConfig, writeFn func([]byte) (int, error), idle *idleDetector, onFailed InjectionFailedHandler, log *logging.Logger) *injectionEngine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SubmitDelay <= 0 {
		cfg.SubmitDelay = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 150 * time.Millisecond
	}
	return &injectionEngine{cfg: cfg, writeFn: writeFn, idle: idle, onFailed: onFailed, log: log}
}

// enqueue appends msg to the FIFO queue, dropping the oldest non-urgent
// message on overflow (or, if every queued message is urgent, the oldest
// urgent one — the documented exception in ).
func (e *injectionEngine) enqueue(msg *Message) {
	msg.enqueuedAt = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) >= e.cfg.QueueSize {
		dropIdx := -1
		for i, m := range e.queue {
			if m.Importance != ImportanceUrgent {
				dropIdx = i
				break
			}
		}
		if dropIdx < 0 {
			dropIdx = 0
		}
		dropped := e.queue[dropIdx]
		e.queue = append(e.queue[:dropIdx], e.queue[dropIdx+1:]...)
		if e.log != nil {
			e.log.Warn("injection queue overflow, dropping message",
				zap.String("dropped_id", dropped.ID), zap.String("importance", string(dropped.Importance)))
		}
	}
	e.queue = append(e.queue, msg)
}

func (e *injectionEngine) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *injectionEngine) popHead() *Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	m := e.queue[0]
	e.queue = e.queue[1:]
	return m
}

func (e *injectionEngine) pushHead(m *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append([]*Message{m}, e.queue...)
}

// run drains the queue until ctx is cancelled. Intended to be launched as
// one goroutine per wrapper.
func (e *injectionEngine) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drainWithFailure(ctx.Err())
			return
		case <-ticker.C:
			e.tryDeliverOne(ctx)
		}
	}
}

func (e *injectionEngine) tryDeliverOne(ctx context.Context) {
	if e.isInjecting.Load() {
		return
	}
	msg := e.popHead()
	if msg == nil {
		return
	}

	result := e.idle.waitForIdle(ctx, e.cfg.Timeout, e.cfg.PollInterval)
	if !result.IsIdle {
		msg.attempts++
		if msg.attempts >= e.cfg.MaxAttempts {
			atomic.AddInt64(&e.metrics.Failed, 1)
			if e.onFailed != nil {
				e.onFailed(msg, msg.attempts)
			}
			return
		}
		e.scheduleRetry(msg)
		return
	}

	e.isInjecting.Store(true)
	defer e.isInjecting.Store(false)

	rendered := Render(msg)
	if _, err := e.writeFn([]byte(rendered)); err != nil {
		msg.attempts++
		if msg.attempts >= e.cfg.MaxAttempts {
			atomic.AddInt64(&e.metrics.Failed, 1)
			if e.onFailed != nil {
				e.onFailed(msg, msg.attempts)
			}
			return
		}
		e.scheduleRetry(msg)
		return
	}

	time.Sleep(e.cfg.SubmitDelay)
	if _, err := e.writeFn([]byte("\r")); err != nil {
		msg.attempts++
		if msg.attempts >= e.cfg.MaxAttempts {
			atomic.AddInt64(&e.metrics.Failed, 1)
			if e.onFailed != nil {
				e.onFailed(msg, msg.attempts)
			}
			return
		}
		e.scheduleRetry(msg)
		return
	}

	atomic.AddInt64(&e.metrics.Total, 1)
	atomic.AddInt64(&e.metrics.totalWaitNanos, int64(time.Since(msg.enqueuedAt)))
	if msg.attempts == 0 {
		atomic.AddInt64(&e.metrics.SuccessFirstTry, 1)
	} else {
		atomic.AddInt64(&e.metrics.SuccessWithRetry, 1)
	}
}

// scheduleRetry requeues msg at the head after an exponential backoff
// capped at cfg.BackoffCap, computed from the attempt count.
func (e *injectionEngine) scheduleRetry(msg *Message) {
	backoff := time.Duration(1<<uint(msg.attempts-1)) * 100 * time.Millisecond
	if backoff > e.cfg.BackoffCap {
		backoff = e.cfg.BackoffCap
	}
	go func() {
		time.Sleep(backoff)
		e.pushHead(msg)
	}()
}

func (e *injectionEngine) drainWithFailure(err error) {
	e.mu.Lock()
	remaining := e.queue
	e.queue = nil
	e.mu.Unlock()

	for _, m := range remaining {
		atomic.AddInt64(&e.metrics.Failed, 1)
		if e.onFailed != nil {
			e.onFailed(m, m.attempts)
		}
	}
}
