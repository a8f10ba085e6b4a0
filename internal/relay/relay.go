package relay

import (
	"sync"
	"time"

	"github.com/kandev/agentrelay/internal/logging"
	"github.com/kandev/agentrelay/pkg/apperrors"
	"go.uber.org/zap"
)

// Handler receives envelopes addressed to one agent. Wrappers register a
// Handler at start and unregister it at stop ("subscribe").
// Implementations are expected to enqueue onto that agent's Injection
// Engine queue and return quickly; the relay never blocks on a handler.
type Handler func(Envelope) error

// RegistryUpdater is the subset of internal/registry.Registry the relay
// needs for traffic-counter maintenance, kept as an interface to avoid an
// import-cycle-prone dependency on the concrete type.
type RegistryUpdater interface {
	RecordPublish(from string, to []string) error
}

// Metrics is the relay's observable counters (overflow, dedupe drops).
type Metrics struct {
	mu             sync.Mutex
	Published      int64
	Delivered      int64
	DedupeDropped  int64
	OverflowDrop   int64
	UnknownTo      int64
}

func (m *Metrics) incr(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Config tunes the relay's bounded dedupe sets.
type Config struct {
	PerRecipientQueueSize int
	DedupeSetSize         int
	SenderHashWindow      int
	OfflineTTL            time.Duration
}

// Relay is the in-process switchboard. It does not own any per-agent
// delivery queue itself — that lives in ptywrap's injection engine — it
// only classifies, deduplicates, and fans out to registered Handlers.
type Relay struct {
	cfg      Config
	log      *logging.Logger
	registry RegistryUpdater
	dedupe   *dedupeTracker
	members  *membership
	metrics  Metrics

	mu             sync.RWMutex
	handlers       map[string]Handler
	lastSeenMap    map[string]time.Time
	pendingQueries map[string]func() int
}

// New builds a Relay. registry may be nil in tests that don't care about
// traffic-counter side effects.
func New(cfg Config, log *logging.Logger, registry RegistryUpdater) *Relay {
	if cfg.PerRecipientQueueSize <= 0 {
		cfg.PerRecipientQueueSize = 200
	}
	if cfg.DedupeSetSize <= 0 {
		cfg.DedupeSetSize = 1000
	}
	if cfg.SenderHashWindow <= 0 {
		cfg.SenderHashWindow = 500
	}
	if cfg.OfflineTTL <= 0 {
		cfg.OfflineTTL = 24 * time.Hour
	}
	return &Relay{
		cfg:            cfg,
		log:            log,
		registry:       registry,
		dedupe:         newDedupeTracker(cfg.DedupeSetSize, cfg.SenderHashWindow),
		members:        newMembership(),
		handlers:       make(map[string]Handler),
		lastSeenMap:    make(map[string]time.Time),
		pendingQueries: make(map[string]func() int),
	}
}

// Subscribe registers handler for agentName, called once by each wrapper at
// start.
func (r *Relay) Subscribe(agentName string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[agentName] = handler
	r.lastSeenMap[agentName] = time.Now()
}

// Unsubscribe removes agentName's handler and channel memberships, called
// on wrapper stop.
func (r *Relay) Unsubscribe(agentName string) {
	r.mu.Lock()
	delete(r.handlers, agentName)
	delete(r.lastSeenMap, agentName)
	delete(r.pendingQueries, agentName)
	r.mu.Unlock()
	r.members.leaveAll(agentName)
}

// SetPendingQuery registers the callback PendingFor uses to report
// agentName's live injection-queue depth. Wrappers don't live inside the
// relay itself, so the caller that owns the wrapper (the Agent Manager)
// wires this alongside Subscribe.
func (r *Relay) SetPendingQuery(agentName string, fn func() int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingQueries[agentName] = fn
}

// JoinChannel adds agentName to channel's membership set (CHANNEL_JOIN).
func (r *Relay) JoinChannel(channel, agentName string) {
	_, canonical := ParseChannel(channel)
	r.members.join(canonical, agentName)
}

// LeaveChannel removes agentName from channel's membership set
// (CHANNEL_LEAVE).
func (r *Relay) LeaveChannel(channel, agentName string) {
	_, canonical := ParseChannel(channel)
	r.members.leave(canonical, agentName)
}

// knownAgents returns every currently subscribed agent name.
func (r *Relay) knownAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

func (r *Relay) handlerFor(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Publish classifies env.To and delivers to every resolved recipient,
// applying dedupe per recipient and never blocking the caller — a
// handler invocation error is logged and skipped, not propagated
// ("The relay never blocks the publisher"). A channel with no current
// members is not an error; any other address with no recipient is.
func (r *Relay) Publish(env Envelope) error {
	r.metrics.incr(&r.metrics.Published)

	recipients := r.resolveRecipients(env)
	if len(recipients) == 0 && !IsChannel(env.To) {
		r.metrics.incr(&r.metrics.UnknownTo)
		return apperrors.New("Relay.Publish", apperrors.KindRelayOverflow, apperrors.ErrRelayOverflow, "no known recipient for "+env.To)
	}

	var delivered []string
	for _, recipient := range recipients {
		if recipient == env.From {
			continue
		}
		if !r.dedupe.shouldDeliver(env, recipient) {
			r.metrics.incr(&r.metrics.DedupeDropped)
			continue
		}
		handler, ok := r.handlerFor(recipient)
		if !ok {
			continue
		}
		if err := handler(env); err != nil {
			r.log.Warn("relay handler failed", zap.String("recipient", recipient), zap.Error(err))
			continue
		}
		r.metrics.incr(&r.metrics.Delivered)
		delivered = append(delivered, recipient)
	}

	if r.registry != nil && len(delivered) > 0 {
		if err := r.registry.RecordPublish(env.From, delivered); err != nil {
			r.log.Warn("registry traffic update failed", zap.Error(err))
		}
	}
	return nil
}

// resolveRecipients classifies env.To into the concrete set of agent names
// that should receive it ("publish(envelope)").
func (r *Relay) resolveRecipients(env Envelope) []string {
	kind, canonical := ParseChannel(env.To)
	switch {
	case env.To == "*":
		return r.knownAgents()
	case kind == ChannelDirect:
		return dmParticipants(canonical)
	case kind == ChannelPublic || kind == ChannelPrivate:
		return r.members.membersOf(canonical)
	default:
		if _, ok := r.handlerFor(env.To); ok {
			return []string{env.To}
		}
		return nil
	}
}

// PendingFor reports agentName's live injection-queue depth via the
// callback registered through SetPendingQuery, or 0 if the agent isn't
// subscribed or never registered one — the relay itself holds no
// per-recipient queue; actual depth lives in each wrapper's injection
// engine.
func (r *Relay) PendingFor(agentName string) int {
	r.mu.RLock()
	fn, ok := r.pendingQueries[agentName]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return fn()
}

// Snapshot returns a copy of the relay's counters.
func (r *Relay) Snapshot() Metrics {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()
	return Metrics{
		Published:     r.metrics.Published,
		Delivered:     r.metrics.Delivered,
		DedupeDropped: r.metrics.DedupeDropped,
		OverflowDrop:  r.metrics.OverflowDrop,
		UnknownTo:     r.metrics.UnknownTo,
	}
}

// PruneStale unsubscribes any subscriber whose last activity predates
// offlineTtl, removing its handler and every channel membership ( "Failure
// semantics"), and returns the pruned names. Last activity is the time of
// Subscribe or of the latest Touch.
func (r *Relay) PruneStale() []string {
	cutoff := time.Now().Add(-r.cfg.OfflineTTL)
	r.mu.Lock()
	var stale []string
	for name, last := range r.lastSeenMap {
		if last.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	r.mu.Unlock()

	for _, name := range stale {
		r.Unsubscribe(name)
	}
	return stale
}

// Touch refreshes a subscribed agent's last-activity timestamp, the one
// PruneStale compares against offlineTtl.
func (r *Relay) Touch(agentName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[agentName]; ok {
		r.lastSeenMap[agentName] = time.Now()
	}
}
