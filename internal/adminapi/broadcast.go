package adminapi

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentrelay/internal/agentsup"
	"github.com/kandev/agentrelay/internal/logging"
)

// eventBroadcaster fans the Manager's single event channel out to every
// connected dashboard, since agentsup.Manager.Events() itself is a single
// consumer channel but more than one dashboard may subscribe to it at
// once — one shared source, N per-connection sinks.
type eventBroadcaster struct {
	log *logging.Logger

	mu       sync.Mutex
	nextID   uint64
	sinks    map[uint64]chan agentsup.Event
	sinkSize int
}

func newEventBroadcaster(log *logging.Logger, manager *agentsup.Manager, sinkSize int) *eventBroadcaster {
	if sinkSize <= 0 {
		sinkSize = 64
	}
	b := &eventBroadcaster{
		log:      log,
		sinks:    make(map[uint64]chan agentsup.Event),
		sinkSize: sinkSize,
	}
	go b.pump(manager.Events())
	return b
}

func (b *eventBroadcaster) pump(src <-chan agentsup.Event) {
	for ev := range src {
		b.mu.Lock()
		for id, sink := range b.sinks {
			select {
			case sink <- ev:
			default:
				b.log.Warn("adminapi event sink full, dropping event", zap.Uint64("sinkId", id))
			}
		}
		b.mu.Unlock()
	}
}

func (b *eventBroadcaster) subscribe() (id uint64, ch <-chan agentsup.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id = b.nextID
	sink := make(chan agentsup.Event, b.sinkSize)
	b.sinks[id] = sink
	return id, sink
}

func (b *eventBroadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sink, ok := b.sinks[id]; ok {
		delete(b.sinks, id)
		close(sink)
	}
}
