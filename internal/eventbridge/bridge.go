// Package eventbridge is the optional cloud-persistence sink: a best-effort
// NATS publisher for "summary" and "session-end" events that never blocks
// the agent it's watching and tolerates broker errors by logging them
// instead of propagating them, with reconnect handling and
// subject-per-event-type publishing.
package eventbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kandev/agentrelay/internal/agentsup"
	"github.com/kandev/agentrelay/internal/config"
	"github.com/kandev/agentrelay/internal/logging"
)

// Bridge watches a Manager's event stream and republishes summary and
// session-end events to NATS, namespaced per deployment. A Bridge with a
// nil connection (NATS disabled or unreachable at startup) degrades to a
// no-op consumer that drains the channel and logs nothing further.
type Bridge struct {
	conn      *nats.Conn
	log       *logging.Logger
	namespace string
}

// New dials NATS per cfg. If cfg.Enabled is false, it returns a Bridge with
// no live connection — Run still drains events but publishes nothing. A
// dial failure is returned as an error so the caller can decide whether a
// missing event sink is fatal to startup; the default wiring in cmd/ logs
// and continues rather than treating it as fatal.
func New(cfg config.EventsConfig, log *logging.Logger) (*Bridge, error) {
	if !cfg.Enabled {
		return &Bridge{log: log, namespace: cfg.Namespace}, nil
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("agentrelay-eventbridge"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("eventbridge NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("eventbridge NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Warn("eventbridge NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbridge: connect: %w", err)
	}

	log.Info("eventbridge connected", zap.String("url", cfg.NATSURL))
	return &Bridge{conn: conn, log: log, namespace: cfg.Namespace}, nil
}

// wireEvent is the JSON shape published to NATS — a thin envelope around
// the subset of agentsup.Event fields a cloud persistence handler needs.
type wireEvent struct {
	AgentID   string    `json:"agentId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Run consumes events until the channel closes, publishing summary and
// session-end events and logging (never propagating) any publish error —
// the core never blocks on this collaborator.
func (b *Bridge) Run(events <-chan agentsup.Event) {
	for ev := range events {
		switch ev.Kind {
		case agentsup.EventSummary:
			b.publish("summary", ev)
		case agentsup.EventSessionEnd:
			b.publish("session-end", ev)
		}
	}
}

func (b *Bridge) publish(kind string, ev agentsup.Event) {
	if b.conn == nil {
		return
	}

	payload, err := json.Marshal(wireEvent{
		AgentID:   ev.AgentID,
		Kind:      kind,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		b.log.Warn("eventbridge marshal failed", zap.String("agentId", ev.AgentID), zap.Error(err))
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", b.namespace, kind, ev.AgentID)
	if err := b.conn.Publish(subject, payload); err != nil {
		b.log.Warn("eventbridge publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains and closes the NATS connection, if any.
func (b *Bridge) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
