// Package relay is the switchboard: it routes envelopes parsed from agent
// output (or submitted by external callers) to one or more recipients,
// fans out channel and broadcast traffic, and deduplicates retransmissions
// caused by a TUI redrawing output the parser has already consumed. Built
// on a pub/sub fan-out and sequencing discipline adapted from topic-prefix
// matching to name/broadcast/channel routing.
package relay

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an envelope's nature.
type Kind string

const (
	KindMessage Kind = "message"
	KindCommand Kind = "command"
	KindNotice  Kind = "notice"
)

// Importance mirrors ptywrap.Importance for envelopes travelling through
// the relay before they reach a recipient's injection queue.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// Envelope is a routed message record. It is a value object:
// once constructed it is never mutated, only copied per recipient.
type Envelope struct {
	ID         string         `json:"id"`
	TS         int64          `json:"ts"` // monotonic nanoseconds
	From       string         `json:"from"`
	To         string         `json:"to"` // agent name, "*", or channel form
	Kind       Kind           `json:"kind"`
	Body       string         `json:"body"`
	Thread     string         `json:"thread,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Importance Importance     `json:"importance"`
}

// monoBase anchors Envelope.TS: nanoseconds on the monotonic clock since
// the package was initialised.
var monoBase = time.Now()

// New builds an Envelope with a fresh id and the current monotonic
// timestamp, defaulting Kind to KindMessage and Importance to
// ImportanceNormal when unset.
func New(from, to, body string) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		TS:         int64(time.Since(monoBase)),
		From:       from,
		To:         to,
		Kind:       KindMessage,
		Body:       body,
		Importance: ImportanceNormal,
	}
}

// IsBroadcast reports whether To addresses every known agent.
func (e Envelope) IsBroadcast() bool { return e.To == "*" }
