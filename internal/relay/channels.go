package relay

import (
	"sort"
	"strings"
	"sync"
)

// ChannelKind classifies a `to` string's channel form.
type ChannelKind int

const (
	ChannelNone ChannelKind = iota
	ChannelPublic
	ChannelDirect
	ChannelPrivate
)

// ParseChannel classifies to as a public (#name), direct-message
// (dm:p1:p2[:...], participants sorted lexicographically), private
// (private:name), or non-channel address.
func ParseChannel(to string) (kind ChannelKind, canonical string) {
	switch {
	case strings.HasPrefix(to, "#"):
		return ChannelPublic, to
	case strings.HasPrefix(to, "dm:"):
		parts := strings.Split(strings.TrimPrefix(to, "dm:"), ":")
		sort.Strings(parts)
		return ChannelDirect, "dm:" + strings.Join(parts, ":")
	case strings.HasPrefix(to, "private:"):
		return ChannelPrivate, to
	default:
		return ChannelNone, to
	}
}

// IsChannel reports whether to names a channel rather than an agent or "*".
func IsChannel(to string) bool {
	kind, _ := ParseChannel(to)
	return kind != ChannelNone
}

// membership tracks current members per channel, updated by
// CHANNEL_JOIN/CHANNEL_LEAVE envelopes.
type membership struct {
	mu      sync.Mutex
	members map[string]map[string]struct{} // channel -> set of agent names
}

func newMembership() *membership {
	return &membership{members: make(map[string]map[string]struct{})}
}

func (m *membership) join(channel, agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[channel]
	if !ok {
		set = make(map[string]struct{})
		m.members[channel] = set
	}
	set[agent] = struct{}{}
}

func (m *membership) leave(channel, agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.members[channel]; ok {
		delete(set, agent)
	}
}

// leaveAll removes agent from every channel, used on relay.Unsubscribe.
func (m *membership) leaveAll(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.members {
		delete(set, agent)
	}
}

func (m *membership) membersOf(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[channel]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// dmParticipants derives implicit membership for a dm:<p1>:<p2>[:...]
// channel directly from its canonical form — a direct-message channel's
// membership is exactly its addressed participants, no explicit join
// required.
func dmParticipants(canonical string) []string {
	if !strings.HasPrefix(canonical, "dm:") {
		return nil
	}
	return strings.Split(strings.TrimPrefix(canonical, "dm:"), ":")
}
