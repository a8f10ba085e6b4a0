// Package continuity persists and serves per-agent ledgers: the structured
// memory of what an agent has done, is doing, and is blocked on, recovered
// across restarts from flat JSON files via an atomic file-replace idiom
// (write to a temp file, then rename) and a crash-safe reload that
// reconciles in-memory state against whatever was last durably written.
package continuity

import "time"

// FileContextEntry is one entry of a ledger's fileContext list.
type FileContextEntry struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

// Decision is a single timestamped key decision.
type Decision struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger is the per-agent persistent record.
type Ledger struct {
	AgentName      string             `json:"agentName"`
	AgentID        string             `json:"agentId"`
	SessionID      string             `json:"sessionId"`
	CLI            string             `json:"cli"`
	CurrentTask    string             `json:"currentTask"`
	Completed      []string           `json:"completed"`
	InProgress     []string           `json:"inProgress"`
	Blocked        []string           `json:"blocked"`
	UncertainItems []string           `json:"uncertainItems"`
	FileContext    []FileContextEntry `json:"fileContext"`
	KeyDecisions   []Decision         `json:"keyDecisions"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// appendUnique appends item to list unless already present, preserving
// order — backs addToList's idempotence invariant.
func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// renderCompact produces the human-readable block injected on
// ->continuity:load.
func (l *Ledger) renderCompact() string {
	out := "[[LEDGER]]\n"
	if l.CurrentTask != "" {
		out += "Current task: " + l.CurrentTask + "\n"
	}
	out += renderSection("Completed", l.Completed)
	out += renderSection("In progress", l.InProgress)
	out += renderSection("Blocked", l.Blocked)
	out += renderSection("Uncertain", l.UncertainItems)
	out += "[[/LEDGER]]"
	return out
}

func renderSection(title string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	out := title + ":\n"
	for _, i := range items {
		out += "- " + i + "\n"
	}
	return out
}
