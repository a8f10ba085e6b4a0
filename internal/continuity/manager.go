package continuity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/kandev/agentrelay/internal/logging"
	"github.com/kandev/agentrelay/internal/markers"
	"go.uber.org/zap"
)

// Manager dispatches ->continuity:<verb> commands against a Store,
// applying the save-block grammar and placeholder filter from
// internal/markers and suppressing the rare duplicate dispatch that results
// from a TUI redrawing an already-processed command line.
type Manager struct {
	store     *Store
	log       *logging.Logger
	denylist  []string
	dedupeCap int

	mu     sync.Mutex
	dedupe []string
	seen   map[string]struct{}
}

// NewManager wires a Manager over store using denylist for placeholder
// filtering and dedupeCap as the bounded FIFO size for the command-dedupe
// set (0 falls back to 100).
func NewManager(store *Store, log *logging.Logger, denylist []string, dedupeCap int) *Manager {
	if dedupeCap <= 0 {
		dedupeCap = 100
	}
	return &Manager{
		store:     store,
		log:       log,
		denylist:  denylist,
		dedupeCap: dedupeCap,
		seen:      make(map[string]struct{}),
	}
}

func dedupeKey(verb markers.ContinuityVerb, body string) string {
	sum := sha256.Sum256([]byte(body))
	return fmt.Sprintf("%s:%s", verb, hex.EncodeToString(sum[:])[:16])
}

// alreadySeen reports whether key was dispatched recently, recording it if
// not. The set is a bounded FIFO: the oldest key is evicted once dedupeCap
// is exceeded.
func (m *Manager) alreadySeen(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return true
	}
	m.seen[key] = struct{}{}
	m.dedupe = append(m.dedupe, key)
	if len(m.dedupe) > m.dedupeCap {
		oldest := m.dedupe[0]
		m.dedupe = m.dedupe[1:]
		delete(m.seen, oldest)
	}
	return false
}

// Dispatch applies a parsed ->continuity: command for the given agent name,
// returning the text (if any) that should be injected back into that
// agent's PTY — currently only VerbLoad produces one.
func (m *Manager) Dispatch(agentName string, cmd *markers.ContinuityCommand) (inject string, err error) {
	key := dedupeKey(cmd.Verb, cmd.Body+cmd.Query+cmd.Item)
	if m.alreadySeen(key) {
		m.log.Debug("continuity command deduped", zap.String("agent", agentName), zap.String("verb", string(cmd.Verb)))
		return "", nil
	}

	switch cmd.Verb {
	case markers.VerbSave:
		return "", m.handleSave(agentName, cmd.Body, cmd.Handoff)
	case markers.VerbHandoff:
		return "", m.handleSave(agentName, cmd.Body, true)
	case markers.VerbLoad:
		return m.handleLoad(agentName)
	case markers.VerbSearch:
		return m.handleSearch(cmd.Query)
	case markers.VerbUncertain:
		return "", m.handleUncertain(agentName, cmd.Item)
	default:
		return "", nil
	}
}

// ApplySummary merges the section and key/value content of a parsed
// [[SUMMARY]] block into agentName's ledger, exactly as a ->continuity:save
// command would — a structured summary is itself a save-block body, just
// delivered through a different marker.
func (m *Manager) ApplySummary(agentName, raw string) error {
	key := dedupeKey(markers.VerbSave, raw)
	if m.alreadySeen(key) {
		m.log.Debug("continuity summary deduped", zap.String("agent", agentName))
		return nil
	}
	return m.handleSave(agentName, raw, false)
}

func (m *Manager) handleSave(agentName, body string, handoff bool) error {
	block := markers.ParseSaveBlock(body)

	_, found, err := m.store.Load(agentName)
	if err != nil {
		return err
	}
	if !found {
		if _, err := m.store.Create(agentName, "", "", agentName); err != nil {
			return err
		}
	}

	_, _, err = m.store.Update(agentName, func(l *Ledger) {
		for _, field := range []string{"current task", "task", "working on"} {
			if v, ok := block.KeyValue[field]; ok && !markers.IsPlaceholder(v, m.denylist) {
				l.CurrentTask = v
				break
			}
		}

		for _, line := range markers.FilterPlaceholders(block.Sections[markers.SectionDone], m.denylist) {
			l.Completed = appendUnique(l.Completed, line)
		}
		for _, line := range markers.FilterPlaceholders(block.Sections[markers.SectionDoing], m.denylist) {
			l.InProgress = appendUnique(l.InProgress, line)
		}
		for _, line := range markers.FilterPlaceholders(block.Sections[markers.SectionNext], m.denylist) {
			l.InProgress = appendUnique(l.InProgress, line)
		}
		for _, line := range markers.FilterPlaceholders(block.Sections[markers.SectionBlockers], m.denylist) {
			l.Blocked = appendUnique(l.Blocked, line)
		}
		for _, line := range markers.FilterPlaceholders(block.Sections[markers.SectionFiles], m.denylist) {
			ref := markers.ParseFileContextEntry(line)
			l.FileContext = append(l.FileContext, FileContextEntry{
				Path:      ref.Path,
				StartLine: ref.StartLine,
				EndLine:   ref.EndLine,
			})
		}
		for _, line := range markers.FilterPlaceholders(block.Sections[markers.SectionDecisions], m.denylist) {
			l.KeyDecisions = append(l.KeyDecisions, Decision{Text: line})
		}
		for _, line := range markers.FilterPlaceholders(block.Sections[markers.SectionUncertain], m.denylist) {
			l.UncertainItems = appendUnique(l.UncertainItems, line)
		}
	})
	if err != nil {
		return err
	}

	if handoff {
		m.log.Info("continuity handoff recorded", zap.String("agent", agentName))
	}
	return nil
}

// BuildRestartContext renders the system message the Supervisor injects
// before an agent's first user input after a restart: current task, the
// last three completed items, in-progress items, and uncertain items
// ("On restart..."). Returns found=false if no ledger exists
// yet for name.
func (m *Manager) BuildRestartContext(name string) (text string, found bool, err error) {
	ledger, found, err := m.store.Load(name)
	if err != nil || !found {
		return "", found, err
	}

	out := "[[RESTART_CONTEXT]]\n"
	if ledger.CurrentTask != "" {
		out += "Current task: " + ledger.CurrentTask + "\n"
	}
	completed := ledger.Completed
	if len(completed) > 3 {
		completed = completed[len(completed)-3:]
	}
	out += renderSection("Recently completed", completed)
	out += renderSection("In progress", ledger.InProgress)
	out += renderSection("Uncertain", ledger.UncertainItems)
	out += "[[/RESTART_CONTEXT]]"
	return out, true, nil
}

func (m *Manager) handleLoad(agentName string) (string, error) {
	ledger, found, err := m.store.Load(agentName)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return ledger.renderCompact(), nil
}

// handleSearch performs a naive case-insensitive substring search across
// every ledger's current task, completed, in-progress, blocked, uncertain,
// and decision text.
// Full-text indexing is out of scope.
func (m *Manager) handleSearch(query string) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return "", nil
	}

	var hits []string
	for _, name := range m.store.Names() {
		ledger, found, err := m.store.Load(name)
		if err != nil || !found {
			continue
		}
		if ledgerMatches(ledger, needle) {
			hits = append(hits, name)
		}
	}

	if len(hits) == 0 {
		return "[[SEARCH]]\nno matches\n[[/SEARCH]]", nil
	}

	out := "[[SEARCH]]\n"
	for _, h := range hits {
		out += "- " + h + "\n"
	}
	out += "[[/SEARCH]]"
	return out, nil
}

func ledgerMatches(l *Ledger, needle string) bool {
	if strings.Contains(strings.ToLower(l.CurrentTask), needle) {
		return true
	}
	for _, group := range [][]string{l.Completed, l.InProgress, l.Blocked, l.UncertainItems} {
		for _, item := range group {
			if strings.Contains(strings.ToLower(item), needle) {
				return true
			}
		}
	}
	for _, d := range l.KeyDecisions {
		if strings.Contains(strings.ToLower(d.Text), needle) {
			return true
		}
	}
	return false
}

func (m *Manager) handleUncertain(agentName, item string) error {
	if markers.IsPlaceholder(item, m.denylist) {
		return nil
	}
	_, found, err := m.store.Load(agentName)
	if err != nil {
		return err
	}
	if !found {
		if _, err := m.store.Create(agentName, "", "", agentName); err != nil {
			return err
		}
	}
	return m.store.AddToList(agentName, "uncertainItems", item)
}
