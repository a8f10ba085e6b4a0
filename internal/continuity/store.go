package continuity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kandev/agentrelay/pkg/apperrors"
)

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// StoreConfig mirrors internal/config.ContinuityConfig's lock tunables.
type StoreConfig struct {
	DataDir            string
	LockBase           time.Duration
	LockCap            time.Duration
	LockTimeout        time.Duration
	MaxConcurrentLocks int64
}

// Store persists one JSON file per agent plus an `_agent-id-index.json`
// mapping agentId -> agentName for O(1) resume-by-id.
type Store struct {
	cfg StoreConfig

	mu    sync.Mutex // guards locks and the in-memory index cache
	locks map[string]*agentLock
	index map[string]string // agentId -> agentName

	// lockSem bounds how many per-agent lock acquisitions can be in flight
	// store-wide at once, independent of how many distinct agents are
	// contending — protects against unbounded goroutine pile-up against the
	// data dir under a fan-in of many agents saving concurrently.
	lockSem *semaphore.Weighted
}

// NewStore creates a store rooted at cfg.DataDir, creating the directory if
// necessary, and loads the persisted index (rebuilding it from disk if it
// is absent or cannot be parsed).
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/continuity"
	}
	if cfg.MaxConcurrentLocks <= 0 {
		cfg.MaxConcurrentLocks = 8
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("continuity: create data dir: %w", err)
	}
	s := &Store{
		cfg:     cfg,
		locks:   make(map[string]*agentLock),
		index:   make(map[string]string),
		lockSem: semaphore.NewWeighted(cfg.MaxConcurrentLocks),
	}
	if err := s.loadIndex(); err != nil {
		if err := s.RebuildIndex(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func sanitizeName(name string) string {
	return unsafeNameRe.ReplaceAllString(name, "_")
}

func (s *Store) pathFor(name string) string {
	sanitized := sanitizeName(name)
	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:8]
	return filepath.Join(s.cfg.DataDir, fmt.Sprintf("%s_%s.json", sanitized, suffix))
}

func (s *Store) indexPath() string {
	return filepath.Join(s.cfg.DataDir, "_agent-id-index.json")
}

func (s *Store) lockFor(name string) *agentLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &agentLock{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) withLock(op, name string, fn func() error) error {
	timeout := s.cfg.LockTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	semCtx, semCancel := context.WithTimeout(context.Background(), timeout)
	defer semCancel()
	if err := s.lockSem.Acquire(semCtx, 1); err != nil {
		return apperrors.LockTimeout(op, "too many concurrent ledger operations")
	}
	defer s.lockSem.Release(1)

	l := s.lockFor(name)
	if err := l.acquire(op, s.cfg.LockBase, s.cfg.LockCap, timeout); err != nil {
		return err
	}
	defer l.release()
	return fn()
}

// atomicWriteJSON writes v to path via a temp file + rename, matching the
// teacher's patch-file idiom (workspace_files.go's ApplyFileDiff) applied
// to whole-file ledger persistence.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return err
	}
	var idx map[string]string
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	return nil
}

func (s *Store) saveIndex() error {
	s.mu.Lock()
	idx := make(map[string]string, len(s.index))
	for k, v := range s.index {
		idx[k] = v
	}
	s.mu.Unlock()
	return atomicWriteJSON(s.indexPath(), idx)
}

// Create writes a new, empty ledger. Fails if name sanitizes to empty or
// contains path separators.
func (s *Store) Create(name, cli, sessionID, agentID string) (*Ledger, error) {
	if strings.ContainsAny(name, "/\\") || sanitizeName(name) == "" {
		return nil, apperrors.New("Store.Create", apperrors.KindParseRejection, apperrors.ErrParseRejection, "invalid agent name")
	}

	ledger := &Ledger{
		AgentName: name,
		AgentID:   agentID,
		SessionID: sessionID,
		CLI:       cli,
		UpdatedAt: time.Now().UTC(),
	}

	var err error
	lockErr := s.withLock("Store.Create", name, func() error {
		err = atomicWriteJSON(s.pathFor(name), ledger)
		return err
	})
	if lockErr != nil {
		return nil, lockErr
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.index[agentID] = name
	s.mu.Unlock()
	_ = s.saveIndex()

	return ledger, nil
}

// Save atomically replaces the ledger file and updates the index.
func (s *Store) Save(name string, ledger *Ledger) error {
	return s.withLock("Store.Save", name, func() error {
		if err := atomicWriteJSON(s.pathFor(name), ledger); err != nil {
			return err
		}
		s.mu.Lock()
		s.index[ledger.AgentID] = name
		s.mu.Unlock()
		return s.saveIndex()
	})
}

// Load reads a ledger by agent name. Returns (nil, false, nil) if absent.
func (s *Store) Load(name string) (*Ledger, bool, error) {
	data, err := os.ReadFile(s.pathFor(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var ledger Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, false, err
	}
	return &ledger, true, nil
}

// Update loads, applies mutate, and saves, preserving agentId/agentName.
// Returns (nil, false, nil) if the ledger does not exist.
func (s *Store) Update(name string, mutate func(*Ledger)) (*Ledger, bool, error) {
	var result *Ledger
	var found bool
	err := s.withLock("Store.Update", name, func() error {
		data, err := os.ReadFile(s.pathFor(name))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		var ledger Ledger
		if err := json.Unmarshal(data, &ledger); err != nil {
			return err
		}
		found = true

		preservedID, preservedName := ledger.AgentID, ledger.AgentName
		mutate(&ledger)
		ledger.AgentID = preservedID
		ledger.AgentName = preservedName
		ledger.UpdatedAt = time.Now().UTC()

		if err := atomicWriteJSON(s.pathFor(name), &ledger); err != nil {
			return err
		}
		result = &ledger
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, found, nil
}

// AddToList idempotently inserts item into one of
// completed|inProgress|blocked|uncertainItems.
func (s *Store) AddToList(name, field, item string) error {
	_, _, err := s.Update(name, func(l *Ledger) {
		switch field {
		case "completed":
			l.Completed = appendUnique(l.Completed, item)
		case "inProgress":
			l.InProgress = appendUnique(l.InProgress, item)
		case "blocked":
			l.Blocked = appendUnique(l.Blocked, item)
		case "uncertainItems":
			l.UncertainItems = appendUnique(l.UncertainItems, item)
		}
	})
	return err
}

// AddDecision appends a timestamped key decision.
func (s *Store) AddDecision(name, text string) error {
	_, _, err := s.Update(name, func(l *Ledger) {
		l.KeyDecisions = append(l.KeyDecisions, Decision{Text: text, Timestamp: time.Now().UTC()})
	})
	return err
}

// FindByAgentID resolves a ledger by agentId via the index, falling back to
// a full scan (and index repair) on a stale or missing hit.
func (s *Store) FindByAgentID(id string) (*Ledger, bool, error) {
	s.mu.Lock()
	name, ok := s.index[id]
	s.mu.Unlock()

	if ok {
		ledger, found, err := s.Load(name)
		if err == nil && found && ledger.AgentID == id {
			return ledger, true, nil
		}
		// stale index entry
		s.mu.Lock()
		delete(s.index, id)
		s.mu.Unlock()
	}

	if err := s.RebuildIndex(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	name, ok = s.index[id]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return s.Load(name)
}

// RebuildIndex performs a full directory scan, reconstructing agentId ->
// agentName from every ledger file on disk.
func (s *Store) RebuildIndex() error {
	idx, err := s.scanAll()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	return s.saveIndex()
}

// scanAll reads every ledger file in the data dir, returning agentId ->
// agentName.
func (s *Store) scanAll() (map[string]string, error) {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.DataDir, e.Name()))
		if err != nil {
			continue
		}
		var ledger Ledger
		if err := json.Unmarshal(data, &ledger); err != nil {
			continue
		}
		if ledger.AgentID != "" && ledger.AgentName != "" {
			idx[ledger.AgentID] = ledger.AgentName
		}
	}
	return idx, nil
}

// Names returns every agent name currently persisted, derived from the
// in-memory index.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.index))
	for _, name := range s.index {
		names = append(names, name)
	}
	return names
}
