// Package checkpoint persists per-unit crawl progress so an interrupted run
// can resume at the first unfetched page.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StopReason classifies why a unit's discovery loop ended.
type StopReason string

// Stop reasons persisted in the state file. The empty reason covers both
// "never stopped" and a successful stop on page-budget exhaustion.
const (
	StopNone          StopReason = ""
	StopNoMoreResults StopReason = "no_more_results"
	StopFetchFail     StopReason = "fetch_fail"
)

// UnitState is the mutable progress record for one crawl unit.
// Invariant: Done implies StopReason != StopFetchFail.
type UnitState struct {
	Done                  bool       `json:"done"`
	LastPageDone          int        `json:"last_page_done"`
	StopReason            StopReason `json:"stop_reason"`
	ProcessedItemsLastRun int        `json:"processed_items_last_run"`
}

// Store owns the on-disk checkpoint for one source: a JSON state file that
// is atomically rewritten on every save, and an append-only done-set file
// with one completed unit ID per line.
//
// The store is an explicit dependency passed to the coordinator and the
// discoverer; there is no process-wide instance.
type Store struct {
	mu        sync.Mutex
	statePath string
	donePath  string
	states    map[string]UnitState
}

// NewStore builds a Store rooted at dir for the named source.
func NewStore(dir, source string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &Store{
		statePath: filepath.Join(dir, source+"_discover_state.json"),
		donePath:  filepath.Join(dir, source+"_discover_done.txt"),
		states:    make(map[string]UnitState),
	}, nil
}

// Load reads the state file and done-set from disk into memory and returns a
// copy of the merged state. A missing or malformed state file counts as "no
// prior state" rather than an error: the crawl favors re-doing work over
// crash-looping on a corrupt checkpoint. Done-set entries absent from the
// state map load as completed with page zero, for compatibility with runs
// that only appended to the done-set.
func (s *Store) Load() (map[string]UnitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states = make(map[string]UnitState)

	raw, err := os.ReadFile(s.statePath)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &s.states); jsonErr != nil {
			// Corrupt state file: start over from the done-set alone.
			s.states = make(map[string]UnitState)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read state file %s: %w", s.statePath, err)
	}

	done, err := s.readDoneSet()
	if err != nil {
		return nil, err
	}
	for id := range done {
		st := s.states[id]
		st.Done = true
		// A done-set entry outranks a stale fetch_fail in the state file;
		// Done never pairs with fetch_fail.
		if st.StopReason == StopFetchFail {
			st.StopReason = StopNone
		}
		s.states[id] = st
	}

	return s.snapshotLocked(), nil
}

// Save atomically rewrites the state file with the in-memory state map.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Update records the unit's state and persists the full map immediately.
// LastPageDone never moves backwards across updates for the same unit.
func (s *Store) Update(unitID string, st UnitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.states[unitID]; ok && prev.LastPageDone > st.LastPageDone {
		st.LastPageDone = prev.LastPageDone
	}
	s.states[unitID] = st
	return s.saveLocked()
}

// AppendDone appends the unit ID to the done-set file and syncs it. Prior
// entries are never rewritten, so a crash mid-append loses at most the
// current line.
func (s *Store) AppendDone(unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.donePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open done-set %s: %w", s.donePath, err)
	}
	defer f.Close()

	if _, err := f.WriteString(unitID + "\n"); err != nil {
		return fmt.Errorf("append done-set %s: %w", s.donePath, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync done-set %s: %w", s.donePath, err)
	}
	return nil
}

// State returns the unit's state and whether any was recorded.
func (s *Store) State(unitID string) (UnitState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[unitID]
	return st, ok
}

// IsDone reports whether the unit completed successfully at least once.
func (s *Store) IsDone(unitID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[unitID].Done
}

// ResumeStartPage returns the first page the unit's next run should fetch.
func (s *Store) ResumeStartPage(unitID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[unitID].LastPageDone + 1
}

// Snapshot returns a copy of the in-memory state map.
func (s *Store) Snapshot() map[string]UnitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Replace swaps the whole in-memory state map and persists it. Used by log
// reconstruction, which rebuilds state from scratch.
func (s *Store) Replace(states map[string]UnitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]UnitState, len(states))
	for id, st := range states {
		s.states[id] = st
	}
	if err := s.saveLocked(); err != nil {
		return err
	}
	return nil
}

func (s *Store) snapshotLocked() map[string]UnitState {
	out := make(map[string]UnitState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// saveLocked writes the state map to a temp file in the same directory and
// renames it into place, so a crash mid-write never truncates the previous
// checkpoint.
func (s *Store) saveLocked() error {
	payload, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.statePath)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.statePath)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.statePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// readDoneSet parses the done-set file: one unit ID per line, blank lines
// and #-comments ignored.
func (s *Store) readDoneSet() (map[string]struct{}, error) {
	out := make(map[string]struct{})
	f, err := os.Open(s.donePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("open done-set %s: %w", s.donePath, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan done-set %s: %w", s.donePath, err)
	}
	return out, nil
}
