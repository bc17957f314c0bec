// Package ledger is the durable record of which contest occurrences have
// been reconciled and when the daily stats were last refreshed. The whole
// state lives in one TOML file that is rewritten on every mutation.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrPersist is returned when a mutation could not be written to disk. The
// in-memory state has already been updated when it is returned.
var ErrPersist = errors.New("ledger: persisting state")

// dateLayout is the format of LastStatsUpdate.
const dateLayout = "2006-01-02"

// Entry records when one occurrence was processed.
type Entry struct {
	ProcessedAt   int64  `toml:"processed_at"`
	ProcessedTime string `toml:"processed_time"`
}

// State is the persisted document.
type State struct {
	ProcessedContests map[string]Entry `toml:"processed_contests"`
	LastStatsUpdate   string           `toml:"last_stats_update,omitempty"`
}

// Store guards a State and its backing file. It is safe for concurrent use;
// mutations are serialised and each one is persisted before it returns.
type Store struct {
	path   string
	loc    *time.Location
	logger *slog.Logger

	mu    sync.RWMutex
	state State
}

// Open loads the store at path. A missing file yields an empty state; an
// unreadable or corrupt file is logged and also yields an empty state, so a
// damaged ledger never stops the engine. Calendar dates are computed in loc.
func Open(path string, loc *time.Location, logger *slog.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		loc:    loc,
		logger: logger.With("component", "ledger"),
		state:  State{ProcessedContests: make(map[string]Entry)},
	}

	st, err := load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("no ledger file, starting empty", "path", path)
	case err != nil:
		s.logger.Error("ledger unreadable, starting empty", "path", path, "error", err)
	default:
		s.state = st
		s.logger.Info("ledger loaded", "path", path,
			"processed", len(st.ProcessedContests), "last_stats_update", st.LastStatsUpdate)
	}
	return s
}

func load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := toml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if st.ProcessedContests == nil {
		st.ProcessedContests = make(map[string]Entry)
	}
	return st, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// IsDone reports whether slug has been processed.
func (s *Store) IsDone(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.ProcessedContests[slug]
	return ok
}

// MarkDone records slug as processed at time at and persists the state.
// Marking an already processed slug keeps the first entry.
func (s *Store) MarkDone(slug string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.ProcessedContests[slug]; ok {
		return nil
	}
	s.state.ProcessedContests[slug] = Entry{
		ProcessedAt:   at.Unix(),
		ProcessedTime: at.In(s.loc).Format(time.RFC3339),
	}
	return s.saveLocked()
}

// StatsRefreshedToday reports whether the stats were refreshed on the
// calendar day of now.
func (s *Store) StatsRefreshedToday(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastStatsUpdate == now.In(s.loc).Format(dateLayout)
}

// MarkStatsRefreshed records the calendar day of now as the last refresh.
func (s *Store) MarkStatsRefreshed(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastStatsUpdate = now.In(s.loc).Format(dateLayout)
	return s.saveLocked()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		ProcessedContests: maps.Clone(s.state.ProcessedContests),
		LastStatsUpdate:   s.state.LastStatsUpdate,
	}
}

// saveLocked writes the state atomically (write temp + rename). The caller
// must hold s.mu.
func (s *Store) saveLocked() error {
	data, err := toml.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("%w: marshaling: %w", ErrPersist, err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: creating %s: %w", ErrPersist, dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing temp file: %w", ErrPersist, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: renaming: %w", ErrPersist, err)
	}
	return nil
}
