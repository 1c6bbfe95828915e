// Package storage provides the process-wide snapshot store: the current
// Snapshot plus an append-only history of every committed cycle.
//
// The store is single-writer, multi-reader. Update serializes writers with a
// mutex and publishes an immutable state value through an atomic pointer, so
// readers never take a lock, never block on an in-flight Update, and always
// see the current Snapshot and the history from the same commit.
//
// History grows for the lifetime of the process; there is no retention.
package storage

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/robotd/internal/models"
)

// state is one committed view of the store. Never mutated after publication;
// later commits may extend the backing array of history beyond len(history),
// which readers of this state never index.
type state struct {
	current *models.Snapshot
	history []models.HistoryRecord
}

// Store holds the current Snapshot and the full ordered history
type Store struct {
	mu    sync.Mutex // serializes Update
	state atomic.Pointer[state]
}

// New creates an empty Store
func New() *Store {
	s := &Store{}
	s.state.Store(&state{})
	return s
}

// Update replaces the current Snapshot and appends a HistoryRecord as one
// atomic step. The store keeps its own copy of snapshot. A collectedAt
// earlier than the last record's is clamped to it, so history stays ordered.
func (s *Store) Update(snapshot *models.Snapshot, collectedAt time.Time) (models.HistoryRecord, error) {
	if snapshot == nil {
		return models.HistoryRecord{}, fmt.Errorf("invalid snapshot: nil")
	}
	owned := snapshot.Clone()
	record := models.HistoryRecord{
		CollectedAt: collectedAt.UTC(),
		Data:        *owned,
	}
	if err := record.Validate(); err != nil {
		return models.HistoryRecord{}, fmt.Errorf("invalid snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Load()
	// keep history sorted when the wall clock steps backwards
	if n := len(prev.history); n > 0 && record.CollectedAt.Before(prev.history[n-1].CollectedAt) {
		record.CollectedAt = prev.history[n-1].CollectedAt
	}
	s.state.Store(&state{
		current: owned,
		history: append(prev.history, record),
	})
	return record, nil
}

// Current returns a copy of the most recent Snapshot, or
// models.ErrNotYetInitialized before the first Update.
func (s *Store) Current() (*models.Snapshot, error) {
	st := s.state.Load()
	if st.current == nil {
		return nil, models.ErrNotYetInitialized
	}
	return st.current.Clone(), nil
}

// History returns every record, oldest first, as of the call. The slice is a
// read-only view: its capacity is clipped so appends by the caller never
// reach store memory, and its elements must not be modified.
func (s *Store) History() []models.HistoryRecord {
	h := s.state.Load().history
	return h[:len(h):len(h)]
}

// HistorySince returns the records collected at or after since, oldest first.
// Same read-only contract as History.
func (s *Store) HistorySince(since time.Time) []models.HistoryRecord {
	h := s.History()
	i := sort.Search(len(h), func(i int) bool {
		return !h[i].CollectedAt.Before(since)
	})
	return h[i:]
}

// View returns the current Snapshot copy and the history from the same
// commit. current is nil before the first Update.
func (s *Store) View() (*models.Snapshot, []models.HistoryRecord) {
	st := s.state.Load()
	return st.current.Clone(), st.history[:len(st.history):len(st.history)]
}

// Latest returns the most recently appended record.
func (s *Store) Latest() (models.HistoryRecord, bool) {
	h := s.state.Load().history
	if len(h) == 0 {
		return models.HistoryRecord{}, false
	}
	return h[len(h)-1], true
}

// Len returns the number of committed records
func (s *Store) Len() int {
	return len(s.state.Load().history)
}
