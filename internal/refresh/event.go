package refresh

import (
	"fmt"
	"time"

	"github.com/rewired-gh/robotd/internal/models"
)

// Kind classifies how a cycle ended.
type Kind string

const (
	KindCommitted         Kind = "committed"
	KindAcquisitionFailed Kind = "acquisition_failed"
	KindTransformFailed   Kind = "transform_failed"
	KindPersistenceFailed Kind = "persistence_failed"
)

// Event describes one finished cycle. Observers receive it after the store
// and the sink have been updated.
type Event struct {
	CycleID     string
	Kind        Kind
	StartedAt   time.Time
	CollectedAt time.Time // zero unless the store was updated
	Duration    time.Duration
	Motors      int
	Pallets     int
	Records     int // history length after the cycle
	Err         error

	// Snapshot is the committed snapshot, shared with the store and
	// read-only. Nil unless Committed.
	Snapshot *models.Snapshot
}

// Committed reports whether the cycle updated the store. A persistence
// failure still counts: the in-memory update stands.
func (e Event) Committed() bool {
	return e.Kind == KindCommitted || e.Kind == KindPersistenceFailed
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("cycle %s %s after %v: %v", e.CycleID, e.Kind, e.Duration, e.Err)
	}
	return fmt.Sprintf("cycle %s %s in %v (motors=%d pallets=%d records=%d)",
		e.CycleID, e.Kind, e.Duration, e.Motors, e.Pallets, e.Records)
}

// Observer is notified of every finished cycle, on the refresh goroutine.
// Implementations must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
