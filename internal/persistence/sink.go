// Package persistence mirrors the snapshot store to durable media on a
// best-effort basis. Nothing here is read back at startup; the in-memory
// store stays authoritative and a failed write never rolls back a cycle.
package persistence

import (
	"errors"

	"github.com/rewired-gh/robotd/internal/models"
)

// Sink receives every committed cycle. Implementations are called from the
// refresh goroutine only and need not be safe for concurrent writers.
type Sink interface {
	// WriteCurrent replaces the persisted current snapshot.
	WriteCurrent(snapshot *models.Snapshot) error
	// AppendHistory adds one record to the persisted history.
	AppendHistory(record models.HistoryRecord) error
	Close() error
}

// Multi fans every call out to each sink in order. All sinks are attempted;
// failures are joined.
type Multi []Sink

func (m Multi) WriteCurrent(snapshot *models.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteCurrent(snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) AppendHistory(record models.HistoryRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendHistory(record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything. Used when persistence is disabled.
type Nop struct{}

func (Nop) WriteCurrent(*models.Snapshot) error      { return nil }
func (Nop) AppendHistory(models.HistoryRecord) error { return nil }
func (Nop) Close() error                             { return nil }

var (
	_ Sink = Multi(nil)
	_ Sink = Nop{}
)
