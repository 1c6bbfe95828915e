package models

import "errors"

// Error kinds surfaced by the refresh cycle and the store. Callers match them
// with errors.Is; producers wrap them with fmt.Errorf("...: %w", ...).
var (
	// ErrAcquisition means the reading source could not produce data.
	ErrAcquisition = errors.New("acquisition failure")
	// ErrTransform means a raw reading could not be mapped to the public schema.
	ErrTransform = errors.New("transform failure")
	// ErrPersistence means writing a persisted document failed.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotYetInitialized means no cycle has been committed yet.
	ErrNotYetInitialized = errors.New("no data collected yet")
)
