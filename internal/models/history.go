package models

import (
	"errors"
	"time"
)

// HistoryRecord is one committed collection cycle. Immutable once appended.
type HistoryRecord struct {
	CollectedAt time.Time `json:"collected_at"`
	Data        Snapshot  `json:"data"`
}

// Validate checks that all record fields are valid
func (r *HistoryRecord) Validate() error {
	if r.CollectedAt.IsZero() {
		return errors.New("collected_at must be set")
	}
	return r.Data.Validate()
}
