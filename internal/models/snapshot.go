// Package models defines the core domain entities for robotd.
// A Snapshot is the public view of every monitored entity at one collection
// instant; a HistoryRecord pairs a Snapshot with the moment it was collected.
// The Raw* types mirror what a Reading Source produces before any renaming.
//
// All models include built-in validation so malformed data is rejected at the
// transformer boundary instead of leaking into the store.
package models

import (
	"errors"
	"fmt"
	"math"
)

// Motor is a single drive unit reading.
type Motor struct {
	ID          int     `json:"id"`
	Velocity    float64 `json:"velocity"`    // RPM
	Distance    float64 `json:"distance"`    // cm
	Temperature float64 `json:"temperature"` // °C
}

// Pallet is a pallet detection event. IDs may repeat across snapshots.
type Pallet struct {
	ID        int    `json:"id"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// Orientation is the gyroscope centroid. Components are nominally in [-1, 1]
// but the range is the producer's responsibility.
type Orientation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Snapshot is the state of all monitored entities for one collection cycle.
// A Snapshot must not be modified after it has been handed to the store.
type Snapshot struct {
	Motors      []Motor     `json:"motors"`
	Pallets     []Pallet    `json:"pallets"`
	Orientation Orientation `json:"orientation"`
}

// Validate checks that all snapshot fields are valid
func (s *Snapshot) Validate() error {
	seen := make(map[int]struct{}, len(s.Motors))
	for i := range s.Motors {
		m := &s.Motors[i]
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate motor id %d", m.ID)
		}
		seen[m.ID] = struct{}{}
		if !finite(m.Velocity, m.Distance, m.Temperature) {
			return fmt.Errorf("motor %d has a non-finite reading", m.ID)
		}
	}
	for _, p := range s.Pallets {
		if p.Timestamp == "" {
			return fmt.Errorf("pallet %d timestamp must not be empty", p.ID)
		}
	}
	if !finite(s.Orientation.X, s.Orientation.Y, s.Orientation.Z) {
		return errors.New("orientation has a non-finite component")
	}
	return nil
}

// Clone returns a deep copy so callers can never alias store-held slices.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := &Snapshot{Orientation: s.Orientation}
	if s.Motors != nil {
		c.Motors = append(make([]Motor, 0, len(s.Motors)), s.Motors...)
	}
	if s.Pallets != nil {
		c.Pallets = append(make([]Pallet, 0, len(s.Pallets)), s.Pallets...)
	}
	return c
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
