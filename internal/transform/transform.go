// Package transform maps raw hardware readings onto the public snapshot
// schema. The mapping is a pure function of its input:
//
//	motors[].cm                    -> motors[].distance
//	pallets[].id_pallet            -> pallets[].id
//	pallets[].timestamp_raw        -> pallets[].timestamp
//	centroid.centroid_{x,y,z}      -> orientation.{x,y,z}
//
// Malformed input is rejected with an error wrapping models.ErrTransform
// rather than propagated into the store half-typed.
package transform

import (
	"errors"
	"fmt"

	"github.com/relvacode/iso8601"

	"github.com/rewired-gh/robotd/internal/models"
)

// Transformer maps a raw reading to a public Snapshot.
type Transformer interface {
	Transform(raw *models.RawSnapshot) (*models.Snapshot, error)
}

// Processor is the production Transformer.
type Processor struct{}

// New returns a Processor.
func New() *Processor {
	return &Processor{}
}

// Transform implements Transformer.
func (Processor) Transform(raw *models.RawSnapshot) (*models.Snapshot, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil raw snapshot", models.ErrTransform)
	}
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransform, err)
	}

	snap := &models.Snapshot{
		Motors:  make([]models.Motor, 0, len(raw.Motors)),
		Pallets: make([]models.Pallet, 0, len(raw.Pallets)),
		Orientation: models.Orientation{
			X: raw.Centroid.CentroidX,
			Y: raw.Centroid.CentroidY,
			Z: raw.Centroid.CentroidZ,
		},
	}

	for _, m := range raw.Motors {
		snap.Motors = append(snap.Motors, models.Motor{
			ID:          m.ID,
			Velocity:    m.Velocity,
			Distance:    m.CM,
			Temperature: m.Temperature,
		})
	}

	for _, p := range raw.Pallets {
		if _, err := iso8601.ParseString(p.TimestampRaw); err != nil {
			return nil, fmt.Errorf("%w: pallet %d timestamp %q: %v", models.ErrTransform, p.IDPallet, p.TimestampRaw, err)
		}
		snap.Pallets = append(snap.Pallets, models.Pallet{
			ID:        p.IDPallet,
			Timestamp: p.TimestampRaw,
		})
	}

	if err := snap.Validate(); err != nil {
		return nil, errors.Join(models.ErrTransform, err)
	}
	return snap, nil
}

// Func adapts a plain function to Transformer.
type Func func(raw *models.RawSnapshot) (*models.Snapshot, error)

// Transform calls f(raw).
func (f Func) Transform(raw *models.RawSnapshot) (*models.Snapshot, error) {
	return f(raw)
}
