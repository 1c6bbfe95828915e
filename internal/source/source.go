// Package source provides Reading Source implementations: a simulator that
// mimics the robot's sensors and an OPC UA reader for real hardware.
// Every implementation returns errors wrapping models.ErrAcquisition.
package source

import (
	"context"

	"github.com/rewired-gh/robotd/internal/models"
)

// Source produces one raw telemetry reading on demand.
type Source interface {
	Read(ctx context.Context) (*models.RawSnapshot, error)
}

// Func adapts a plain function to Source.
type Func func(ctx context.Context) (*models.RawSnapshot, error)

// Read calls f(ctx).
func (f Func) Read(ctx context.Context) (*models.RawSnapshot, error) {
	return f(ctx)
}
