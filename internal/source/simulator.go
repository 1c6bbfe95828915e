package source

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rewired-gh/robotd/internal/models"
)

// Simulated value ranges, matching the robot's nominal operating envelope.
const (
	minVelocity    = 130.0
	maxVelocity    = 160.0
	minDistance    = 10.0
	maxDistance    = 30.0
	minTemperature = 65.0
	maxTemperature = 80.0
	maxPalletID    = 100
)

// Simulator generates plausible random readings for development and tests.
type Simulator struct {
	motors int
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator reporting motors with ids 1..motors.
// A zero seed seeds the generator from the clock.
func NewSimulator(motors int, seed uint64) *Simulator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulator{
		motors: motors,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Read implements Source.
func (s *Simulator) Read(ctx context.Context) (*models.RawSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAcquisition, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw := &models.RawSnapshot{
		Motors: make([]models.RawMotor, 0, s.motors),
	}
	for id := 1; id <= s.motors; id++ {
		raw.Motors = append(raw.Motors, models.RawMotor{
			ID:          id,
			Velocity:    round(s.uniform(minVelocity, maxVelocity), 1),
			CM:          round(s.uniform(minDistance, maxDistance), 1),
			Temperature: round(s.uniform(minTemperature, maxTemperature), 1),
		})
	}
	raw.Pallets = []models.RawPallet{{
		IDPallet:     1 + s.rng.IntN(maxPalletID),
		TimestampRaw: s.now().UTC().Format(time.RFC3339Nano),
	}}
	raw.Centroid = models.RawCentroid{
		CentroidX: round(s.uniform(-1, 1), 2),
		CentroidY: round(s.uniform(-1, 1), 2),
		CentroidZ: round(s.uniform(-1, 1), 2),
	}
	return raw, nil
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
