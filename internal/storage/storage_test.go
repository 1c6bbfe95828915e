package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/robotd/internal/models"
)

// snapshotN builds a snapshot whose every field encodes n, so a reader can
// detect a mix of two commits.
func snapshotN(n int) *models.Snapshot {
	v := float64(n)
	return &models.Snapshot{
		Motors: []models.Motor{
			{ID: 1, Velocity: v, Distance: v, Temperature: v},
			{ID: 2, Velocity: v, Distance: v, Temperature: v},
		},
		Pallets:     []models.Pallet{{ID: n, Timestamp: "2025-01-01T00:00:00Z"}},
		Orientation: models.Orientation{X: v, Y: v, Z: v},
	}
}

func TestStore_CurrentBeforeFirstUpdate(t *testing.T) {
	s := New()

	if _, err := s.Current(); !errors.Is(err, models.ErrNotYetInitialized) {
		t.Fatalf("expected ErrNotYetInitialized, got %v", err)
	}
	if h := s.History(); len(h) != 0 {
		t.Errorf("expected empty history, got %d records", len(h))
	}
	if s.Len() != 0 {
		t.Errorf("expected Len 0, got %d", s.Len())
	}
	if _, ok := s.Latest(); ok {
		t.Error("expected no latest record")
	}
	if cur, hist := s.View(); cur != nil || len(hist) != 0 {
		t.Errorf("expected empty view, got %v / %d", cur, len(hist))
	}
}

func TestStore_UpdateAndCurrent(t *testing.T) {
	s := New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := s.Update(snapshotN(7), at)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !rec.CollectedAt.Equal(at) {
		t.Errorf("expected collected_at %v, got %v", at, rec.CollectedAt)
	}

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if len(cur.Motors) != 2 || cur.Motors[0].Velocity != 7 {
		t.Errorf("unexpected current snapshot: %+v", cur)
	}

	latest, ok := s.Latest()
	if !ok || latest.Data.Orientation.X != 7 {
		t.Errorf("unexpected latest record: %+v", latest)
	}
}

func TestStore_HistoryOrdered(t *testing.T) {
	s := New()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	const cycles = 25
	for i := 0; i < cycles; i++ {
		if _, err := s.Update(snapshotN(i), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	h := s.History()
	if len(h) != cycles {
		t.Fatalf("expected %d records, got %d", cycles, len(h))
	}
	for i, rec := range h {
		if rec.Data.Motors[0].Velocity != float64(i) {
			t.Errorf("record %d holds cycle %v", i, rec.Data.Motors[0].Velocity)
		}
		if i > 0 && rec.CollectedAt.Before(h[i-1].CollectedAt) {
			t.Errorf("record %d out of order", i)
		}
	}

	cur, _ := s.Current()
	if cur.Motors[0].Velocity != float64(cycles-1) {
		t.Errorf("current should equal last record, got %v", cur.Motors[0].Velocity)
	}
}

func TestStore_HistorySince(t *testing.T) {
	s := New()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.Update(snapshotN(i), base.Add(time.Duration(i)*time.Minute))
	}

	tests := []struct {
		name  string
		since time.Time
		want  int
	}{
		{"before all", base.Add(-time.Hour), 10},
		{"exact boundary", base.Add(4 * time.Minute), 6},
		{"between records", base.Add(4*time.Minute + time.Second), 5},
		{"after all", base.Add(time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(s.HistorySince(tt.since)); got != tt.want {
				t.Errorf("HistorySince() returned %d records, expected %d", got, tt.want)
			}
		})
	}
}

func TestStore_ClockStepBackKeepsOrder(t *testing.T) {
	s := New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Update(snapshotN(0), t0)
	rec, err := s.Update(snapshotN(1), t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !rec.CollectedAt.Equal(t0) {
		t.Errorf("expected collected_at clamped to %v, got %v", t0, rec.CollectedAt)
	}
	s.Update(snapshotN(2), t0.Add(time.Second))

	h := s.History()
	for i := 1; i < len(h); i++ {
		if h[i].CollectedAt.Before(h[i-1].CollectedAt) {
			t.Errorf("record %d collected before record %d", i, i-1)
		}
	}

	if got := len(s.HistorySince(t0.Add(-30 * time.Minute))); got != 3 {
		t.Errorf("HistorySince() returned %d records, expected 3", got)
	}
	if got := len(s.HistorySince(t0.Add(time.Second))); got != 1 {
		t.Errorf("HistorySince() returned %d records, expected 1", got)
	}
}

func TestStore_Isolation(t *testing.T) {
	s := New()
	in := snapshotN(1)
	if _, err := s.Update(in, time.Now()); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's value must not reach the store.
	in.Motors[0].Velocity = 999

	cur, _ := s.Current()
	if cur.Motors[0].Velocity != 1 {
		t.Fatalf("store aliased caller snapshot: %v", cur.Motors[0].Velocity)
	}

	// Mutating a returned copy must not reach the store either.
	cur.Motors[0].Velocity = 555
	again, _ := s.Current()
	if again.Motors[0].Velocity != 1 {
		t.Fatalf("Current returned shared memory: %v", again.Motors[0].Velocity)
	}

	// Appending to a history view must not be visible to later readers.
	h := s.History()
	_ = append(h, models.HistoryRecord{CollectedAt: time.Now()})
	s.Update(snapshotN(2), time.Now())
	h2 := s.History()
	if len(h2) != 2 || h2[1].Data.Motors[0].Velocity != 2 {
		t.Fatalf("history view append leaked into store: %+v", h2)
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := New()

	tests := []struct {
		name string
		snap *models.Snapshot
		at   time.Time
	}{
		{"nil snapshot", nil, time.Now()},
		{"zero time", snapshotN(1), time.Time{}},
		{"duplicate motor", &models.Snapshot{Motors: []models.Motor{{ID: 1}, {ID: 1}}}, time.Now()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Update(tt.snap, tt.at); err == nil {
				t.Error("expected error")
			}
		})
	}
	if s.Len() != 0 {
		t.Errorf("rejected updates must not append, got %d records", s.Len())
	}
}

func TestStore_ConcurrentReadersSeeWholeCommits(t *testing.T) {
	s := New()
	const cycles = 500

	var wg sync.WaitGroup
	done := make(chan struct{})

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lastLen := 0
			for {
				select {
				case <-done:
					return
				default:
				}

				cur, hist := s.View()
				if len(hist) < lastLen {
					t.Errorf("history shrank from %d to %d", lastLen, len(hist))
					return
				}
				lastLen = len(hist)
				if cur == nil {
					if len(hist) != 0 {
						t.Errorf("nil current with %d records", len(hist))
						return
					}
					continue
				}

				// Current must be the last record of the same commit.
				n := cur.Motors[0].Velocity
				if hist[len(hist)-1].Data.Motors[0].Velocity != n {
					t.Errorf("current %v does not match last record", n)
					return
				}
				for _, m := range cur.Motors {
					if m.Velocity != n || m.Distance != n || m.Temperature != n {
						t.Errorf("torn snapshot: %+v", cur)
						return
					}
				}
				if o := cur.Orientation; o.X != n || o.Y != n || o.Z != n {
					t.Errorf("torn orientation: %+v", o)
					return
				}
			}
		}()
	}

	for i := 0; i < cycles; i++ {
		if _, err := s.Update(snapshotN(i), time.Now()); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	if s.Len() != cycles {
		t.Errorf("expected %d records, got %d", cycles, s.Len())
	}
}
