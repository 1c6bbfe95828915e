package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rewired-gh/robotd/internal/models"
	"github.com/rewired-gh/robotd/internal/refresh"
)

func committedEvent(motors ...models.Motor) refresh.Event {
	snap := &models.Snapshot{
		Motors:      motors,
		Pallets:     []models.Pallet{{ID: 7, Timestamp: "2025-06-01T10:00:00Z"}},
		Orientation: models.Orientation{X: 0.5, Y: -0.25, Z: 1},
	}
	return refresh.Event{
		CycleID:     "c",
		Kind:        refresh.KindCommitted,
		CollectedAt: time.Unix(1700000000, 0),
		Duration:    20 * time.Millisecond,
		Motors:      len(motors),
		Pallets:     1,
		Records:     3,
		Snapshot:    snap,
	}
}

func TestRecorderObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Observe(committedEvent(
		models.Motor{ID: 1, Velocity: 140, Distance: 20, Temperature: 70},
		models.Motor{ID: 2, Velocity: 150, Distance: 25, Temperature: 75},
	))
	r.Observe(refresh.Event{Kind: refresh.KindAcquisitionFailed, Records: 3, Err: errors.New("timeout")})

	if got := testutil.ToFloat64(r.cycles.WithLabelValues("committed")); got != 1 {
		t.Fatalf("expected committed counter 1, got %f", got)
	}
	if got := testutil.ToFloat64(r.cycles.WithLabelValues("acquisition_failed")); got != 1 {
		t.Fatalf("expected acquisition_failed counter 1, got %f", got)
	}
	if got := testutil.ToFloat64(r.cycles.WithLabelValues("transform_failed")); got != 0 {
		t.Fatalf("expected transform_failed counter 0, got %f", got)
	}
	if got := testutil.ToFloat64(r.records); got != 3 {
		t.Fatalf("expected records gauge 3, got %f", got)
	}
	if got := testutil.ToFloat64(r.lastSuccess); got != 1700000000 {
		t.Fatalf("expected last commit 1700000000, got %f", got)
	}
	if got := testutil.ToFloat64(r.velocity.WithLabelValues("2")); got != 150 {
		t.Fatalf("expected motor 2 velocity 150, got %f", got)
	}
	if got := testutil.ToFloat64(r.orientation.WithLabelValues("y")); got != -0.25 {
		t.Fatalf("expected orientation y -0.25, got %f", got)
	}
	if samples := testutil.CollectAndCount(r.duration); samples != 1 {
		t.Fatalf("expected duration histogram to expose 1 series, got %d", samples)
	}
}

func TestRecorderDropsVanishedMotors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Observe(committedEvent(
		models.Motor{ID: 1, Velocity: 140},
		models.Motor{ID: 2, Velocity: 150},
	))
	r.Observe(committedEvent(models.Motor{ID: 1, Velocity: 141}))

	if n := testutil.CollectAndCount(r.velocity); n != 1 {
		t.Fatalf("expected 1 velocity series, got %d", n)
	}
	if got := testutil.ToFloat64(r.velocity.WithLabelValues("1")); got != 141 {
		t.Fatalf("expected motor 1 velocity 141, got %f", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.Observe(committedEvent(models.Motor{ID: 3, Temperature: 66.5}))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`robotd_refresh_cycles_total{kind="committed"} 1`,
		`robotd_motor_temperature_celsius{motor="3"} 66.5`,
		`robotd_history_records 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
