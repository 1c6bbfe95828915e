// Package metrics exports refresh cycle outcomes and the latest telemetry
// readings as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/robotd/internal/refresh"
)

const namespace = "robotd"

// Recorder is a refresh.Observer backed by Prometheus collectors.
type Recorder struct {
	cycles      *prometheus.CounterVec
	duration    prometheus.Histogram
	records     prometheus.Gauge
	lastSuccess prometheus.Gauge
	pallets     prometheus.Gauge

	velocity    *prometheus.GaugeVec
	distance    *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	orientation *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Wall time of one refresh cycle, from source read to sink write.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_records",
			Help:      "Number of records held in the in-memory history.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_commit_timestamp_seconds",
			Help:      "Collection time of the most recently committed snapshot.",
		}),
		pallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pallets_detected",
			Help:      "Pallets in the most recent snapshot.",
		}),
		velocity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_velocity_rpm",
			Help:      "Latest motor velocity.",
		}, []string{"motor"}),
		distance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_distance_cm",
			Help:      "Latest motor distance reading.",
		}, []string{"motor"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_temperature_celsius",
			Help:      "Latest motor temperature.",
		}, []string{"motor"}),
		orientation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orientation",
			Help:      "Latest gyroscope centroid component.",
		}, []string{"axis"}),
	}

	reg.MustRegister(
		r.cycles, r.duration, r.records, r.lastSuccess, r.pallets,
		r.velocity, r.distance, r.temperature, r.orientation,
	)

	// expose every outcome from the start, even at zero
	for _, k := range []refresh.Kind{
		refresh.KindCommitted,
		refresh.KindAcquisitionFailed,
		refresh.KindTransformFailed,
		refresh.KindPersistenceFailed,
	} {
		r.cycles.WithLabelValues(string(k))
	}
	return r
}

// Observe implements refresh.Observer.
func (r *Recorder) Observe(ev refresh.Event) {
	r.cycles.WithLabelValues(string(ev.Kind)).Inc()
	r.duration.Observe(ev.Duration.Seconds())
	r.records.Set(float64(ev.Records))

	if !ev.Committed() || ev.Snapshot == nil {
		return
	}
	r.lastSuccess.Set(float64(ev.CollectedAt.UnixNano()) / 1e9)
	r.pallets.Set(float64(len(ev.Snapshot.Pallets)))

	// motors can disappear between snapshots
	r.velocity.Reset()
	r.distance.Reset()
	r.temperature.Reset()
	for _, m := range ev.Snapshot.Motors {
		id := strconv.Itoa(m.ID)
		r.velocity.WithLabelValues(id).Set(m.Velocity)
		r.distance.WithLabelValues(id).Set(m.Distance)
		r.temperature.WithLabelValues(id).Set(m.Temperature)
	}

	o := ev.Snapshot.Orientation
	r.orientation.WithLabelValues("x").Set(o.X)
	r.orientation.WithLabelValues("y").Set(o.Y)
	r.orientation.WithLabelValues("z").Set(o.Z)
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ refresh.Observer = (*Recorder)(nil)
