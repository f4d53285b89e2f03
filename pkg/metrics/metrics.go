// Package metrics records Prometheus metrics for a PINT batch run. Metrics
// live on a private registry and are written to a node-exporter textfile
// once the run ends.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pintsurf/internal/models"
	"pintsurf/pkg/geometry"
)

const namespace = "pintsurf"

// Recorder holds the run collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// iterations counts completed iterations.
	// Labels: phase (iterate, repair)
	iterations *prometheus.CounterVec

	// moves counts vertex relocations with non-zero displacement.
	moves prometheus.Counter

	// maxDisplacement is the largest displacement of the latest iteration.
	maxDisplacement prometheus.Gauge

	// candidates is the distribution of relocation candidate set sizes.
	candidates prometheus.Histogram

	// geometryCalls counts provider calls.
	// Labels: op (distance, regions), status (ok, error)
	geometryCalls *prometheus.CounterVec

	// geometrySeconds measures provider call latency.
	// Labels: op
	geometrySeconds *prometheus.HistogramVec

	// runState is 1 for the current state of the run and 0 otherwise.
	// Labels: state
	runState *prometheus.GaugeVec
}

// NewRecorder creates a Recorder on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed convergence iterations by phase",
		}, []string{"phase"}),
		moves: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vertex_moves_total",
			Help:      "Vertex relocations with non-zero displacement",
		}),
		maxDisplacement: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_displacement_mm",
			Help:      "Largest vertex displacement of the latest iteration",
		}),
		candidates: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates",
			Help:      "Relocation candidate set sizes",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),
		geometryCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "geometry",
			Name:      "calls_total",
			Help:      "Geometry provider calls by operation and status",
		}, []string{"op", "status"}),
		geometrySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "geometry",
			Name:      "call_seconds",
			Help:      "Geometry provider call latency in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		runState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "Current state of the run",
		}, []string{"state"}),
	}
}

// Registry returns the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveIteration records a finished iteration.
func (r *Recorder) ObserveIteration(phase string, maxDistance float64, moved int) {
	if r == nil {
		return
	}
	r.iterations.WithLabelValues(phase).Inc()
	r.moves.Add(float64(moved))
	r.maxDisplacement.Set(maxDistance)
}

// ObserveCandidates records the candidate set size of one relocation.
func (r *Recorder) ObserveCandidates(n int) {
	if r == nil {
		return
	}
	r.candidates.Observe(float64(n))
}

// SetState marks state as the current run state.
func (r *Recorder) SetState(state string) {
	if r == nil {
		return
	}
	r.runState.Reset()
	r.runState.WithLabelValues(state).Set(1)
}

func (r *Recorder) observeCall(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.geometryCalls.WithLabelValues(op, status).Inc()
	r.geometrySeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes every metric in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

// instrumented wraps a Provider and times every call.
type instrumented struct {
	next geometry.Provider
	rec  *Recorder
}

// Instrument returns p wrapped so that every call is counted and timed. A
// nil recorder returns p unchanged.
func Instrument(p geometry.Provider, rec *Recorder) geometry.Provider {
	if rec == nil {
		return p
	}
	return &instrumented{next: p, rec: rec}
}

func (i *instrumented) Distance(ctx context.Context, h models.Hemisphere, origin int, limit float64) ([]float64, error) {
	start := time.Now()
	field, err := i.next.Distance(ctx, h, origin, limit)
	i.rec.observeCall("distance", start, err)
	return field, err
}

func (i *instrumented) Regions(ctx context.Context, h models.Hemisphere, radius float64, vertices []int) ([]int, error) {
	start := time.Now()
	owner, err := i.next.Regions(ctx, h, radius, vertices)
	i.rec.observeCall("regions", start, err)
	return owner, err
}

func (i *instrumented) VertexCount(h models.Hemisphere) int { return i.next.VertexCount(h) }
