// Package metrics exposes Prometheus instrumentation for the EGTTS worker.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "egtts"

// Job statuses recorded by egtts_jobs_total.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusFatal   = "fatal"
)

// Metrics holds every collector the worker records.
type Metrics struct {
	jobs              *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	modelLoads        *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	audioSeconds      prometheus.Histogram
}

// New creates the collectors and registers them on registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Jobs handled, by outcome.",
			},
			[]string{"status"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_errors_total",
				Help:      "Failed jobs, by error kind.",
			},
			[]string{"kind"},
		),
		modelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_loads_total",
				Help:      "Model load attempts, by result.",
			},
			[]string{"result"},
		),
		inferenceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Time spent in conditioning and inference.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		audioSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "audio_seconds",
				Help:      "Length of the synthesized audio.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
		),
	}

	collectors := []prometheus.Collector{
		m.jobs,
		m.jobErrors,
		m.modelLoads,
		m.inferenceDuration,
		m.audioSeconds,
	}

	for _, collector := range collectors {
		err := registerer.Register(collector)
		if err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// ObserveJob counts a finished job. An empty kind means the job succeeded.
func (m *Metrics) ObserveJob(kind string) {
	if kind == "" {
		m.jobs.WithLabelValues(StatusSuccess).Inc()

		return
	}

	m.jobs.WithLabelValues(StatusError).Inc()
	m.jobErrors.WithLabelValues(kind).Inc()
}

// ObserveFatal counts a job that hit the fatal model load failure.
func (m *Metrics) ObserveFatal() {
	m.jobs.WithLabelValues(StatusFatal).Inc()
}

// ObserveModelLoad records the outcome of the one-time model load.
func (m *Metrics) ObserveModelLoad(result string, _ time.Duration) {
	m.modelLoads.WithLabelValues(result).Inc()
}

// ObserveInference records the time spent producing a waveform.
func (m *Metrics) ObserveInference(elapsed time.Duration) {
	m.inferenceDuration.Observe(elapsed.Seconds())
}

// ObserveAudio records the length of a synthesized clip.
func (m *Metrics) ObserveAudio(length time.Duration) {
	m.audioSeconds.Observe(length.Seconds())
}
