package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	barsProcessed *prometheus.CounterVec
	barsDropped   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	scores        *prometheus.GaugeVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		barsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepull_bars_processed_total",
				Help: "Total number of closed bars evaluated",
			},
			[]string{"instrument", "timeframe"},
		),
		barsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepull_bars_dropped_total",
				Help: "Total number of bars rejected at the boundary",
			},
			[]string{"instrument", "reason"},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepull_transitions_total",
				Help: "Total number of regime transitions",
			},
			[]string{"instrument", "from", "to"},
		),
		scores: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regimepull_score",
				Help: "Last smoothed quality score per instrument",
			},
			[]string{"instrument", "score"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimepull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordBarProcessed(instrument, tf string) {
	r.barsProcessed.WithLabelValues(instrument, tf).Inc()
}

func (r *Recorder) RecordBarDropped(instrument, reason string) {
	r.barsDropped.WithLabelValues(instrument, reason).Inc()
}

func (r *Recorder) RecordTransition(instrument, from, to string) {
	r.transitions.WithLabelValues(instrument, from, to).Inc()
}

func (r *Recorder) RecordScore(instrument, score string, value float64) {
	r.scores.WithLabelValues(instrument, score).Set(value)
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
