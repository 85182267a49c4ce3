package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SubmissionsTotal counts finished analysis submissions by result ("success", "failure").
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retina",
		Subsystem: "screening",
		Name:      "submissions_total",
		Help:      "Total number of analysis submissions, labeled by result.",
	}, []string{"result"})

	// SubmissionDurationSeconds is the time from submit to settle.
	SubmissionDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "retina",
		Subsystem: "screening",
		Name:      "submission_duration_seconds",
		Help:      "Time between starting a submission and its result or failure.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"result"})

	// SubmissionsInFlight is 1 while a session has an outstanding submission.
	SubmissionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "retina",
		Subsystem: "screening",
		Name:      "submissions_in_flight",
		Help:      "Current number of outstanding analysis submissions.",
	})

	ProgressTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "retina",
		Subsystem: "screening",
		Name:      "progress_ticks_total",
		Help:      "Total number of simulated progress increments.",
	})

	// HydrationsTotal counts report views reaching a terminal state ("ready", "empty").
	HydrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retina",
		Subsystem: "report",
		Name:      "hydrations_total",
		Help:      "Total number of report views settled, labeled by state.",
	}, []string{"state"})

	// SynthesizedConfidencesTotal counts severity classes filled with a placeholder value.
	SynthesizedConfidencesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "retina",
		Subsystem: "report",
		Name:      "synthesized_confidences_total",
		Help:      "Total number of confidence values synthesized because the service omitted them.",
	})

	// NavigationRetriesTotal counts repeated navigation store commands by operation.
	NavigationRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retina",
		Subsystem: "navigation",
		Name:      "retries_total",
		Help:      "Total number of retried navigation store commands, labeled by operation.",
	}, []string{"operation"})

	// ExportsTotal counts report exports by result ("success", "precondition", "failure").
	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retina",
		Subsystem: "report",
		Name:      "exports_total",
		Help:      "Total number of report exports, labeled by result.",
	}, []string{"result"})
)

// Register registers screening metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			SubmissionDurationSeconds,
			SubmissionsInFlight,
			ProgressTicksTotal,
			HydrationsTotal,
			SynthesizedConfidencesTotal,
			ExportsTotal,
			NavigationRetriesTotal,
		)
	})
}
