// Package metrics registers Airlock's prometheus counters and histograms,
// following the Namespace/Subsystem CounterVec/HistogramVec layout the
// Lens modules (e.g. pkg/jobs/metrics.go, exporters/gateway-exporter)
// register at package init and expose on a dedicated metrics listener.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestTransitions counts every status transition the controller
	// commits, labelled by the audit kind that drove it.
	RequestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airlock",
			Subsystem: "requests",
			Name:      "transitions_total",
			Help:      "Total number of release request status transitions.",
		},
		[]string{"kind", "to_status"},
	)

	// OperationErrors counts controller operations that returned an
	// apierror, labelled by operation and error code.
	OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airlock",
			Subsystem: "requests",
			Name:      "operation_errors_total",
			Help:      "Total number of controller operations that failed.",
		},
		[]string{"operation", "code"},
	)

	// UploadAttempts counts every upload attempt the scheduler makes,
	// labelled by outcome (success, transient_failure, permanent_failure).
	UploadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airlock",
			Subsystem: "uploads",
			Name:      "attempts_total",
			Help:      "Total number of file upload attempts against the Jobs site.",
		},
		[]string{"outcome"},
	)

	// UploadJobDuration tracks wall-clock time from a job's creation to
	// its terminal state (succeeded or failed).
	UploadJobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "airlock",
			Subsystem: "uploads",
			Name:      "job_duration_seconds",
			Help:      "Duration of an upload job from creation to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s ~ 34m
		},
	)

	// UploadJobsInFlight reports the current size of the scheduler's
	// in-flight semaphore.
	UploadJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "airlock",
			Subsystem: "uploads",
			Name:      "jobs_in_flight",
			Help:      "Number of upload jobs currently being attempted.",
		},
	)

	// HTTPRequestDuration tracks handler latency, labelled the way the
	// gateway-exporter labels proxied traffic: by route, method, and
	// response code.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "airlock",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests served by the API.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestTransitions,
		OperationErrors,
		UploadAttempts,
		UploadJobDuration,
		UploadJobsInFlight,
		HTTPRequestDuration,
	)
}
