// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captain_video_ingest_total",
		Help: "Video records created by the ingress endpoint, by decision",
	}, []string{"decision"})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captain_video_dispatch_total",
		Help: "Dispatch attempts by backend and outcome",
	}, []string{"backend", "outcome"})

	Callbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captain_video_callback_total",
		Help: "Callbacks received by outcome",
	}, []string{"outcome"})

	SignatureChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captain_video_callback_signature_total",
		Help: "Callback signature verification results",
	}, []string{"result"})

	NormalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "captain_video_normalize_duration_seconds",
		Help:    "Time spent normalizing one video",
		Buckets: prometheus.LinearBuckets(5, 15, 10),
	})

	NormalizeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "captain_video_normalize_active",
		Help: "Normalization jobs currently running",
	})

	NormalizeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captain_video_normalize_total",
		Help: "Normalization results",
	}, []string{"outcome"})

	Sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captain_video_sweep_total",
		Help: "Records touched by the periodic sweeps",
	}, []string{"action"})

	UploadEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captain_upload_events_total",
		Help: "Client upload queue analytics events",
	}, []string{"event"})

	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "captain_upload_duration_seconds",
		Help:    "Successful upload durations",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Outcome label helper for success/failure counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// UploadAnalytics records upload queue events as Prometheus counters.
type UploadAnalytics struct{}

func (UploadAnalytics) Attempt(itemID string, attempt int) {
	UploadEvents.WithLabelValues("attempt").Inc()
}

func (UploadAnalytics) Success(itemID string, took time.Duration) {
	UploadEvents.WithLabelValues("success").Inc()
	UploadDuration.Observe(took.Seconds())
}

func (UploadAnalytics) Failure(itemID string, err error, recoverable bool) {
	if recoverable {
		UploadEvents.WithLabelValues("failure_recoverable").Inc()
		return
	}
	UploadEvents.WithLabelValues("failure").Inc()
}

func (UploadAnalytics) Fallback(itemID string, reason string) {
	UploadEvents.WithLabelValues("fallback").Inc()
}
