// Package telemetry provides Prometheus metrics, correlation-id aware
// logging helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RequestsProcessed prometheus.Counter
	RequestsFulfilled prometheus.Counter
	RequestsRefunded  prometheus.Counter
	SweepCycles       prometheus.Counter
	EmotesRetracted   prometheus.Counter
	LoginAttempts     prometheus.Counter
	LoginFailures     prometheus.Counter

	// Histograms (seconds)
	ProcessDuration prometheus.Observer
	SweepDuration   prometheus.Observer

	// Gauges
	QueueDepthGauge  prometheus.Gauge
	ActiveGrantsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RequestsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "emote_requests_processed_total", Help: "Number of emote requests drained from the queue"})
		RequestsFulfilled = promauto.NewCounter(prometheus.CounterOpts{Name: "emote_requests_fulfilled_total", Help: "Number of emote requests fulfilled"})
		RequestsRefunded = promauto.NewCounter(prometheus.CounterOpts{Name: "emote_requests_refunded_total", Help: "Number of emote requests refunded"})
		SweepCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "emote_sweep_cycles_total", Help: "Number of expiry sweep cycles"})
		EmotesRetracted = promauto.NewCounter(prometheus.CounterOpts{Name: "emote_sweep_retracted_total", Help: "Number of expired emotes retracted"})
		LoginAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "seventv_login_attempts_total", Help: "Number of 7TV login pipeline runs"})
		LoginFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "seventv_login_failures_total", Help: "Number of failed 7TV login pipeline runs"})
		ProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emote_request_duration_seconds", Help: "Per-request processing duration seconds", Buckets: prometheus.DefBuckets})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emote_sweep_duration_seconds", Help: "Sweep cycle duration seconds", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "emote_queue_depth", Help: "Current number of pending emote requests"})
		ActiveGrantsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "emote_active_grants", Help: "Current number of live emote grants"})
	})
}

// SetQueueDepth records the current pending request count.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetActiveGrants records the current live grant count.
func SetActiveGrants(n int) {
	if ActiveGrantsGauge != nil {
		ActiveGrantsGauge.Set(float64(n))
	}
}

// IncLoginAttempt counts one run of the 7TV login pipeline.
func IncLoginAttempt() {
	if LoginAttempts != nil {
		LoginAttempts.Inc()
	}
}

// IncLoginFailure counts one failed run of the 7TV login pipeline.
func IncLoginFailure() {
	if LoginFailures != nil {
		LoginFailures.Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
