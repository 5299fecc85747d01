// Package observe provides application-wide observability primitives for the
// tutor: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tutor metrics.
const meterName = "github.com/MrWong99/chinesetutor"

// Session outcome labels used with [Metrics.RecordSessionEnd].
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusConfig    = "config"
	StatusTransport = "transport"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Sessions ---

	// SessionsStarted counts chat sessions accepted by the session manager.
	SessionsStarted metric.Int64Counter

	// SessionsCompleted counts finished sessions. Use with attribute:
	//   attribute.String("status", ...)
	SessionsCompleted metric.Int64Counter

	// SessionDuration tracks wall-clock session length.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live chat sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- Events and audio ---

	// EventsEmitted counts session events pushed to consumers. Use with
	// attribute:
	//   attribute.String("type", ...)
	EventsEmitted metric.Int64Counter

	// FramesGated counts microphone frames dropped by the audio gate.
	FramesGated metric.Int64Counter

	// --- Vocabulary ---

	// VocabCaptured counts vocabulary entries stored after a session.
	VocabCaptured metric.Int64Counter

	// ReviewAnswers counts quiz answers. Use with attribute:
	//   attribute.String("result", ...)
	ReviewAnswers metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration is recorded by [Middleware] with method, route and
	// status attributes.
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for
// conversation lengths.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Sessions.
	if met.SessionsStarted, err = m.Int64Counter("chinesetutor.sessions.started",
		metric.WithDescription("Total chat sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("chinesetutor.sessions.completed",
		metric.WithDescription("Total chat sessions finished by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("chinesetutor.session.duration",
		metric.WithDescription("Length of chat sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("chinesetutor.active_sessions",
		metric.WithDescription("Number of live chat sessions."),
	); err != nil {
		return nil, err
	}

	// Events and audio.
	if met.EventsEmitted, err = m.Int64Counter("chinesetutor.events.emitted",
		metric.WithDescription("Total session events emitted by type."),
	); err != nil {
		return nil, err
	}
	if met.FramesGated, err = m.Int64Counter("chinesetutor.audio.frames_gated",
		metric.WithDescription("Microphone frames dropped while the agent was speaking."),
	); err != nil {
		return nil, err
	}

	// Vocabulary.
	if met.VocabCaptured, err = m.Int64Counter("chinesetutor.vocab.captured",
		metric.WithDescription("Vocabulary entries stored after sessions."),
	); err != nil {
		return nil, err
	}
	if met.ReviewAnswers, err = m.Int64Counter("chinesetutor.review.answers",
		metric.WithDescription("Review quiz answers by result."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("chinesetutor.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionStart counts a started session and raises the active gauge.
func (m *Metrics) RecordSessionStart(ctx context.Context) {
	m.SessionsStarted.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionEnd lowers the active gauge and records the outcome and
// length of a session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, status string, d time.Duration) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SessionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordEvent counts one emitted session event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.EventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordGatedFrame counts one microphone frame dropped by the gate.
func (m *Metrics) RecordGatedFrame(ctx context.Context) {
	m.FramesGated.Add(ctx, 1)
}

// RecordVocab counts n stored vocabulary entries.
func (m *Metrics) RecordVocab(ctx context.Context, n int) {
	if n > 0 {
		m.VocabCaptured.Add(ctx, int64(n))
	}
}

// RecordReviewAnswer counts one quiz answer.
func (m *Metrics) RecordReviewAnswer(ctx context.Context, result string) {
	m.ReviewAnswers.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
