// Package observe provides application-wide observability primitives for
// avatarlive: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all avatarlive metrics.
const meterName = "github.com/MrWong99/avatarlive"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Outbound stream ---

	// FramesSent counts messages accepted by the session. Use with attribute:
	//   attribute.String("kind", "audio"|"text")
	FramesSent metric.Int64Counter

	// FramesDropped counts messages that never reached the wire. Use with
	// attributes:
	//   attribute.String("kind", ...), attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// EncodeDuration tracks the time to turn one capture block into a frame.
	EncodeDuration metric.Float64Histogram

	// --- Inbound stream ---

	// RepliesReceived counts decoded replies. Use with attribute:
	//   attribute.String("kind", "audio"|"text")
	RepliesReceived metric.Int64Counter

	// DecodeFailures counts payloads or containers that could not be decoded.
	// Use with attribute:
	//   attribute.String("stage", "wire"|"container"|"playback")
	DecodeFailures metric.Int64Counter

	// --- Playback ---

	// PlaybackItems counts items that left the sink. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	PlaybackItems metric.Int64Counter

	// PlaybackDuration tracks how long each item occupied the sink.
	PlaybackDuration metric.Float64Histogram

	// QueueDepth tracks items waiting or playing.
	QueueDepth metric.Int64UpDownCounter

	// --- Gestures ---

	// GesturesEmitted counts gesture events handed to the event sink. Use
	// with attribute:
	//   attribute.String("label", ...)
	GesturesEmitted metric.Int64Counter

	// GesturesSuppressed counts labels filtered by the debouncer. Use with
	// attributes:
	//   attribute.String("label", ...), attribute.String("decision", ...)
	GesturesSuppressed metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin request latency by "route" (mux
	// pattern) and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for clip
// playback.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// encodeBuckets covers the sub-millisecond range of PCM conversion.
var encodeBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Outbound.
	if met.FramesSent, err = m.Int64Counter("avatarlive.frames.sent",
		metric.WithDescription("Messages accepted for sending by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("avatarlive.frames.dropped",
		metric.WithDescription("Messages dropped before the wire by kind and reason."),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("avatarlive.encode.duration",
		metric.WithDescription("Latency of converting one capture block to PCM16."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(encodeBuckets...),
	); err != nil {
		return nil, err
	}

	// Inbound.
	if met.RepliesReceived, err = m.Int64Counter("avatarlive.replies.received",
		metric.WithDescription("Replies received from the model by kind."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("avatarlive.decode.failures",
		metric.WithDescription("Payloads that failed to decode by stage."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.PlaybackItems, err = m.Int64Counter("avatarlive.playback.items",
		metric.WithDescription("Playback items completed by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("avatarlive.playback.duration",
		metric.WithDescription("Time each item spent in the playback sink."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("avatarlive.playback.queue_depth",
		metric.WithDescription("Playback items waiting or playing."),
	); err != nil {
		return nil, err
	}

	// Gestures.
	if met.GesturesEmitted, err = m.Int64Counter("avatarlive.gestures.emitted",
		metric.WithDescription("Gesture events emitted by label."),
	); err != nil {
		return nil, err
	}
	if met.GesturesSuppressed, err = m.Int64Counter("avatarlive.gestures.suppressed",
		metric.WithDescription("Gesture labels filtered by debounce or cooldown."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("avatarlive.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("avatarlive.http.request.duration",
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

// RecordFrameSent records one message accepted by the session.
func (m *Metrics) RecordFrameSent(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFrameDropped records one message dropped before the wire.
func (m *Metrics) RecordFrameDropped(ctx context.Context, kind, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("reason", reason),
		),
	)
}

// RecordReply records one reply received from the model.
func (m *Metrics) RecordReply(ctx context.Context, kind string) {
	m.RepliesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDecodeFailure records one payload that failed to decode.
func (m *Metrics) RecordDecodeFailure(ctx context.Context, stage string) {
	m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordPlayback records one item leaving the sink.
func (m *Metrics) RecordPlayback(ctx context.Context, seconds float64, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.PlaybackDuration.Record(ctx, seconds)
}

// RecordGesture records one debouncer decision. Emitted gestures and
// suppressed ones land on separate counters; "ignored" decisions (no
// gesture) are not recorded.
func (m *Metrics) RecordGesture(ctx context.Context, label, decision string) {
	switch decision {
	case "emitted":
		m.GesturesEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
	case "ignored":
	default:
		m.GesturesSuppressed.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("label", label),
				attribute.String("decision", decision),
			),
		)
	}
}
