// Package observe provides observability primitives for voxwire:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxwire metrics.
const meterName = "github.com/voxwire/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the client. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesSent counts outbound frames. Use with attribute:
	//   attribute.String("kind", ...)
	FramesSent metric.Int64Counter

	// FramesReceived counts inbound frames that parsed successfully.
	FramesReceived metric.Int64Counter

	// Events counts dispatched server events. Use with attribute:
	//   attribute.String("event", ...)
	Events metric.Int64Counter

	// DecodeFailures counts inbound frames dropped as malformed or
	// undecodable.
	DecodeFailures metric.Int64Counter

	// AudioBytesOut tracks PCM bytes streamed to the service.
	AudioBytesOut metric.Int64Counter

	// AudioBytesIn tracks synthesized PCM bytes received from the service.
	AudioBytesIn metric.Int64Counter

	// SendDuration tracks socket write latency.
	SendDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live dialogue sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// single frame writes on a realtime stream.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("voxwire.frames.sent",
		metric.WithDescription("Total outbound frames by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voxwire.frames.received",
		metric.WithDescription("Total inbound frames parsed successfully."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("voxwire.events",
		metric.WithDescription("Total dispatched server events by event name."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("voxwire.decode.failures",
		metric.WithDescription("Total inbound frames dropped as malformed or undecodable."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesOut, err = m.Int64Counter("voxwire.audio.bytes.out",
		metric.WithDescription("PCM bytes streamed to the service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesIn, err = m.Int64Counter("voxwire.audio.bytes.in",
		metric.WithDescription("Synthesized PCM bytes received from the service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SendDuration, err = m.Float64Histogram("voxwire.send.duration",
		metric.WithDescription("Socket write latency per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxwire.active_sessions",
		metric.WithDescription("Number of live dialogue sessions."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordFrameSent records one outbound frame with its kind attribute.
func (m *Metrics) RecordFrameSent(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordEvent records one dispatched server event by name.
func (m *Metrics) RecordEvent(ctx context.Context, event string) {
	m.Events.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}
