// Package observe provides the proxy's observability primitives:
// OpenTelemetry metric instruments and the Prometheus-bridged meter
// provider.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so they can be scraped via
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all proxy metrics.
const meterName = "github.com/Signal-Meaning/dg-react-agent-sub013"

// Metrics holds all OpenTelemetry metric instruments for the proxy.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionsStarted counts accepted client connections.
	SessionsStarted metric.Int64Counter

	// ActiveSessions tracks the number of live client↔upstream pairs.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks session lifetime from upgrade to close.
	SessionDuration metric.Float64Histogram

	// ClientMessages counts translated client control messages. Use with:
	//   attribute.String("type", ...)
	ClientMessages metric.Int64Counter

	// UpstreamEvents counts received upstream server events. Use with:
	//   attribute.String("type", ...)
	UpstreamEvents metric.Int64Counter

	// TranslationWarnings counts dropped or malformed messages.
	TranslationWarnings metric.Int64Counter

	// AudioBytes counts client microphone bytes forwarded upstream.
	AudioBytes metric.Int64Counter

	// AudioCommits counts debounced input_audio_buffer.commit emissions.
	AudioCommits metric.Int64Counter

	// SessionErrors counts fatal session errors. Use with:
	//   attribute.String("reason", ...)
	SessionErrors metric.Int64Counter
}

// durationBuckets defines histogram bucket boundaries (in seconds) for
// session lifetimes.
var durationBuckets = []float64{
	1, 5, 15, 60, 300, 900, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsStarted, err = m.Int64Counter("voiceproxy.sessions.started",
		metric.WithDescription("Total accepted client sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceproxy.sessions.active",
		metric.WithDescription("Number of live client-upstream session pairs."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voiceproxy.session.duration",
		metric.WithDescription("Session lifetime from upgrade to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClientMessages, err = m.Int64Counter("voiceproxy.client.messages",
		metric.WithDescription("Translated client control messages by type."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamEvents, err = m.Int64Counter("voiceproxy.upstream.events",
		metric.WithDescription("Received upstream server events by type."),
	); err != nil {
		return nil, err
	}
	if met.TranslationWarnings, err = m.Int64Counter("voiceproxy.translation.warnings",
		metric.WithDescription("Dropped or malformed messages in either direction."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("voiceproxy.audio.bytes",
		metric.WithDescription("Client microphone bytes forwarded upstream."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AudioCommits, err = m.Int64Counter("voiceproxy.audio.commits",
		metric.WithDescription("Debounced audio buffer commits."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voiceproxy.session.errors",
		metric.WithDescription("Fatal session errors by reason."),
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

// RecordClientMessage records one translated client message of the given
// wire type.
func (m *Metrics) RecordClientMessage(ctx context.Context, msgType string) {
	m.ClientMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}

// RecordUpstreamEvent records one received upstream event of the given
// wire type.
func (m *Metrics) RecordUpstreamEvent(ctx context.Context, eventType string) {
	m.UpstreamEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordSessionError records a fatal session error with its reason.
func (m *Metrics) RecordSessionError(ctx context.Context, reason string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
