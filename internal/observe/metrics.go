// Package observe provides server-side observability for Parla:
// OpenTelemetry metrics with a Prometheus exporter bridge, so the voice
// pipeline's stage latencies and session counters can be scraped via the
// standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
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

// meterName is the instrumentation scope name used for all Parla metrics.
const meterName = "github.com/parla-assistant/parla"

// Metrics holds all OpenTelemetry metric instruments for the server. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LLMDuration tracks LLM streaming time, first chunk to finish.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks per-sentence synthesis latency.
	TTSDuration metric.Float64Histogram

	// MemoryReadDuration tracks memory fetch latency against the read budget.
	MemoryReadDuration metric.Float64Histogram

	// RequestDuration tracks whole StreamAudio request latency.
	RequestDuration metric.Float64Histogram

	// --- Counters ---

	// Requests counts StreamAudio calls. Attributes: status.
	Requests metric.Int64Counter

	// Interrupts counts interrupt control messages received.
	Interrupts metric.Int64Counter

	// SentencesStreamed counts sentences flushed to synthesis.
	SentencesStreamed metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks currently open StreamAudio calls.
	ActiveStreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("parla.llm.duration",
		metric.WithDescription("Latency of LLM streaming, start to finish."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parla.tts.duration",
		metric.WithDescription("Latency of per-sentence speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MemoryReadDuration, err = m.Float64Histogram("parla.memory.read.duration",
		metric.WithDescription("Latency of the pre-prompt memory fetch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestDuration, err = m.Float64Histogram("parla.request.duration",
		metric.WithDescription("End-to-end StreamAudio request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Requests, err = m.Int64Counter("parla.requests",
		metric.WithDescription("Total StreamAudio requests by status."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("parla.interrupts",
		metric.WithDescription("Total interrupt control messages received."),
	); err != nil {
		return nil, err
	}
	if met.SentencesStreamed, err = m.Int64Counter("parla.sentences.streamed",
		metric.WithDescription("Total sentences flushed to synthesis."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parla.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("parla.active_streams",
		metric.WithDescription("Number of currently open StreamAudio calls."),
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

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from [otel.GetMeterProvider]. Panics if instrument creation fails
// (does not happen with the global provider).
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

// RecordRequest records one finished StreamAudio call with its status
// ("ok", "error", "interrupted", "rejected").
func (m *Metrics) RecordRequest(ctx context.Context, status string) {
	m.Requests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderError records a provider error with the standard attribute
// set.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
