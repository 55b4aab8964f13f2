// Package observe provides application-wide observability primitives for
// parrot: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all parrot metrics.
const meterName = "github.com/MrWong99/parrot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// InferenceDuration tracks the latency of one speech-likelihood inference.
	InferenceDuration metric.Float64Histogram

	// ConditioningDuration tracks the latency of conditioning one utterance.
	ConditioningDuration metric.Float64Histogram

	// UtteranceLength tracks the audio duration of completed utterances.
	UtteranceLength metric.Float64Histogram

	// --- Counters ---

	// BitsClassified counts classified bits. Use with attribute:
	//   attribute.String("class", ...)
	BitsClassified metric.Int64Counter

	// Utterances counts utterances handed to conditioning. Use with attribute:
	//   attribute.String("reason", "silence"|"max_length")
	Utterances metric.Int64Counter

	// ClipsPlayed counts pre-recorded clips played. Use with attribute:
	//   attribute.String("set", "reaction"|"sentence")
	ClipsPlayed metric.Int64Counter

	// IdleEvaluations counts idle-chatter evaluations. Use with attribute:
	//   attribute.String("outcome", ...)
	IdleEvaluations metric.Int64Counter

	// NoiseReferenceUpdates counts replacements of the noise reference.
	NoiseReferenceUpdates metric.Int64Counter

	// --- Error counters ---

	// Errors counts recoverable and fatal errors. Use with attribute:
	//   attribute.String("kind", ...)
	Errors metric.Int64Counter

	// --- Gauges ---

	// Speaking is 1 while the device is in the speaking direction, 0 while
	// listening.
	Speaking metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops endpoint latency. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-frame inference and per-utterance processing latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) for
// utterance audio length.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 12, 15, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.InferenceDuration, err = m.Float64Histogram("parrot.vad.inference.duration",
		metric.WithDescription("Latency of one speech-likelihood inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConditioningDuration, err = m.Float64Histogram("parrot.conditioning.duration",
		metric.WithDescription("Latency of conditioning one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceLength, err = m.Float64Histogram("parrot.utterance.length",
		metric.WithDescription("Audio duration of completed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BitsClassified, err = m.Int64Counter("parrot.bits.classified",
		metric.WithDescription("Total classified bits by class."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("parrot.utterances",
		metric.WithDescription("Total utterances handed to conditioning by completion reason."),
	); err != nil {
		return nil, err
	}
	if met.ClipsPlayed, err = m.Int64Counter("parrot.clips.played",
		metric.WithDescription("Total pre-recorded clips played by clip set."),
	); err != nil {
		return nil, err
	}
	if met.IdleEvaluations, err = m.Int64Counter("parrot.idle.evaluations",
		metric.WithDescription("Total idle-chatter evaluations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.NoiseReferenceUpdates, err = m.Int64Counter("parrot.noise_reference.updates",
		metric.WithDescription("Total noise reference replacements."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.Errors, err = m.Int64Counter("parrot.errors",
		metric.WithDescription("Total errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.Speaking, err = m.Int64UpDownCounter("parrot.speaking",
		metric.WithDescription("1 while the device is speaking, 0 while listening."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parrot.http.request.duration",
		metric.WithDescription("Ops endpoint latency by route and status."),
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

// RecordBit records one classified bit.
func (m *Metrics) RecordBit(ctx context.Context, class string) {
	m.BitsClassified.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// RecordUtterance records a completed utterance and its audio length.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.UtteranceLength.Record(ctx, seconds)
}

// RecordClip records one played clip from the given set.
func (m *Metrics) RecordClip(ctx context.Context, set string) {
	m.ClipsPlayed.Add(ctx, 1, metric.WithAttributes(attribute.String("set", set)))
}

// RecordIdleEvaluation records one idle-chatter evaluation.
func (m *Metrics) RecordIdleEvaluation(ctx context.Context, outcome string) {
	m.IdleEvaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordError is a convenience method that records an error counter
// increment.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
