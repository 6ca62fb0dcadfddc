// Package observe provides the observability primitives of the scoring
// service: OpenTelemetry metrics, distributed tracing, request-scoped
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter bridge installed by [InitProvider]. A
// package-level [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/MrWong99/sayso"

// Scoring outcomes recorded on [Metrics.ScoringOutcomes].
const (
	OutcomeAccepted       = "accepted"
	OutcomeRejected       = "rejected"
	OutcomeEmpty          = "empty_transcript"
	OutcomeInvalid        = "invalid_request"
	OutcomeUnknownLearner = "unknown_learner"
	OutcomeUpstream       = "upstream_error"
	OutcomeInternal       = "internal_error"
)

// Metrics holds all OpenTelemetry instruments of the service. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// STTDuration tracks upstream transcription latency. Attributes:
	//   provider, status
	STTDuration metric.Float64Histogram

	// ProviderRequests counts upstream STT calls. Attributes:
	//   provider, status ("ok" or "error")
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed upstream STT calls. Attributes:
	//   provider, kind ("status", "reported", "transport", "invalid_audio", "canceled")
	ProviderErrors metric.Int64Counter

	// CircuitTransitions counts breaker state changes. Attributes:
	//   provider, to
	CircuitTransitions metric.Int64Counter

	// ScoringOutcomes counts scoring requests by terminal outcome. Attribute:
	//   outcome (one of the Outcome* constants)
	ScoringOutcomes metric.Int64Counter

	// SimilarityScore records the similarity of every scored attempt.
	// Attribute: language
	SimilarityScore metric.Float64Histogram

	// InFlight tracks scoring requests currently awaiting a transcript.
	InFlight metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path (the matched route pattern), status
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds, sized for
// batch transcription of short utterances.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// similarityBuckets cluster around the acceptance threshold.
var similarityBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("sayso.stt.duration",
		metric.WithDescription("Latency of upstream speech-to-text calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("sayso.stt.requests",
		metric.WithDescription("Total upstream speech-to-text requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sayso.stt.errors",
		metric.WithDescription("Total upstream speech-to-text errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("sayso.stt.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.ScoringOutcomes, err = m.Int64Counter("sayso.scoring.outcomes",
		metric.WithDescription("Scoring requests by terminal outcome."),
	); err != nil {
		return nil, err
	}
	if met.SimilarityScore, err = m.Float64Histogram("sayso.scoring.similarity",
		metric.WithDescription("Similarity between transcript and expected text."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(similarityBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InFlight, err = m.Int64UpDownCounter("sayso.scoring.in_flight",
		metric.WithDescription("Scoring requests currently waiting on speech-to-text."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sayso.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSTTCall records latency and the request counter for one upstream
// call. errKind is empty on success.
func (m *Metrics) RecordSTTCall(ctx context.Context, provider string, elapsed time.Duration, errKind string) {
	status := "ok"
	if errKind != "" {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.STTDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
	if errKind != "" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", errKind),
		))
	}
}

// RecordOutcome increments the scoring outcome counter.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.ScoringOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSimilarity records the similarity of a scored attempt.
func (m *Metrics) RecordSimilarity(ctx context.Context, language string, score float64) {
	m.SimilarityScore.Record(ctx, score, metric.WithAttributes(attribute.String("language", language)))
}

// RecordCircuitTransition increments the breaker transition counter.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, provider, to string) {
	m.CircuitTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("to", to),
	))
}
