// Package observe provides application-wide observability primitives for
// Murattil: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Murattil metrics.
const meterName = "github.com/adnsalim/murattil"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StoreOpDuration tracks content-store operation latency. Use with attributes:
	//   attribute.String("op", ...), attribute.String("region", ...)
	StoreOpDuration metric.Float64Histogram

	// CacheFetchDuration tracks remote text-fetch latency during cache population.
	CacheFetchDuration metric.Float64Histogram

	// --- Score distribution ---

	// CorrectionScore tracks the distribution of recitation scores (0–100).
	CorrectionScore metric.Int64Histogram

	// --- Counters ---

	// Recordings counts finished recordings. Use with attribute:
	//   attribute.String("status", "stored"|"failed"|"released")
	Recordings metric.Int64Counter

	// Corrections counts scored recitations. Use with attribute:
	//   attribute.String("outcome", "correct"|"incorrect"|"unresolved")
	Corrections metric.Int64Counter

	// CacheFetches counts remote fetches during population. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"skipped")
	CacheFetches metric.Int64Counter

	// --- Error counters ---

	// StoreErrors counts failed store operations. Use with attribute:
	//   attribute.String("op", ...)
	StoreErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of captures currently in progress.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for local store I/O and short network fetches.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// scoreBuckets mirror the feedback bands plus a few finer steps below them.
var scoreBuckets = []float64{10, 25, 50, 70, 85, 95, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StoreOpDuration, err = m.Float64Histogram("murattil.store.op.duration",
		metric.WithDescription("Latency of content-store operations by op and region."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheFetchDuration, err = m.Float64Histogram("murattil.cache.fetch.duration",
		metric.WithDescription("Latency of remote text fetches during cache population."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CorrectionScore, err = m.Int64Histogram("murattil.correction.score",
		metric.WithDescription("Distribution of recitation scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Recordings, err = m.Int64Counter("murattil.recordings",
		metric.WithDescription("Total finished recordings by status."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("murattil.corrections",
		metric.WithDescription("Total scored recitations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CacheFetches, err = m.Int64Counter("murattil.cache.fetches",
		metric.WithDescription("Total remote fetches during cache population by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StoreErrors, err = m.Int64Counter("murattil.store.errors",
		metric.WithDescription("Total failed content-store operations by op."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("murattil.active_captures",
		metric.WithDescription("Number of captures currently in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("murattil.http.request.duration",
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

// RecordStoreOp records one store operation's latency and, when it failed,
// increments the error counter.
func (m *Metrics) RecordStoreOp(ctx context.Context, op, region string, elapsed time.Duration, err error) {
	m.StoreOpDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("region", region),
		),
	)
	if err != nil {
		m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// RecordCorrection records one scored recitation: the score distribution plus
// the outcome counter.
func (m *Metrics) RecordCorrection(ctx context.Context, score int, outcome string) {
	m.CorrectionScore.Record(ctx, int64(score))
	m.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRecording records one finished recording by status.
func (m *Metrics) RecordRecording(ctx context.Context, status string) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCacheFetch records one population fetch: its latency and status.
func (m *Metrics) RecordCacheFetch(ctx context.Context, elapsed time.Duration, status string) {
	m.CacheFetchDuration.Record(ctx, elapsed.Seconds())
	m.CacheFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
