// Package observe provides OpenTelemetry metrics for the VAD engine and the
// streaming server.
//
// Instruments are created through the OpenTelemetry Metrics API. Engines use
// [DefaultMetrics] unless one is injected, so a process only needs to call
// [InitProvider] once to have every engine exported via Prometheus. Tests
// should use [NewMetrics] with a ManualReader-backed provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all rtvad metrics.
const meterName = "github.com/chriscow/rtvad"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// Frames counts classified frames. Attribute: state.
	Frames metric.Int64Counter

	// Segments counts finalized speech segments.
	Segments metric.Int64Counter

	// Errors counts recovered and fatal errors. Attribute: kind.
	Errors metric.Int64Counter

	// InferenceDuration tracks probability source latency per frame.
	InferenceDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of finalized segments.
	SegmentDuration metric.Float64Histogram

	// ActiveSegments tracks segments currently accumulating.
	ActiveSegments metric.Int64UpDownCounter

	// ActiveStreams tracks open websocket streams.
	ActiveStreams metric.Int64UpDownCounter
}

// inferenceBuckets are histogram boundaries (seconds) for per-frame scoring.
var inferenceBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// segmentBuckets are histogram boundaries (seconds) for utterance lengths.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("rtvad.frames",
		metric.WithDescription("Frames classified by the engine, by resulting state."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("rtvad.segments",
		metric.WithDescription("Speech segments finalized."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("rtvad.errors",
		metric.WithDescription("Engine errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("rtvad.inference.duration",
		metric.WithDescription("Latency of scoring one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(inferenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("rtvad.segment.duration",
		metric.WithDescription("Audio length of finalized speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSegments, err = m.Int64UpDownCounter("rtvad.active_segments",
		metric.WithDescription("Speech segments currently accumulating."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("rtvad.active_streams",
		metric.WithDescription("Open streaming connections."),
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
// first call using [otel.GetMeterProvider]. The global provider delegates to
// whatever provider is installed later, so calling this before
// [InitProvider] is fine.
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

// RecordFrame counts one classified frame.
func (m *Metrics) RecordFrame(ctx context.Context, state string) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordInference records the latency of one probability source call.
func (m *Metrics) RecordInference(ctx context.Context, d time.Duration) {
	m.InferenceDuration.Record(ctx, d.Seconds())
}

// RecordError counts one error of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SegmentStarted marks a segment as accumulating.
func (m *Metrics) SegmentStarted(ctx context.Context) {
	m.ActiveSegments.Add(ctx, 1)
}

// SegmentEnded records a finalized segment of length d.
func (m *Metrics) SegmentEnded(ctx context.Context, d time.Duration) {
	m.ActiveSegments.Add(ctx, -1)
	m.Segments.Add(ctx, 1)
	m.SegmentDuration.Record(ctx, d.Seconds())
}

// SegmentDiscarded removes an abandoned segment from the active gauge.
func (m *Metrics) SegmentDiscarded(ctx context.Context) {
	m.ActiveSegments.Add(ctx, -1)
}
