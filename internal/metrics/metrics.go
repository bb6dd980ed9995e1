// Package metrics exposes OpenTelemetry instruments for cluster generation.
package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/thebtf/trendwire"

// Instrument names.
const (
	GenerationRuns     = "trendwire.generation.runs"
	ClustersCreated    = "trendwire.clusters.created"
	LabelFallbacks     = "trendwire.labels.fallback"
	GenerationDuration = "trendwire.generation.duration"
	ClustersExpired    = "trendwire.clusters.expired"
)

// Recorder records generation metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	runs            metric.Int64Counter
	clustersCreated metric.Int64Counter
	labelFallbacks  metric.Int64Counter
	clustersExpired metric.Int64Counter
	duration        metric.Float64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.runs, err = meter.Int64Counter(GenerationRuns,
		metric.WithDescription("Cluster generation runs by scope, method and outcome")); err != nil {
		return nil, err
	}
	if r.clustersCreated, err = meter.Int64Counter(ClustersCreated,
		metric.WithDescription("Trending clusters persisted")); err != nil {
		return nil, err
	}
	if r.labelFallbacks, err = meter.Int64Counter(LabelFallbacks,
		metric.WithDescription("Clusters that kept the deterministic fallback label")); err != nil {
		return nil, err
	}
	if r.clustersExpired, err = meter.Int64Counter(ClustersExpired,
		metric.WithDescription("Clusters removed by the expiry sweep")); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram(GenerationDuration,
		metric.WithDescription("Wall-clock duration of a generation run"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

// Global creates a recorder on the globally registered meter provider,
// falling back to a no-op meter if the instruments cannot be created.
func Global() *Recorder {
	r, err := New(otel.Meter(meterName))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create metric instruments, metrics disabled")
		r, _ = New(noop.NewMeterProvider().Meter(meterName))
	}
	return r
}

// RecordRun records one finished generation run.
func (r *Recorder) RecordRun(ctx context.Context, scope, method string, clusters int, took time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	)
	r.runs.Add(ctx, 1, attrs)
	r.duration.Record(ctx, took.Seconds(), attrs)
	if clusters > 0 {
		r.clustersCreated.Add(ctx, int64(clusters), metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("method", method),
		))
	}
}

// RecordLabelFallback records a cluster left with its fallback label.
func (r *Recorder) RecordLabelFallback(ctx context.Context, scope string) {
	if r == nil {
		return
	}
	r.labelFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordExpired records clusters deleted by an expiry sweep.
func (r *Recorder) RecordExpired(ctx context.Context, count int64) {
	if r == nil || count <= 0 {
		return
	}
	r.clustersExpired.Add(ctx, count)
}
