package geosource

import (
	"context"

	"github.com/royalcat/osmgeo/geomodel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/royalcat/osmgeo/geosource"

var (
	meter  = otel.Meter(instrumentationName)
	tracer = otel.Tracer(instrumentationName)
)

type metrics struct {
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	backendQueries metric.Int64Counter
	failed         metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	cacheHits, err := meter.Int64Counter("geosource_cache_hits_total")
	if err != nil {
		return nil, err
	}
	cacheMisses, err := meter.Int64Counter("geosource_cache_misses_total")
	if err != nil {
		return nil, err
	}
	backendQueries, err := meter.Int64Counter("geosource_backend_queries_total")
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("geosource_failed_total")
	if err != nil {
		return nil, err
	}
	return &metrics{
		cacheHits:      cacheHits,
		cacheMisses:    cacheMisses,
		backendQueries: backendQueries,
		failed:         failed,
	}, nil
}

func kindAttr(kind geomodel.Kind) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind.String()))
}

func (m *metrics) lookups(ctx context.Context, kind geomodel.Kind, hits, misses int) {
	if hits > 0 {
		m.cacheHits.Add(ctx, int64(hits), kindAttr(kind))
	}
	if misses > 0 {
		m.cacheMisses.Add(ctx, int64(misses), kindAttr(kind))
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "geosource."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
