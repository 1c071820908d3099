// Package otelobs adapts observability.Provider onto the OpenTelemetry
// API. It talks only to the globally registered TracerProvider/
// MeterProvider (via otel.Tracer/otel.Meter), so with no SDK wired in a
// process it behaves as a no-op the same way the OpenTelemetry API
// itself does; installing a real SDK (otlp exporter, Prometheus reader,
// etc.) anywhere in the process activates this adapter's output without
// any change here.
package otelobs

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/leofalp/aigo/providers/observability"
)

// Observer implements observability.Provider over the OpenTelemetry API.
type Observer struct {
	tracer trace.Tracer
	meter  metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// New builds an Observer named instrumentationName, the name every span
// and metric instrument is registered under (conventionally the module
// path, e.g. "github.com/leofalp/aigo").
func New(instrumentationName string) *Observer {
	return &Observer{
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

var _ observability.Provider = (*Observer)(nil)

// --- TRACING ---

func (o *Observer) StartSpan(ctx context.Context, name string, attrs ...observability.Attribute) (context.Context, observability.Span) {
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(toKeyValues(attrs)...))
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttributes(attrs ...observability.Attribute) {
	s.span.SetAttributes(toKeyValues(attrs)...)
}

func (s *otelSpan) SetStatus(code observability.StatusCode, description string) {
	s.span.SetStatus(toOtelCode(code), description)
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func (s *otelSpan) AddEvent(name string, attrs ...observability.Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(toKeyValues(attrs)...))
}

func toOtelCode(code observability.StatusCode) codes.Code {
	switch code {
	case observability.StatusOK:
		return codes.Ok
	case observability.StatusError:
		return codes.Error
	default:
		return codes.Unset
	}
}

// --- METRICS ---

func (o *Observer) Counter(name string) observability.Counter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return &otelCounter{counter: c}
	}
	c, err := o.meter.Int64Counter(name)
	if err != nil {
		return &otelCounter{}
	}
	o.counters[name] = c
	return &otelCounter{counter: c}
}

func (o *Observer) Histogram(name string) observability.Histogram {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return &otelHistogram{histogram: h}
	}
	h, err := o.meter.Float64Histogram(name)
	if err != nil {
		return &otelHistogram{}
	}
	o.histograms[name] = h
	return &otelHistogram{histogram: h}
}

type otelCounter struct {
	counter metric.Int64Counter
}

func (c *otelCounter) Add(ctx context.Context, value int64, attrs ...observability.Attribute) {
	if c.counter == nil {
		return
	}
	c.counter.Add(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

type otelHistogram struct {
	histogram metric.Float64Histogram
}

func (h *otelHistogram) Record(ctx context.Context, value float64, attrs ...observability.Attribute) {
	if h.histogram == nil {
		return
	}
	h.histogram.Record(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

// --- LOGGING ---
//
// The OpenTelemetry Logs API was still unstable at the otel version this
// adapter targets, so logging rides on span events instead of a separate
// log pipeline: each Logger call appends an event to the span active on
// ctx (if any), tagged with its level. A process that wants a standalone
// log stream should pair this Observer with providers/observability/slogobs
// rather than expect logs here.

func (o *Observer) Trace(ctx context.Context, msg string, attrs ...observability.Attribute) {
	o.logEvent(ctx, "trace", msg, attrs)
}

func (o *Observer) Debug(ctx context.Context, msg string, attrs ...observability.Attribute) {
	o.logEvent(ctx, "debug", msg, attrs)
}

func (o *Observer) Info(ctx context.Context, msg string, attrs ...observability.Attribute) {
	o.logEvent(ctx, "info", msg, attrs)
}

func (o *Observer) Warn(ctx context.Context, msg string, attrs ...observability.Attribute) {
	o.logEvent(ctx, "warn", msg, attrs)
}

func (o *Observer) Error(ctx context.Context, msg string, attrs ...observability.Attribute) {
	o.logEvent(ctx, "error", msg, attrs)
}

func (o *Observer) logEvent(ctx context.Context, level, msg string, attrs []observability.Attribute) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	kvs := append([]attribute.KeyValue{attribute.String("log.level", level), attribute.String("log.message", msg)}, toKeyValues(attrs)...)
	span.AddEvent("log", trace.WithAttributes(kvs...))
}

func toKeyValues(attrs []observability.Attribute) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			kvs = append(kvs, attribute.String(a.Key, v))
		case int:
			kvs = append(kvs, attribute.Int(a.Key, v))
		case int64:
			kvs = append(kvs, attribute.Int64(a.Key, v))
		case float64:
			kvs = append(kvs, attribute.Float64(a.Key, v))
		case bool:
			kvs = append(kvs, attribute.Bool(a.Key, v))
		default:
			kvs = append(kvs, attribute.String(a.Key, fmt.Sprintf("%v", v)))
		}
	}
	return kvs
}
