package otelobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leofalp/aigo/providers/observability"
)

func TestOtelObserver_Implements_Provider(t *testing.T) {
	var _ observability.Provider = (*Observer)(nil)
}

func TestOtelObserver_New(t *testing.T) {
	obs := New("test")
	if obs == nil {
		t.Fatal("New() returned nil")
	}
	if obs.tracer == nil {
		t.Fatal("New() did not set a tracer")
	}
	if obs.meter == nil {
		t.Fatal("New() did not set a meter")
	}
}

func TestOtelObserver_StartSpanAndEnd(t *testing.T) {
	obs := New("test")
	ctx := context.Background()

	ctx2, span := obs.StartSpan(ctx, "test-span", observability.String("key", "value"))
	if ctx2 == nil {
		t.Fatal("StartSpan returned nil context")
	}
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}

	span.SetAttributes(observability.Int("count", 1))
	span.SetStatus(observability.StatusOK, "done")
	span.AddEvent("progress", observability.Bool("flag", true))
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestOtelObserver_CounterIsCachedByName(t *testing.T) {
	obs := New("test")
	first := obs.Counter("requests")
	second := obs.Counter("requests")
	if first == nil || second == nil {
		t.Fatal("Counter returned nil")
	}
	first.Add(context.Background(), 1, observability.String("outcome", "ok"))
}

func TestOtelObserver_HistogramIsCachedByName(t *testing.T) {
	obs := New("test")
	first := obs.Histogram("latency")
	second := obs.Histogram("latency")
	if first == nil || second == nil {
		t.Fatal("Histogram returned nil")
	}
	first.Record(context.Background(), 12.5, observability.Duration("elapsed", time.Second))
}

func TestOtelObserver_LoggingDoesNotPanicWithoutActiveSpan(t *testing.T) {
	obs := New("test")
	ctx := context.Background()
	obs.Trace(ctx, "trace message")
	obs.Debug(ctx, "debug message")
	obs.Info(ctx, "info message")
	obs.Warn(ctx, "warn message")
	obs.Error(ctx, "error message", observability.Error(errors.New("fail")))
}

func TestOtelObserver_LoggingAttachesEventsToActiveSpan(t *testing.T) {
	obs := New("test")
	ctx, span := obs.StartSpan(context.Background(), "parent-span")
	defer span.End()

	obs.Info(ctx, "inside span", observability.String("k", "v"))
}
