package observe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/chinesetutor/internal/observe"
)

// recordingTracer returns a tracer whose finished spans land in the returned
// exporter.
func recordingTracer(t *testing.T) (trace.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("observe-test"), exp
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	if got := observe.CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	tracer, _ := recordingTracer(t)
	seen := make(map[string]bool)
	for range 20 {
		ctx, span := tracer.Start(context.Background(), "chat.session")
		cid := observe.CorrelationID(ctx)
		span.End()

		if cid != span.SpanContext().TraceID().String() {
			t.Fatalf("CorrelationID = %q, want the span's trace id", cid)
		}
		if seen[cid] {
			t.Fatalf("correlation id %s issued twice", cid)
		}
		seen[cid] = true
	}
}

func TestEndSpan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "success", err: nil, wantStatus: codes.Unset, wantEvents: 0},
		{name: "failure", err: errors.New("session: transport: dial refused"), wantStatus: codes.Error, wantEvents: 1},
		{name: "cancelled", err: fmt.Errorf("chat stopped: %w", context.Canceled), wantStatus: codes.Unset, wantEvents: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tracer, exp := recordingTracer(t)
			_, span := tracer.Start(context.Background(), "chat.session")
			observe.EndSpan(span, tt.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			got := spans[0]
			if got.Status.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", got.Status.Code, tt.wantStatus)
			}
			if len(got.Events) != tt.wantEvents {
				t.Errorf("recorded %d error events, want %d", len(got.Events), tt.wantEvents)
			}
		})
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	t.Parallel()

	// The default global provider is a no-op; the span must still be usable.
	ctx, span := observe.StartSpan(context.Background(), "chat.session")
	observe.EndSpan(span, nil)
	if ctx == nil {
		t.Fatal("StartSpan returned a nil context")
	}
	if observe.Tracer() == nil {
		t.Fatal("Tracer() = nil")
	}
}

// Logger reads the default logger, so these tests cannot run in parallel.
func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	observe.Logger(context.Background()).Info("idle")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("logger without a span added trace_id: %s", buf.String())
	}

	buf.Reset()
	tracer, _ := recordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "chat.session")
	defer span.End()

	observe.Logger(ctx).Info("chatting")
	line := buf.String()
	if want := "trace_id=" + span.SpanContext().TraceID().String(); !strings.Contains(line, want) {
		t.Errorf("log line %q lacks %s", line, want)
	}
	if want := "span_id=" + span.SpanContext().SpanID().String(); !strings.Contains(line, want) {
		t.Errorf("log line %q lacks %s", line, want)
	}
}
