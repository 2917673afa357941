package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// stubTracer starts spans with a fixed, valid span context so tests can
// assert on the exact ids that land in the log output.
type stubTracer struct {
	trace.Tracer
}

type stubSpan struct {
	trace.Span
	spanContext trace.SpanContext
}

func (s *stubSpan) SpanContext() trace.SpanContext { return s.spanContext }

func (s *stubSpan) End(...trace.SpanEndOption) {}

func (s *stubTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	span := &stubSpan{spanContext: trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})}

	return trace.ContextWithSpan(ctx, span), span
}

// TestTraceHandler_NoSpanContext verifies that records logged outside a span
// carry no trace_id or span_id fields.
func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "test message", "key", "value")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if _, exists := entry["trace_id"]; exists {
		t.Errorf("trace_id should not be present without span context, got: %v", entry["trace_id"])
	}
	if _, exists := entry["span_id"]; exists {
		t.Errorf("span_id should not be present without span context, got: %v", entry["span_id"])
	}
	if entry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key='value', got: %v", entry["key"])
	}
}

// TestTraceHandler_WithValidSpan verifies that records logged inside a span
// carry the span's ids.
func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	tracer := &stubTracer{}
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	logger.InfoContext(ctx, "test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if entry["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace_id: %v", entry["trace_id"])
	}
	if entry["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("unexpected span_id: %v", entry["span_id"])
	}
}

// TestTraceHandler_Enabled verifies that Enabled delegates to the inner handler.
func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(nil, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelInfo) {
		t.Errorf("expected Info to be disabled when handler level is Warn")
	}
	if !h.Enabled(ctx, slog.LevelWarn) {
		t.Errorf("expected Warn to be enabled")
	}
	if !h.Enabled(ctx, slog.LevelError) {
		t.Errorf("expected Error to be enabled")
	}
}

// TestTraceHandler_WithAttrs verifies attrs survive the wrapping.
func TestTraceHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	wrapped := h.WithAttrs([]slog.Attr{slog.String("component", "fetch")})
	if _, ok := wrapped.(*TraceHandler); !ok {
		t.Fatalf("WithAttrs should return *TraceHandler, got: %T", wrapped)
	}

	slog.New(wrapped).InfoContext(context.Background(), "test")

	if out := buf.String(); !strings.Contains(out, "component") || !strings.Contains(out, "fetch") {
		t.Errorf("expected attributes in output, got: %s", out)
	}
}

// TestTraceHandler_NilHandler verifies the nil-handler guard.
func TestTraceHandler_NilHandler(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("NewTraceHandler with nil handler should panic")
		}
	}()

	NewTraceHandler(nil)
}
