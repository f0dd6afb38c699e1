package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestInitTelemetryExportsLogsAndSpans(t *testing.T) {
	var logs, spans bytes.Buffer
	shutdown, err := InitTelemetry(TelemetryConfig{ServiceName: "mentorai-test", LogWriter: &logs, TraceWriter: &spans})
	if err != nil {
		t.Fatalf("InitTelemetry() error = %v", err)
	}
	t.Cleanup(func() {
		global.SetLoggerProvider(lognoop.NewLoggerProvider())
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	})

	ctx := context.Background()
	logger := otelslog.NewLogger("github.com/ent0n29/mentorai/internal/conversation")
	if !logger.Enabled(ctx, slog.LevelWarn) {
		t.Fatalf("logger.Enabled(warn) = false, want records to reach the provider")
	}
	logger.WarnContext(ctx, "capture failed", "session_id", "s1")

	_, span := otel.Tracer("test").Start(ctx, "resolve remote response")
	if !span.SpanContext().IsValid() {
		t.Fatalf("span context invalid, want a recording tracer provider")
	}
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if !strings.Contains(logs.String(), "capture failed") {
		t.Fatalf("exported logs = %q, want the warning record", logs.String())
	}
	if !strings.Contains(spans.String(), "resolve remote response") {
		t.Fatalf("exported spans = %q, want the span", spans.String())
	}
}
