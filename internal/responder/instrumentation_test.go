package responder

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ent0n29/mentorai/internal/observability"
)

func TestStrategyFailureIsLoggedOnceTelemetryIsInstalled(t *testing.T) {
	var logs bytes.Buffer
	shutdown, err := observability.InitTelemetry(observability.TelemetryConfig{LogWriter: &logs})
	if err != nil {
		t.Fatalf("InitTelemetry() error = %v", err)
	}
	t.Cleanup(func() {
		global.SetLoggerProvider(lognoop.NewLoggerProvider())
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	})

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelWarn) {
		t.Fatalf("package logger disabled after InitTelemetry")
	}
	res := NewProvider(nil, &failingStrategy{}).GetResponse(ctx, "Explain quantum entanglement")
	if res.Source != SourceLocalFallback {
		t.Fatalf("Source = %q, want local fallback", res.Source)
	}
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if !strings.Contains(logs.String(), "response strategy failed") {
		t.Fatalf("exported logs = %q, want strategy failure warning", logs.String())
	}
}
