package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig configures the OpenTelemetry log and trace providers.
type TelemetryConfig struct {
	ServiceName string
	// LogWriter receives exported log records. Defaults to stdout.
	LogWriter io.Writer
	// TraceWriter receives exported spans. When nil, spans are recorded and
	// propagated but not exported.
	TraceWriter io.Writer
}

// InitTelemetry registers global logger and tracer providers so that the
// otelslog loggers and otel tracers used across the service emit records.
// The returned shutdown flushes and closes both providers.
func InitTelemetry(cfg TelemetryConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mentorai"
	}
	if cfg.LogWriter == nil {
		cfg.LogWriter = os.Stdout
	}
	res := resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName))

	logExp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter))
	if err != nil {
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceWriter != nil {
		traceExp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.TraceWriter))
		if err != nil {
			_ = lp.Shutdown(context.Background())
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(traceExp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	global.SetLoggerProvider(lp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), lp.Shutdown(ctx))
	}, nil
}
