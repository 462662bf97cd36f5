// Package tracing wires the global OpenTelemetry tracer provider. When it
// is never initialized, instrumented code gets the no-op tracer and pays
// nothing.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

// Init installs a stdout span exporter and returns the shutdown hook that
// flushes buffered spans. Swap the exporter for OTLP when a collector
// exists; everything else stays the same.
func Init(serviceName string, pretty bool, log logx.Logger) (func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "dispatcherd"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(os.Stdout)}
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing initialized", logx.String("service", serviceName))
	return tp.Shutdown, nil
}
