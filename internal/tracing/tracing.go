// Package tracing installs the OpenTelemetry tracer provider used by the
// multiprocessing proxy's spans.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Config struct {
	Enabled bool
	// Output is a file path; empty writes to stdout.
	Output  string
	Service string
	Version string
	Node    int
}

// Shutdown flushes and stops the provider.
type Shutdown func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Setup installs a stdout (or file) exporter as the global provider. When
// tracing is disabled the global no-op provider is left in place.
func Setup(cfg Config) (Shutdown, error) {
	if !cfg.Enabled {
		return noop, nil
	}
	var (
		w io.Writer = os.Stdout
		f *os.File
	)
	if cfg.Output != "" {
		var err error
		if f, err = os.Create(cfg.Output); err != nil {
			return noop, err
		}
		w = f
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return noop, err
	}
	shutdown, err := SetupWithExporter(cfg, exp, sdktrace.NewBatchSpanProcessor(exp))
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return noop, err
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if f != nil {
			err = errors.Join(err, f.Close())
		}
		return err
	}, nil
}

// SetupWithExporter installs exp behind proc (a simple processor when nil).
func SetupWithExporter(cfg Config, exp sdktrace.SpanExporter, proc sdktrace.SpanProcessor) (Shutdown, error) {
	if exp == nil {
		return noop, nil
	}
	if proc == nil {
		proc = sdktrace.NewSimpleSpanProcessor(exp)
	}
	name := cfg.Service
	if name == "" {
		name = "taskcore"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", name),
			attribute.String("service.version", cfg.Version),
			attribute.Int("taskcore.node", cfg.Node),
		),
	)
	if err != nil {
		return noop, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(proc),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
