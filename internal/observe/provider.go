package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// serviceName is reported as service.name on every metric and span.
const serviceName = "parrot"

// TraceExport selects where finished spans are sent.
type TraceExport string

const (
	// TracesNone records spans for in-process use only.
	TracesNone TraceExport = "none"

	// TracesStdout writes finished spans as JSON lines.
	TracesStdout TraceExport = "stdout"
)

// IsValid reports whether t is a known export. The empty value is treated as
// [TracesNone].
func (t TraceExport) IsValid() bool {
	switch t {
	case "", TracesNone, TracesStdout:
		return true
	}
	return false
}

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// Version is reported as service.version.
	Version string

	// Traces selects the span exporter.
	Traces TraceExport

	// TraceOutput receives [TracesStdout] spans. Default: os.Stdout.
	TraceOutput io.Writer

	// Registerer receives the Prometheus collector that backs /metrics.
	// Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Provider owns the SDK meter and tracer providers and the [Metrics] built
// on them.
type Provider struct {
	// Metrics records into the Prometheus backed meter provider.
	Metrics *Metrics

	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
}

// InitProvider builds the meter and tracer providers for a parrot process
// and registers them as the OpenTelemetry globals. Metrics are exposed
// through a Prometheus collector; spans go where cfg.Traces says.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promExp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	metrics, err := NewMetrics(meters)
	if err != nil {
		_ = meters.Shutdown(ctx)
		return nil, fmt.Errorf("observe: instruments: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch cfg.Traces {
	case "", TracesNone:
	case TracesStdout:
		out := cfg.TraceOutput
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			_ = meters.Shutdown(ctx)
			return nil, fmt.Errorf("observe: stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	default:
		_ = meters.Shutdown(ctx)
		return nil, fmt.Errorf("observe: unknown trace export %q", cfg.Traces)
	}
	tracers := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(meters)
	otel.SetTracerProvider(tracers)
	return &Provider{Metrics: metrics, meters: meters, tracers: tracers}, nil
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracers.Shutdown(ctx), p.meters.Shutdown(ctx))
}
