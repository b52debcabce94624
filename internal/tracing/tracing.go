// Package tracing sets up the OpenTelemetry tracer provider and offers small
// span helpers for the search path and its repositories.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Supported exporters.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// ServiceVersion is reported as service.version on every span.
const ServiceVersion = "0.1.0"

var (
	ErrMissingServiceName  = errors.New("tracing: service name is required")
	ErrInvalidSampleRate   = errors.New("tracing: sample rate must be within [0, 1]")
	ErrUnsupportedExporter = errors.New("tracing: unsupported exporter")
)

// Config controls span export.
type Config struct {
	Enabled     bool
	ServiceName string
	Environment string
	// Exporter is ExporterOTLPHTTP (default) or ExporterOTLPGRPC.
	Exporter string
	// Endpoint is host:port or a full URL of the collector; empty uses the
	// exporter default.
	Endpoint string
	// SampleRate is the fraction of root spans kept.
	SampleRate float64
	// Insecure disables TLS towards the collector.
	Insecure bool
}

// Validate reports the first problem with an enabled config.
// A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidSampleRate, c.SampleRate)
	}
	switch c.Exporter {
	case "", ExporterOTLPHTTP, ExporterOTLPGRPC:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedExporter, c.Exporter)
	}
	return nil
}

// Provider owns the SDK tracer provider when tracing is enabled.
type Provider struct {
	tp      *sdktrace.TracerProvider
	enabled bool
}

// NewProvider installs a global tracer provider and W3C propagator.
// When cfg.Enabled is false it returns a no-op Provider.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return &Provider{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", exporterName(cfg), err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		"service", cfg.ServiceName,
		"exporter", exporterName(cfg),
		"endpoint", cfg.Endpoint,
		"sample_rate", cfg.SampleRate,
	)
	return &Provider{tp: tp, enabled: true}, nil
}

func exporterName(cfg Config) string {
	if cfg.Exporter == "" {
		return ExporterOTLPHTTP
	}
	return cfg.Exporter
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.Exporter == ExporterOTLPGRPC {
		var opts []otlptracegrpc.Option
		switch {
		case strings.Contains(cfg.Endpoint, "://"):
			opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.Endpoint))
		case cfg.Endpoint != "":
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}

	var opts []otlptracehttp.Option
	switch {
	case strings.Contains(cfg.Endpoint, "://"):
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	case cfg.Endpoint != "":
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.enabled
}

// Tracer returns a named tracer from this provider, or the global one when disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
