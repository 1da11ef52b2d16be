package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const ServiceName = "twivo-media"

type ShutdownFunc func(context.Context) error

type target struct {
	endpoint string
	path     string
	insecure bool
}

// SetupTracing installs a global tracer provider exporting over OTLP/HTTP.
// An empty endpoint leaves the no-op provider in place.
func SetupTracing(ctx context.Context, endpoint string, logger *slog.Logger) (ShutdownFunc, error) {
	if strings.TrimSpace(endpoint) == "" {
		return func(context.Context) error { return nil }, nil
	}
	tgt, err := resolveTarget(endpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(tgt.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if tgt.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if tgt.path != "" && tgt.path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(tgt.path))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	logger.Info("Tracing enabled", "endpoint", tgt.endpoint, "path", tgt.path, "insecure", tgt.insecure)

	return func(ctx context.Context) error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("trace shutdown: %w", err)
		}
		return nil
	}, nil
}

// resolveTarget accepts host[:port] or an http(s) URL.
func resolveTarget(raw string) (target, error) {
	if !strings.Contains(raw, "://") {
		endpoint := raw
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4318")
		}
		return target{endpoint: endpoint, insecure: true}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return target{}, errors.New("telemetry: endpoint has no host")
	}
	tgt := target{
		endpoint: u.Host,
		path:     strings.TrimSuffix(u.Path, "/"),
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		tgt.insecure = true
	case "https":
	default:
		return target{}, fmt.Errorf("telemetry: unsupported scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		port := "4318"
		if !tgt.insecure {
			port = "443"
		}
		tgt.endpoint = net.JoinHostPort(u.Hostname(), port)
	}
	return tgt, nil
}
