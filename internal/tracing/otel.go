// Package tracing installs the OTel tracer provider shared by the HTTP
// middleware and the upstream client. Until Init runs with an endpoint,
// spans are no-ops.
package tracing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Resource attribute keys describing the agent server portal fronts.
const (
	UpstreamURLKey       = attribute.Key("portal.upstream.url")
	UpstreamDirectoryKey = attribute.Key("portal.upstream.directory")
)

// Options describes the exporter and the service resource.
type Options struct {
	// Endpoint is the OTLP/HTTP collector, with or without scheme. Empty
	// leaves tracing disabled.
	Endpoint    string
	ServiceName string
	Version     string
	// SampleRatio applies to root spans; children follow their parent.
	SampleRatio       float64
	UpstreamURL       string
	UpstreamDirectory string
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Init installs the global tracer provider. It reports whether export is
// enabled. Calling it again replaces the previous provider.
func Init(ctx context.Context, opts Options) (bool, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return false, nil
	}

	host, insecure := endpointHost(opts.Endpoint)
	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
	if insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return false, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, resourceAttributes(opts)...))
	if err != nil {
		res = resource.NewSchemaless(resourceAttributes(opts)...)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)

	mu.Lock()
	previous := provider
	provider = tp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if previous != nil {
		_ = previous.Shutdown(ctx)
	}
	return true, nil
}

func resourceAttributes(opts Options) []attribute.KeyValue {
	name := opts.ServiceName
	if name == "" {
		name = "portal"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if opts.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(opts.Version))
	}
	if opts.UpstreamURL != "" {
		attrs = append(attrs, UpstreamURLKey.String(opts.UpstreamURL))
	}
	if opts.UpstreamDirectory != "" {
		attrs = append(attrs, UpstreamDirectoryKey.String(opts.UpstreamDirectory))
	}
	return attrs
}

// endpointHost strips the scheme for otlptracehttp and reports whether the
// collector is plain HTTP. A bare host:port is treated as plain HTTP.
func endpointHost(endpoint string) (string, bool) {
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return strings.TrimSuffix(rest, "/"), false
	}
	rest, _ := strings.CutPrefix(endpoint, "http://")
	return strings.TrimSuffix(rest, "/"), true
}

// Tracer returns a named tracer from the global provider. Tracers taken
// before Init start exporting once it runs.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes pending spans and stops the provider installed by Init.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
