package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		insecure bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://collector:4318/", "collector:4318", false},
		{"collector:4318", "collector:4318", true},
	}
	for _, tt := range tests {
		host, insecure := endpointHost(tt.endpoint)
		assert.Equal(t, tt.host, host, tt.endpoint)
		assert.Equal(t, tt.insecure, insecure, tt.endpoint)
	}
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Options{
		Version:           "1.2.3",
		UpstreamURL:       "http://127.0.0.1:4096",
		UpstreamDirectory: "/work/repo",
	})
	set := attribute.NewSet(attrs...)

	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "portal", name.AsString())
	version, ok := set.Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", version.AsString())
	dir, ok := set.Value(UpstreamDirectoryKey)
	require.True(t, ok)
	assert.Equal(t, "/work/repo", dir.AsString())

	bare := attribute.NewSet(resourceAttributes(Options{ServiceName: "portal-dev"})...)
	assert.Equal(t, 1, bare.Len())
}

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	enabled, err := Init(context.Background(), Options{ServiceName: "portal"})
	require.NoError(t, err)
	assert.False(t, enabled)

	_, span := Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, Shutdown(context.Background()))
}

func TestInit_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so no collector is needed to build it.
	enabled, err := Init(context.Background(), Options{Endpoint: "http://127.0.0.1:1", SampleRatio: 1})
	require.NoError(t, err)
	assert.True(t, enabled)

	_, span := Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = Shutdown(ctx)
	assert.NoError(t, Shutdown(context.Background()), "second shutdown is a no-op")
}
