package tracing

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"otlp grpc", func(c *Config) { c.Exporter = ExporterOTLPGRPC }, true},
		{"missing service", func(c *Config) { c.ServiceName = "" }, false},
		{"rate too high", func(c *Config) { c.SamplingRate = 1.5 }, false},
		{"unknown exporter", func(c *Config) { c.Exporter = "zipkin" }, false},
		{"unknown sampler", func(c *Config) { c.SamplingType = "sometimes" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestStdoutProvider(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.SamplingType = SamplingAlways
	p, err := NewWithWriter(context.Background(), cfg, &buf)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "ws.upgrade")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "ws.upgrade")
	assert.Contains(t, buf.String(), "qiws")
	assert.Same(t, cfg, p.Config())
}

func TestDisabledProviderExportsNothing(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = false
	p, err := NewWithWriter(context.Background(), cfg, &buf)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestSampler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingType = SamplingNever
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(cfg).Description())

	t.Setenv("OTEL_TRACES_SAMPLER", "traceidratio")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), newSampler(cfg).Description())

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "oops")
	assert.Equal(t, sdktrace.TraceIDRatioBased(1).Description(), newSampler(cfg).Description())
}

func TestMiddlewareContinuesUpstreamTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var inner trace.SpanContext
	r := gin.New()
	r.Use(Middleware(tp, WithFilter(func(c *gin.Context) bool {
		return c.Request.URL.Path != "/healthz"
	})))
	r.GET("/rooms/:id", func(c *gin.Context) {
		inner = trace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/rooms/7", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /rooms/7", spans[0].Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
	assert.Equal(t, spans[0].SpanContext().SpanID(), inner.SpanID())

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(http.StatusNoContent), attrs["http.response.status_code"])
	assert.Equal(t, "/rooms/:id", attrs["http.route"])
}
