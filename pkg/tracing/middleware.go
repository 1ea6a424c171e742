package tracing

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tokmz/qiws/pkg/tracing"

type middlewareConfig struct {
	propagator propagation.TextMapPropagator
	filter     func(*gin.Context) bool
}

// MiddlewareOption 中间件选项
type MiddlewareOption func(*middlewareConfig)

// WithPropagator 设置 Propagator，默认 W3C TraceContext + Baggage
func WithPropagator(p propagation.TextMapPropagator) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.propagator = p
	}
}

// WithFilter 返回 false 的请求不追踪（如健康检查）
func WithFilter(fn func(*gin.Context) bool) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.filter = fn
	}
}

// Middleware 提取上游 TraceContext 并创建服务端 Span
//
// WebSocket 升级请求的 ws.upgrade Span 会成为该 Span 的子 Span。
func Middleware(tp trace.TracerProvider, opts ...MiddlewareOption) gin.HandlerFunc {
	cfg := &middlewareConfig{
		propagator: Propagator(),
		filter:     func(*gin.Context) bool { return true },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	tracer := tp.Tracer(tracerName)

	return func(c *gin.Context) {
		if !cfg.filter(c) {
			c.Next()
			return
		}

		req := c.Request
		ctx := cfg.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.URLPath(req.URL.Path),
				semconv.ServerAddress(req.Host),
				semconv.UserAgentOriginal(req.UserAgent()),
				attribute.String("http.client_ip", c.ClientIP()),
			),
		)
		defer span.End()

		c.Request = req.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if route := c.FullPath(); route != "" {
			span.SetAttributes(semconv.HTTPRoute(route))
		}
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
