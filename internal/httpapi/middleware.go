package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

// metricsMiddleware records airlock_http_request_duration_seconds per
// route/method/status, the same request-scoped timing pattern
// HandleMetrics uses, against this module's own metrics registrations
// instead of package-local prometheus vars.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestDuration.WithLabelValues(route, c.Request.Method, status).Observe(time.Since(start).Seconds())
	}
}

// tracingMiddleware starts one server span per request, the trimmed-down
// gin/otel wiring HandleTracing performs (propagator extraction, HTTP
// semconv attributes, status-to-span-status mapping) without the
// per-route sampling-rate override that middleware also supports.
func tracingMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("airlock/httpapi")
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		operation := c.Request.Method + " " + c.FullPath()
		ctx, span := tracer.Start(ctx, operation, oteltrace.WithSpanKind(oteltrace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			semconv.HTTPMethod(c.Request.Method),
			semconv.HTTPURL(c.Request.URL.String()),
			semconv.HTTPRoute(operation),
			attribute.String("component", "gin-http"),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		if status >= 400 {
			span.SetStatus(codes.Error, "HTTP error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// loggingMiddleware logs one structured line per request, the klog
// equivalent of HandleLogging's method/path/status/duration summary.
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		klog.InfoS("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		)
	}
}
