package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/package/telemetry"
)

type headerCarrier struct {
	ctx *fiber.Ctx
}

func (h *headerCarrier) Get(key string) string {
	return h.ctx.Get(key)
}

func (h *headerCarrier) Set(key, value string) {
	h.ctx.Set(key, value)
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, 0)
	for k := range h.ctx.Request().Header.All() {
		keys = append(keys, string(k))
	}
	return keys
}

// NewTracingMiddleware opens a server span per request and stores it in the
// user context so backend calls become its children. Paths listed in skip
// are not traced.
func NewTracingMiddleware(telemetryService telemetry.TelemetryService, skip ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if telemetryService == nil || !telemetryService.IsEnabled() {
			return c.Next()
		}
		for _, prefix := range skip {
			if strings.HasPrefix(c.Path(), prefix) {
				return c.Next()
			}
		}

		propagator := telemetryService.GetTextMapPropagator()
		carrier := &headerCarrier{ctx: c}
		ctx := propagator.Extract(c.UserContext(), carrier)

		ctx, span := telemetryService.GetTracer("portal-http").Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.SetUserContext(ctx)
		telemetry.AddSpanAttributes(span, map[string]any{
			"http.method":      c.Method(),
			"http.target":      c.Path(),
			"http.user_agent":  c.Get(fiber.HeaderUserAgent),
			"http.remote_addr": c.IP(),
		})

		err := c.Next()

		// the matched route is only known once the router ran
		if route := c.Route(); route != nil && route.Path != "" && route.Path != "/" {
			span.SetName(c.Method() + " " + route.Path)
			span.SetAttributes(attribute.String("http.route", route.Path))
		}

		status := c.Response().StatusCode()
		if err != nil {
			kind := failure.KindOf(err)
			status = failure.HTTPStatus(kind, false)
			span.SetAttributes(attribute.String("portal.failure_kind", string(kind)))
			telemetry.RecordError(span, err)
		} else if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))

		c.Set("X-Trace-ID", span.SpanContext().TraceID().String())
		propagator.Inject(ctx, carrier)

		return err
	}
}
