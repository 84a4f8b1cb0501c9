package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/package/telemetry"
)

func tracedApp(t *testing.T) (*fiber.App, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	client, err := telemetry.NewWithExporter(telemetry.TelemetryConfig{ServiceName: "portal-test"}, exporter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })

	app := newApp(nil)
	app.Use(NewTracingMiddleware(client, "/health"))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/items/:id", func(c *fiber.Ctx) error {
		if c.Params("id") == "missing" {
			return failure.Missing("Item not found.")
		}
		return OK(c, fiber.Map{"id": c.Params("id")})
	})
	return app, exporter
}

func attr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_NamesSpanAfterRoute(t *testing.T) {
	app, exporter := tracedApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get("X-Trace-ID"), 32)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /items/:id", spans[0].Name)
	assert.Equal(t, resp.Header.Get("X-Trace-ID"), spans[0].SpanContext.TraceID().String())

	route, ok := attr(spans[0].Attributes, "http.route")
	require.True(t, ok)
	assert.Equal(t, "/items/:id", route.AsString())
}

func TestTracing_RecordsFailureKind(t *testing.T) {
	app, exporter := tracedApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	kind, ok := attr(spans[0].Attributes, "portal.failure_kind")
	require.True(t, ok)
	assert.Equal(t, "not_found", kind.AsString())

	status, ok := attr(spans[0].Attributes, "http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusNotFound), status.AsInt64())
}

func TestTracing_SkipsHealth(t *testing.T) {
	app, exporter := tracedApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Trace-ID"))
	assert.Empty(t, exporter.GetSpans())
}

func TestTracing_DisabledPassesThrough(t *testing.T) {
	app := newApp(nil)
	app.Use(NewTracingMiddleware(nil))
	app.Get("/", func(c *fiber.Ctx) error { return OK(c, "ok") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Trace-ID"))
}
