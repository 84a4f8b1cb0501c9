// Package telemetry exposes the tracing exporter's state next to the
// aggregated /health endpoint.
package telemetry

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/container"
	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
	"github.com/yothgewalt/discount-card-portal-server/package/telemetry"
)

type TelemetryModule struct {
	container.BaseModule
}

func NewTelemetryModule() *TelemetryModule {
	return &TelemetryModule{
		BaseModule: container.NewBaseModule(
			"telemetry",
			"1.0.0",
			"OpenTelemetry exporter status",
			[]string{},
		),
	}
}

func (m *TelemetryModule) RegisterRoutes(router fiber.Router, registry *container.ServiceRegistry) error {
	router.Get("/health/telemetry", healthHandler(registry.GetTelemetry()))
	return nil
}

func healthHandler(telemetryService telemetry.TelemetryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if telemetryService == nil {
			return failure.New(failure.Server, "telemetry service not available")
		}

		health := telemetryService.HealthCheck(c.UserContext())
		if health.Error != "" {
			return failure.Newf(failure.Server, "telemetry exporter unhealthy: %s", health.Error)
		}
		return middleware.OK(c, health)
	}
}
