// Package monitor is the operator view over the backend's OTP sessions.
package monitor

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/container"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/identity"
)

const ServiceName = "monitor"

type MonitorModule struct {
	container.BaseModule
}

func NewMonitorModule() *MonitorModule {
	return &MonitorModule{
		BaseModule: container.NewBaseModule(
			"monitor",
			"1.0.0",
			"Admin OTP session monitor",
			[]string{"identity", "audit"},
		),
	}
}

func (m *MonitorModule) RegisterServices(registry *container.ServiceRegistry) error {
	backendClient := registry.GetBackend()
	if backendClient == nil {
		return container.ServiceNotFoundError{ServiceName: "backend"}
	}

	recorder, err := container.Lookup[audit.Recorder](registry, audit.ServiceName)
	if err != nil {
		return err
	}

	cfg := registry.GetConfig()
	service := NewMonitorService(
		backendClient,
		registry.GetMinIO(),
		recorder,
		Options{
			PageSize:      cfg.Monitor.PageSize,
			FetchPageSize: cfg.Monitor.FetchPageSize,
			MaxFetchPages: cfg.Monitor.MaxFetchPages,
		},
		registry.Logger(),
	)

	return registry.RegisterService(ServiceName, service, identity.ServiceName, audit.ServiceName)
}

func (m *MonitorModule) RegisterRoutes(router fiber.Router, registry *container.ServiceRegistry) error {
	service, err := container.Lookup[MonitorService](registry, ServiceName)
	if err != nil {
		return err
	}
	guards, err := container.Guards(registry, container.VisitorGuard, container.AdminGuard)
	if err != nil {
		return err
	}

	handler := NewMonitorHandler(service)

	sessions := router.Group("/admin/otp-sessions", guards...)
	sessions.Get("/", handler.List)
	sessions.Get("/export", handler.Export)
	sessions.Post("/resend", handler.Resend)
	sessions.Get("/:id", handler.Detail)
	sessions.Post("/:id/expire", handler.Expire)

	return nil
}
