// Package identity owns the visitor session: the cookie that names it, the
// backend tokens it carries and the admin login with its lockout.
package identity

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/container"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
)

const ServiceName = "identity"

type IdentityModule struct {
	container.BaseModule
	guard *SessionGuard
}

func NewIdentityModule() *IdentityModule {
	base := container.NewBaseModule(
		"identity",
		"1.0.0",
		"Visitor sessions, scoped backend credentials and admin login",
		[]string{"audit"},
	)

	return &IdentityModule{BaseModule: base}
}

func (m *IdentityModule) RegisterServices(registry *container.ServiceRegistry) error {
	redisService := registry.GetRedis()
	if redisService == nil {
		return container.ServiceNotFoundError{ServiceName: "redis"}
	}

	backendClient := registry.GetBackend()
	if backendClient == nil {
		return container.ServiceNotFoundError{ServiceName: "backend"}
	}

	recorder, err := container.Lookup[audit.Recorder](registry, audit.ServiceName)
	if err != nil {
		return err
	}

	cfg := registry.GetConfig()
	service := NewIdentityService(
		NewVisitorStore(redisService, cfg.Visitor.TTL),
		NewLockout(redisService, cfg.AdminAuth),
		backendClient,
		recorder,
		registry.Logger(),
	)
	m.guard = NewSessionGuard(service, cfg.Visitor)

	if err := registry.RegisterService(ServiceName, service, audit.ServiceName); err != nil {
		return err
	}
	if err := registry.RegisterService(container.VisitorGuard, m.guard.Attach(), ServiceName); err != nil {
		return err
	}
	return registry.RegisterService(container.AdminGuard, m.guard.RequireAdmin(), ServiceName)
}

func (m *IdentityModule) RegisterRoutes(router fiber.Router, registry *container.ServiceRegistry) error {
	service, err := container.Lookup[IdentityService](registry, ServiceName)
	if err != nil {
		return err
	}

	handler := NewIdentityHandler(service, m.guard)

	session := router.Group("/session", m.guard.Attach())
	session.Get("/", handler.GetSession)
	session.Post("/", handler.SetAccessToken)
	session.Delete("/", handler.EndSession)

	admin := router.Group("/admin", m.guard.Attach())
	admin.Post("/login", handler.AdminLogin)
	admin.Post("/logout", m.guard.RequireAdmin(), handler.AdminLogout)

	return nil
}
