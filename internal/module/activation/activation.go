// Package activation runs the card activation workflow: sending a one-time
// code, collecting it digit by digit, and checking it with the backend.
package activation

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/container"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/identity"
)

const (
	ServiceName = "activation"

	// lockGrace keeps the submission lock a little past the backend timeout.
	lockGrace = 5 * time.Second
)

type ActivationModule struct {
	container.BaseModule
}

func NewActivationModule() *ActivationModule {
	return &ActivationModule{
		BaseModule: container.NewBaseModule(
			"activation",
			"1.0.0",
			"Card activation with one-time codes",
			[]string{"identity"},
		),
	}
}

func (m *ActivationModule) RegisterServices(registry *container.ServiceRegistry) error {
	redisService := registry.GetRedis()
	if redisService == nil {
		return container.ServiceNotFoundError{ServiceName: "redis"}
	}

	backendClient := registry.GetBackend()
	if backendClient == nil {
		return container.ServiceNotFoundError{ServiceName: "backend"}
	}

	identityService, err := container.Lookup[identity.IdentityService](registry, identity.ServiceName)
	if err != nil {
		return err
	}

	cfg := registry.GetConfig()
	service := NewActivationService(
		NewFlowStore(redisService, cfg.Activation.FlowSlack),
		backendClient,
		registry.GetResend(),
		Options{
			DigitCount: cfg.Activation.DigitCount,
			TimerSeed:  cfg.Activation.TimerSeed,
			CardWindow: cfg.Activation.CardWindow,
			LockTTL:    cfg.Backend.Timeout + lockGrace,
			FromEmail:  cfg.Resend.FromEmail,
		},
		registry.Logger(),
	)

	identityService.OnEnd(func(ctx context.Context, visitorID string) {
		service.EndVisitor(ctx, visitorID)
	})

	return registry.RegisterService(ServiceName, service, identity.ServiceName)
}

func (m *ActivationModule) RegisterRoutes(router fiber.Router, registry *container.ServiceRegistry) error {
	service, err := container.Lookup[ActivationService](registry, ServiceName)
	if err != nil {
		return err
	}
	guards, err := container.Guards(registry, container.VisitorGuard)
	if err != nil {
		return err
	}

	handler := NewActivationHandler(service)

	activations := router.Group("/activations", guards...)
	activations.Post("/", handler.Initiate)
	activations.Get("/:id", handler.Get)
	activations.Post("/:id/input", handler.Input)
	activations.Post("/:id/backspace", handler.Backspace)
	activations.Put("/:id/code", handler.Fill)
	activations.Post("/:id/verify", handler.Verify)
	activations.Post("/:id/resend", handler.Resend)
	activations.Delete("/:id", handler.Close)
	activations.Get("/:id/card", handler.Card)

	return nil
}
