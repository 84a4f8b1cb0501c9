// Package bootstrap assembles the portal server from its modules.
package bootstrap

import (
	"github.com/yothgewalt/discount-card-portal-server/internal/container"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/activation"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/identity"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/monitor"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/telemetry"
)

// Modules returns the portal's modules in dependency order.
func Modules() []container.Module {
	return []container.Module{
		telemetry.NewTelemetryModule(),
		audit.NewAuditModule(),
		identity.NewIdentityModule(),
		activation.NewActivationModule(),
		monitor.NewMonitorModule(),
	}
}

// New bootstraps a container with every portal module registered.
func New(opts *container.Options) (*container.Container, error) {
	c := container.New(opts)
	for _, module := range Modules() {
		if err := c.RegisterModule(module); err != nil {
			return nil, err
		}
	}

	if err := c.Bootstrap(); err != nil {
		return nil, err
	}
	return c, nil
}

// Run serves until SIGINT or SIGTERM.
func Run(opts *container.Options) error {
	c, err := New(opts)
	if err != nil {
		return err
	}

	if err := c.Start(); err != nil {
		return err
	}

	c.WaitForShutdown()
	return nil
}
