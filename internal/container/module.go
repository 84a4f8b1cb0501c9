package container

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type ModuleInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
}

// Module is one feature of the portal. Services are registered for every
// module before any module mounts its routes.
type Module interface {
	Info() ModuleInfo
	RegisterServices(registry *ServiceRegistry) error
	RegisterRoutes(router fiber.Router, registry *ServiceRegistry) error
}

type BaseModule struct {
	info ModuleInfo
}

func NewBaseModule(name, version, description string, dependencies []string) BaseModule {
	return BaseModule{
		info: ModuleInfo{
			Name:         name,
			Version:      version,
			Description:  description,
			Dependencies: dependencies,
		},
	}
}

func (m BaseModule) Info() ModuleInfo {
	return m.info
}

func (m BaseModule) RegisterServices(*ServiceRegistry) error {
	return nil
}

func (m BaseModule) RegisterRoutes(fiber.Router, *ServiceRegistry) error {
	return nil
}

// ModuleManager keeps modules in registration order. A module may only
// depend on modules registered before it.
type ModuleManager struct {
	modules  []Module
	names    map[string]struct{}
	registry *ServiceRegistry
	logger   zerolog.Logger
}

func NewModuleManager(registry *ServiceRegistry, logger zerolog.Logger) *ModuleManager {
	return &ModuleManager{
		names:    make(map[string]struct{}),
		registry: registry,
		logger:   logger.With().Str("component", "modules").Logger(),
	}
}

func (mm *ModuleManager) RegisterModule(module Module) error {
	info := module.Info()
	if _, taken := mm.names[info.Name]; taken {
		return fmt.Errorf("module %s registered twice", info.Name)
	}
	for _, dep := range info.Dependencies {
		if _, ok := mm.names[dep]; !ok {
			return ServiceNotFoundError{ServiceName: dep}
		}
	}

	mm.modules = append(mm.modules, module)
	mm.names[info.Name] = struct{}{}

	mm.logger.Info().Str("module", info.Name).Str("version", info.Version).Msg("Module registered")
	return nil
}

// InitializeServices runs every module's service phase and then checks the
// registry's dependency graph.
func (mm *ModuleManager) InitializeServices() error {
	err := mm.each("services", func(m Module) error {
		return m.RegisterServices(mm.registry)
	})
	if err != nil {
		return err
	}
	return mm.registry.ValidateDependencies()
}

func (mm *ModuleManager) InitializeRoutes(router fiber.Router) error {
	return mm.each("routes", func(m Module) error {
		return m.RegisterRoutes(router, mm.registry)
	})
}

func (mm *ModuleManager) each(phase string, fn func(Module) error) error {
	for _, module := range mm.modules {
		name := module.Info().Name
		if err := fn(module); err != nil {
			return fmt.Errorf("module %s %s: %w", name, phase, err)
		}
		mm.logger.Debug().Str("module", name).Str("phase", phase).Msg("Module initialized")
	}
	return nil
}

func (mm *ModuleManager) GetModuleInfo() []ModuleInfo {
	info := make([]ModuleInfo, len(mm.modules))
	for i, module := range mm.modules {
		info[i] = module.Info()
	}
	return info
}

// Registry names of the request guards the identity module publishes for
// other modules' route groups.
const (
	VisitorGuard = "guard.visitor"
	AdminGuard   = "guard.admin"
)

// Guards returns the named fiber handlers from the registry in order.
func Guards(registry *ServiceRegistry, names ...string) ([]fiber.Handler, error) {
	handlers := make([]fiber.Handler, 0, len(names))
	for _, name := range names {
		handler, err := Lookup[fiber.Handler](registry, name)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, handler)
	}
	return handlers, nil
}
