package container

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/config"
	"github.com/yothgewalt/discount-card-portal-server/package/consul"
	"github.com/yothgewalt/discount-card-portal-server/package/minio"
	"github.com/yothgewalt/discount-card-portal-server/package/mongo"
	"github.com/yothgewalt/discount-card-portal-server/package/redis"
	"github.com/yothgewalt/discount-card-portal-server/package/resend"
	"github.com/yothgewalt/discount-card-portal-server/package/telemetry"
	"github.com/yothgewalt/discount-card-portal-server/package/vault"
)

// Infrastructure is the set of clients the container builds before any
// module runs. Optional clients are nil when their section is disabled.
type Infrastructure struct {
	Config    *config.Config
	Redis     redis.RedisService
	Mongo     *mongo.MongoService
	MinIO     minio.MinIOService
	Resend    resend.ResendService
	Vault     vault.VaultService
	Consul    consul.ConsulService
	Telemetry telemetry.TelemetryService
	Backend   *backend.Client
}

type ServiceRegistry struct {
	logger zerolog.Logger
	mu     sync.RWMutex

	infra Infrastructure

	services     map[string]interface{}
	serviceTypes map[string]reflect.Type
	dependencies map[string][]string
}

type ServiceNotFoundError struct {
	ServiceName string
}

func (e ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service '%s' not found in registry", e.ServiceName)
}

type CircularDependencyError struct {
	ServiceName string
	Chain       []string
}

func (e CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected for service '%s': %v", e.ServiceName, e.Chain)
}

func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		logger:       logger,
		services:     make(map[string]interface{}),
		serviceTypes: make(map[string]reflect.Type),
		dependencies: make(map[string][]string),
	}
}

func (r *ServiceRegistry) RegisterInfrastructure(infra Infrastructure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.infra = infra

	r.logger.Info().
		Bool("mongo", infra.Mongo != nil).
		Bool("minio", infra.MinIO != nil).
		Bool("resend", infra.Resend != nil).
		Bool("vault", infra.Vault != nil).
		Bool("consul", infra.Consul != nil).
		Msg("Infrastructure services registered in service registry")
}

func (r *ServiceRegistry) RegisterService(name string, service interface{}, dependencies ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service '%s' is already registered", name)
	}

	r.services[name] = service
	r.serviceTypes[name] = reflect.TypeOf(service)
	r.dependencies[name] = dependencies

	r.logger.Info().
		Str("service", name).
		Strs("dependencies", dependencies).
		Msg("Service registered in registry")

	return nil
}

func (r *ServiceRegistry) GetService(name string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	service, exists := r.services[name]
	if !exists {
		return nil, ServiceNotFoundError{ServiceName: name}
	}

	return service, nil
}

// Lookup fetches a registered service and asserts it to T.
func Lookup[T any](r *ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := r.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("service '%s' has type %T, want %v", name, service, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

func (r *ServiceRegistry) Logger() zerolog.Logger {
	return r.logger
}

func (r *ServiceRegistry) GetConfig() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Config
}

func (r *ServiceRegistry) GetRedis() redis.RedisService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Redis
}

func (r *ServiceRegistry) GetMongo() *mongo.MongoService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Mongo
}

func (r *ServiceRegistry) GetMinIO() minio.MinIOService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.MinIO
}

func (r *ServiceRegistry) GetResend() resend.ResendService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Resend
}

func (r *ServiceRegistry) GetVault() vault.VaultService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Vault
}

func (r *ServiceRegistry) GetConsul() consul.ConsulService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Consul
}

func (r *ServiceRegistry) GetTelemetry() telemetry.TelemetryService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Telemetry
}

func (r *ServiceRegistry) GetBackend() *backend.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infra.Backend
}

func (r *ServiceRegistry) HasService(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.services[name]
	return exists
}

func (r *ServiceRegistry) ListServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]string, 0, len(r.services))
	for name := range r.services {
		services = append(services, name)
	}
	sort.Strings(services)
	return services
}

func (r *ServiceRegistry) ValidateDependencies() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for serviceName := range r.services {
		if err := r.validateServiceDependencies(serviceName, nil); err != nil {
			return err
		}
	}

	return nil
}

func (r *ServiceRegistry) validateServiceDependencies(serviceName string, chain []string) error {
	for _, visited := range chain {
		if visited == serviceName {
			return CircularDependencyError{
				ServiceName: serviceName,
				Chain:       append(chain, serviceName),
			}
		}
	}

	dependencies, exists := r.dependencies[serviceName]
	if !exists {
		return nil
	}

	next := append(append([]string{}, chain...), serviceName)
	for _, dep := range dependencies {
		if _, registered := r.services[dep]; !registered {
			return ServiceNotFoundError{ServiceName: dep}
		}
		if err := r.validateServiceDependencies(dep, next); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown closes module services that expose Shutdown or Close.
// Infrastructure is closed by the container.
func (r *ServiceRegistry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, service := range r.services {
		var err error
		switch s := service.(type) {
		case interface{ Shutdown() error }:
			err = s.Shutdown()
		case interface{ Close() error }:
			err = s.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown service '%s': %w", name, err))
		}
	}

	r.services = make(map[string]interface{})
	r.serviceTypes = make(map[string]reflect.Type)
	r.dependencies = make(map[string][]string)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %v", len(errs), errs)
	}

	r.logger.Info().Msg("Service registry shutdown completed")
	return nil
}
