package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/config"
	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
	"github.com/yothgewalt/discount-card-portal-server/package/consul"
	"github.com/yothgewalt/discount-card-portal-server/package/log"
	"github.com/yothgewalt/discount-card-portal-server/package/minio"
	"github.com/yothgewalt/discount-card-portal-server/package/mongo"
	"github.com/yothgewalt/discount-card-portal-server/package/redis"
	"github.com/yothgewalt/discount-card-portal-server/package/resend"
	"github.com/yothgewalt/discount-card-portal-server/package/telemetry"
	"github.com/yothgewalt/discount-card-portal-server/package/vault"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type ServiceHealth struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
	Uptime   time.Duration   `json:"uptime"`
}

// probe checks one dependency. Required dependencies make the whole
// service unhealthy when they fail; optional ones only degrade it.
type probe struct {
	name     string
	required bool
	check    func(ctx context.Context) error
}

type Container struct {
	config *config.Config
	logger zerolog.Logger
	opts   Options

	infra    Infrastructure
	registry *ServiceRegistry
	modules  *ModuleManager
	pending  []Module
	probes   []probe
	app      *fiber.App

	startTime time.Time
	mu        sync.RWMutex
	running   bool

	shutdownFuncs []func() error
	ctx           context.Context
	cancel        context.CancelFunc
}

type Options struct {
	Timezone string
	// Logger replaces the logger built from LOG_LEVEL and LOG_FORMAT.
	Logger *zerolog.Logger
	// Config skips loading configuration from the environment.
	Config *config.Config
	// Redis replaces the client built from the Redis section.
	Redis redis.RedisService
}

func New(opts *Options) *Container {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		opts:          *opts,
		startTime:     time.Now(),
		shutdownFuncs: make([]func() error, 0),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// RegisterModule queues module for Bootstrap. Modules must be registered
// after the modules they depend on.
func (c *Container) RegisterModule(module Module) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cannot register module %q after bootstrap", module.Info().Name)
	}
	c.pending = append(c.pending, module)
	return nil
}

func (c *Container) Bootstrap() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("container is already running")
	}

	if err := c.initializeTimezone(); err != nil {
		return fmt.Errorf("failed to initialize timezone: %w", err)
	}

	if err := c.initializeConfig(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	c.initializeLogging()
	c.logger.Info().Str("app", c.config.Server.AppName).Str("env", c.config.Server.Environment).Msg("Starting application bootstrap...")

	if err := c.initializeVault(); err != nil {
		c.logger.Warn().Err(err).Msg("Vault initialization failed, continuing with environment variable configuration")
	}

	if err := c.initializeConsul(); err != nil {
		c.logger.Warn().Err(err).Msg("Consul initialization failed, backend discovery will not be available")
	}

	if err := c.initializeRedis(); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := c.initializeMongoDB(); err != nil {
		c.logger.Warn().Err(err).Msg("MongoDB initialization failed, audit records will go to the log")
	}

	if err := c.initializeMinIO(); err != nil {
		c.logger.Warn().Err(err).Msg("MinIO initialization failed, exports will not be archived")
	}

	if err := c.initializeResend(); err != nil {
		c.logger.Warn().Err(err).Msg("Resend initialization failed, confirmation emails will not be sent")
	}

	if err := c.initializeTelemetry(); err != nil {
		c.logger.Warn().Err(err).Msg("Telemetry initialization failed, tracing disabled")
	}

	if err := c.initializeBackend(); err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	c.infra.Config = c.config
	c.registry = NewServiceRegistry(c.logger)
	c.registry.RegisterInfrastructure(c.infra)

	if err := c.initializeModules(); err != nil {
		return fmt.Errorf("failed to initialize modules: %w", err)
	}

	c.running = true
	c.logger.Info().Strs("services", c.registry.ListServices()).Msg("Application bootstrap completed successfully")

	return nil
}

func (c *Container) initializeTimezone() error {
	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = c.opts.Timezone
	}
	if timezone == "" {
		timezone = "UTC"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", timezone, err)
	}

	time.Local = location
	return nil
}

func (c *Container) initializeConfig() error {
	if c.opts.Config != nil {
		c.config = c.opts.Config
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	c.config = cfg
	return nil
}

func (c *Container) initializeLogging() {
	if c.opts.Logger != nil {
		c.logger = *c.opts.Logger
		return
	}

	format := c.config.Logging.Format
	level, ok := log.ParseLevel(c.config.Logging.Level)
	if !ok {
		level = zerolog.InfoLevel
	}
	c.logger = log.NewWithWriter(os.Stderr, format, level)
}

func (c *Container) initializeVault() error {
	vaultConfig := c.config.Vault
	if !vaultConfig.Enabled || vaultConfig.Address == "" || vaultConfig.Token == "" {
		c.logger.Info().Msg("Vault configuration not provided, skipping Vault initialization")
		return nil
	}

	client, err := vault.NewVaultClient(vault.VaultConfig{
		Address: vaultConfig.Address,
		Token:   vaultConfig.Token,
	})
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	health := client.HealthCheck(ctx)
	if !health.Connected {
		_ = client.Close()
		return fmt.Errorf("vault health check failed: %s", health.Error)
	}

	if err := c.config.LoadWithVault(ctx, client); err != nil {
		c.logger.Warn().Err(err).Str("path", vaultConfig.SecretPath).Msg("Failed to overlay Vault secrets, continuing with env vars")
	} else {
		c.logger.Info().Str("path", vaultConfig.SecretPath).Msg("Config overlaid with Vault secrets")
	}

	c.infra.Vault = client
	c.addShutdownFunc(client.Close)
	c.addProbe("vault", false, func(ctx context.Context) error {
		if h := client.HealthCheck(ctx); !h.Connected {
			return errors.New(h.Error)
		}
		return nil
	})

	c.logger.Info().
		Str("address", vaultConfig.Address).
		Bool("authenticated", health.Authenticated).
		Msg("Vault connection established")

	return nil
}

func (c *Container) initializeConsul() error {
	consulConfig := c.config.Consul
	if !consulConfig.Enabled {
		c.logger.Info().Msg("Consul disabled, skipping Consul initialization")
		return nil
	}

	client, err := consul.NewConsulClient(consul.ConsulConfig{
		Address:    consulConfig.Address,
		Token:      consulConfig.Token,
		Datacenter: consulConfig.Datacenter,
	})
	if err != nil {
		return fmt.Errorf("failed to create Consul client: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	health := client.HealthCheck(ctx)
	if !health.Connected {
		_ = client.Close()
		return fmt.Errorf("consul health check failed: %s", health.Error)
	}

	c.infra.Consul = client
	c.addShutdownFunc(client.Close)
	c.addProbe("consul", false, func(ctx context.Context) error {
		if h := client.HealthCheck(ctx); !h.Connected {
			return errors.New(h.Error)
		}
		return nil
	})

	c.logger.Info().
		Str("address", consulConfig.Address).
		Str("leader", health.Leader).
		Dur("latency", health.Latency).
		Msg("Consul connection established")

	return nil
}

func (c *Container) initializeRedis() error {
	client := c.opts.Redis
	if client == nil {
		redisConfig := redis.RedisConfig{
			Address:  c.config.Redis.Address,
			Password: c.config.Redis.Password,
			Database: c.config.Redis.Database,
		}

		c.logger.Info().
			Str("address", redisConfig.Address).
			Int("database", redisConfig.Database).
			Msg("Attempting Redis connection")

		created, err := redis.NewRedisService(redisConfig)
		if err != nil {
			return fmt.Errorf("failed to create Redis client: %w", err)
		}
		client = created
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	health := client.HealthCheck(ctx)
	if !health.Connected {
		_ = client.Close()
		c.logger.Error().
			Str("error", health.Error).
			Str("address", health.Address).
			Msg("Redis health check failed")
		return fmt.Errorf("redis health check failed: %s", health.Error)
	}

	c.infra.Redis = client
	c.addShutdownFunc(client.Close)
	c.addProbe("redis", true, client.Ping)

	c.logger.Info().
		Str("address", health.Address).
		Int("database", health.Database).
		Int64("keys", health.Keys).
		Dur("latency", health.Latency).
		Msg("Redis connection established")

	return nil
}

func (c *Container) initializeMongoDB() error {
	mongoConfig := c.config.MongoDB
	if !mongoConfig.Enabled {
		c.logger.Info().Msg("MongoDB disabled, skipping MongoDB initialization")
		return nil
	}

	c.logger.Info().
		Str("address", mongoConfig.Address).
		Str("database", mongoConfig.Database).
		Msg("Attempting MongoDB connection")

	client, err := mongo.NewMongoService(mongo.MongoConfig{
		Address:  mongoConfig.Address,
		Username: mongoConfig.Username,
		Password: mongoConfig.Password,
		Database: mongoConfig.Database,
	})
	if err != nil {
		return fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	health := client.HealthCheck(ctx)
	if !health.Connected {
		_ = client.Close(context.Background())
		return fmt.Errorf("MongoDB health check failed: %s", health.Error)
	}

	c.infra.Mongo = client
	c.addShutdownFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.Close(ctx)
	})
	c.addProbe("mongodb", false, func(ctx context.Context) error {
		if h := client.HealthCheck(ctx); !h.Connected {
			return errors.New(h.Error)
		}
		return nil
	})

	c.logger.Info().
		Str("database", health.Database).
		Dur("latency", health.Latency).
		Msg("MongoDB connection established")

	return nil
}

func (c *Container) initializeMinIO() error {
	minioConfig := c.config.MinIO
	if !minioConfig.Enabled {
		c.logger.Info().Msg("MinIO disabled, skipping MinIO initialization")
		return nil
	}

	client, err := minio.NewMinIOService(minio.MinIOConfig{
		Endpoint:        minioConfig.Endpoint,
		AccessKeyID:     minioConfig.AccessKey,
		SecretAccessKey: minioConfig.SecretKey,
		UseSSL:          minioConfig.UseSSL,
		BucketName:      minioConfig.BucketName,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	health := client.HealthCheck(ctx)
	if !health.Connected || !health.BucketExists {
		_ = client.Close()
		return fmt.Errorf("MinIO health check failed: %s", health.Error)
	}

	c.infra.MinIO = client
	c.addShutdownFunc(client.Close)
	c.addProbe("minio", false, func(ctx context.Context) error {
		if h := client.HealthCheck(ctx); !h.Connected || !h.BucketExists {
			return fmt.Errorf("bucket %s unavailable: %s", h.BucketName, h.Error)
		}
		return nil
	})

	c.logger.Info().
		Str("endpoint", health.Endpoint).
		Str("bucket", health.BucketName).
		Msg("MinIO connection established")

	return nil
}

func (c *Container) initializeResend() error {
	resendConfig := c.config.Resend
	if !resendConfig.Enabled() {
		c.logger.Info().Msg("Resend API key not configured, skipping Resend initialization")
		return nil
	}

	client, err := resend.NewResendClient(resend.ResendConfig{
		ApiKey:    resendConfig.APIKey,
		FromEmail: resendConfig.FromEmail,
	})
	if err != nil {
		return fmt.Errorf("failed to create Resend client: %w", err)
	}

	health := client.HealthCheck(c.ctx)
	if !health.Configured {
		return fmt.Errorf("resend health check failed: %s", health.Error)
	}

	c.infra.Resend = client
	c.addShutdownFunc(client.Close)

	c.logger.Info().
		Str("api_key", health.ApiKey).
		Str("from", health.FromEmail).
		Msg("Resend client initialized successfully")

	return nil
}

func (c *Container) initializeTelemetry() error {
	telemetryConfig := c.config.Telemetry

	client, err := telemetry.NewTelemetryService(telemetry.TelemetryConfig{
		ServiceName:    telemetryConfig.ServiceName,
		ServiceVersion: telemetryConfig.ServiceVersion,
		Environment:    c.config.Server.Environment,
		Enabled:        telemetryConfig.Enabled,
		JaegerEndpoint: telemetryConfig.JaegerEndpoint,
		OTLPEndpoint:   telemetryConfig.OTLPEndpoint,
		SamplingRatio:  telemetryConfig.SamplingRatio,
		ExporterType:   telemetryConfig.ExporterType,
	})
	if err != nil {
		return err
	}

	c.infra.Telemetry = client
	c.addShutdownFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Shutdown(ctx)
	})

	if client.IsEnabled() {
		c.logger.Info().
			Str("exporter", telemetryConfig.ExporterType).
			Float64("sampling_ratio", telemetryConfig.SamplingRatio).
			Msg("Telemetry initialized")
	}

	return nil
}

// initializeBackend builds the OTP backend client. A configured base URL
// wins; otherwise the service name is resolved through Consul.
func (c *Container) initializeBackend() error {
	backendConfig := c.config.Backend
	baseURL := backendConfig.BaseURL

	if baseURL == "" {
		if c.infra.Consul == nil {
			return fmt.Errorf("no backend base URL and Consul is not available to resolve %q", backendConfig.ServiceName)
		}

		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()

		resolved, err := c.infra.Consul.ResolveURL(ctx, backendConfig.ServiceName, backendConfig.Scheme)
		if err != nil {
			return fmt.Errorf("failed to resolve backend service: %w", err)
		}
		baseURL = resolved
		c.logger.Info().Str("service", backendConfig.ServiceName).Str("url", baseURL).Msg("Backend resolved through Consul")
	}

	client, err := backend.New(backend.Config{
		BaseURL:   baseURL,
		Timeout:   backendConfig.Timeout,
		UserAgent: backendConfig.UserAgent,
	}, c.logger)
	if err != nil {
		return err
	}
	if c.infra.Telemetry != nil && c.infra.Telemetry.IsEnabled() {
		client.WithTracer(c.infra.Telemetry.GetTracer("backend"))
	}

	c.infra.Backend = client
	c.addProbe("backend", false, client.Ping)

	c.logger.Info().Str("url", baseURL).Dur("timeout", backendConfig.Timeout).Msg("Backend client ready")
	return nil
}

func (c *Container) initializeModules() error {
	c.modules = NewModuleManager(c.registry, c.logger)
	for _, module := range c.pending {
		if err := c.modules.RegisterModule(module); err != nil {
			return err
		}
	}

	if err := c.modules.InitializeServices(); err != nil {
		return err
	}

	c.app = c.newApp()
	api := c.app.Group("/api/v1")
	return c.modules.InitializeRoutes(api)
}

func (c *Container) newApp() *fiber.App {
	server := c.config.Server

	app := fiber.New(fiber.Config{
		AppName:      server.AppName,
		ReadTimeout:  server.ReadTimeout,
		WriteTimeout: server.WriteTimeout,
		IdleTimeout:  server.IdleTimeout,
		ErrorHandler: middleware.ErrorHandler(c.logger),
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${method} ${path}\n",
		Next: func(ctx *fiber.Ctx) bool {
			return ctx.Path() == "/health"
		},
	}))
	origins := strings.Join(server.CORSOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,X-Trace-ID",
		ExposeHeaders: "Content-Disposition,Retry-After,X-Trace-ID",
		// the visitor cookie needs credentials, which fiber refuses for "*"
		AllowCredentials: origins != "" && origins != "*",
	}))
	app.Use(middleware.NewTracingMiddleware(c.infra.Telemetry, "/health"))

	app.Get("/health", func(ctx *fiber.Ctx) error {
		health := c.HealthCheck(ctx.UserContext())
		status := fiber.StatusOK
		if health.Status == StatusUnhealthy {
			status = fiber.StatusServiceUnavailable
		}
		return ctx.Status(status).JSON(health)
	})

	return app
}

func (c *Container) addShutdownFunc(fn func() error) {
	c.shutdownFuncs = append(c.shutdownFuncs, fn)
}

func (c *Container) addProbe(name string, required bool, check func(ctx context.Context) error) {
	c.probes = append(c.probes, probe{name: name, required: required, check: check})
}

func (c *Container) GetConfig() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *Container) GetLogger() zerolog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Container) GetRegistry() *ServiceRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

func (c *Container) App() *fiber.App {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.app
}

// HealthCheck probes every dependency with its own 5s timeout.
func (c *Container) HealthCheck(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := append([]probe(nil), c.probes...)
	c.mu.RUnlock()

	services := make([]ServiceHealth, 0, len(probes))
	overallStatus := StatusHealthy

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.check(probeCtx)
		cancel()

		health := ServiceHealth{Name: p.name, Status: StatusHealthy, Timestamp: time.Now()}
		if err != nil {
			health.Status = StatusUnhealthy
			health.Message = err.Error()
			switch {
			case p.required:
				overallStatus = StatusUnhealthy
			case overallStatus == StatusHealthy:
				overallStatus = StatusDegraded
			}
		}
		services = append(services, health)
	}

	return HealthStatus{
		Status:   overallStatus,
		Services: services,
		Uptime:   time.Since(c.startTime),
	}
}

// Start serves HTTP in the background. Listen errors are logged.
func (c *Container) Start() error {
	c.mu.RLock()
	app, running := c.app, c.running
	c.mu.RUnlock()

	if !running || app == nil {
		return fmt.Errorf("container is not bootstrapped")
	}

	address := fmt.Sprintf("%s:%s", c.config.Server.Host, c.config.Server.Port)
	go func() {
		c.logger.Info().Str("address", address).Msg("Server starting")
		if err := app.Listen(address); err != nil {
			c.logger.Error().Err(err).Msg("Server stopped listening")
		}
	}()

	return nil
}

func (c *Container) WaitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	c.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	if err := c.Shutdown(); err != nil {
		c.logger.Error().Err(err).Msg("Error during shutdown")
	}
}

// Shutdown stops the HTTP server, then closes clients in reverse order of
// creation.
func (c *Container) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.logger.Info().Msg("Starting graceful shutdown...")

	var errs []error

	if c.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := c.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, err)
			c.logger.Error().Err(err).Msg("Error during server shutdown")
		}
		cancel()
	}

	c.cancel()

	if c.registry != nil {
		if err := c.registry.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	for i := len(c.shutdownFuncs) - 1; i >= 0; i-- {
		if err := c.shutdownFuncs[i](); err != nil {
			errs = append(errs, err)
			c.logger.Error().Err(err).Msg("Error during service shutdown")
		}
	}

	c.running = false
	c.logger.Info().Msg("Graceful shutdown completed")

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	return nil
}

func (c *Container) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
