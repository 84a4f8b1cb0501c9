package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yothgewalt/discount-card-portal-server/package/env"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Backend    BackendConfig    `json:"backend"`
	Redis      RedisConfig      `json:"redis"`
	MongoDB    MongoDBConfig    `json:"mongodb"`
	MinIO      MinIOConfig      `json:"minio"`
	Vault      VaultConfig      `json:"vault"`
	Consul     ConsulConfig     `json:"consul"`
	Resend     ResendConfig     `json:"resend"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Logging    LoggingConfig    `json:"logging"`
	Activation ActivationConfig `json:"activation"`
	AdminAuth  AdminAuthConfig  `json:"admin_auth"`
	Monitor    MonitorConfig    `json:"monitor"`
	Visitor    VisitorConfig    `json:"visitor"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	Host         string        `json:"host"`
	AppName      string        `json:"app_name"`
	Environment  string        `json:"environment"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	CORSOrigins  []string      `json:"cors_origins"`
}

// BackendConfig locates the OTP REST backend. BaseURL wins over ServiceName;
// ServiceName is resolved through Consul.
type BackendConfig struct {
	BaseURL     string        `json:"base_url"`
	ServiceName string        `json:"service_name"`
	Scheme      string        `json:"scheme"`
	Timeout     time.Duration `json:"timeout"`
	UserAgent   string        `json:"user_agent"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"-"`
	Database int    `json:"database"`
}

type MongoDBConfig struct {
	Enabled         bool   `json:"enabled"`
	Address         string `json:"address"`
	Username        string `json:"username"`
	Password        string `json:"-"`
	Database        string `json:"database"`
	AuditCollection string `json:"audit_collection"`
}

type MinIOConfig struct {
	Enabled    bool   `json:"enabled"`
	Endpoint   string `json:"endpoint"`
	AccessKey  string `json:"access_key"`
	SecretKey  string `json:"-"`
	BucketName string `json:"bucket_name"`
	UseSSL     bool   `json:"use_ssl"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"-"`
	SecretPath string `json:"secret_path"`
}

type ConsulConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"-"`
	Datacenter string `json:"datacenter"`
}

type ResendConfig struct {
	APIKey    string `json:"-"`
	FromEmail string `json:"from_email"`
}

func (r ResendConfig) Enabled() bool {
	return r.APIKey != ""
}

type TelemetryConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	ExporterType   string  `json:"exporter_type"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SamplingRatio  float64 `json:"sampling_ratio"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type ActivationConfig struct {
	DigitCount int           `json:"digit_count"`
	TimerSeed  time.Duration `json:"timer_seed"`
	CardWindow time.Duration `json:"card_window"`
	FlowSlack  time.Duration `json:"flow_slack"`
}

type AdminAuthConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	Window      time.Duration `json:"window"`
	Lockout     time.Duration `json:"lockout"`
}

type MonitorConfig struct {
	PageSize      int `json:"page_size"`
	FetchPageSize int `json:"fetch_page_size"`
	MaxFetchPages int `json:"max_fetch_pages"`
}

type VisitorConfig struct {
	CookieName   string        `json:"cookie_name"`
	TTL          time.Duration `json:"ttl"`
	SecureCookie bool          `json:"secure_cookie"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

func Load() (*Config, error) {
	var err error
	once.Do(func() {
		var loaded *Config
		loaded, err = loadConfig()
		mu.Lock()
		instance = loaded
		mu.Unlock()
	})

	mu.RLock()
	defer mu.RUnlock()
	return instance, err
}

func MustLoad() *Config {
	config, err := Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	return config
}

func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("configuration not loaded - call Load() or MustLoad() first")
	}
	return instance
}

func Reload() (*Config, error) {
	newConfig, err := loadConfig()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	instance = newConfig
	return instance, nil
}

// loader keeps the first env parse error so loadConfig reads as a flat list.
type loader struct {
	err error
}

func read[T any](l *loader, dst *T, key string, defaultValue T) {
	if l.err != nil {
		return
	}
	value, err := env.Get(key, defaultValue)
	if err != nil {
		l.err = err
		return
	}
	*dst = value
}

func loadConfig() (*Config, error) {
	c := &Config{}
	l := &loader{}

	read(l, &c.Server.Port, "PORT", "3000")
	read(l, &c.Server.Host, "HOST", "0.0.0.0")
	read(l, &c.Server.AppName, "APP_NAME", "Discount Card Portal")
	read(l, &c.Server.Environment, "APP_ENV", "development")
	read(l, &c.Server.ReadTimeout, "READ_TIMEOUT", 10*time.Second)
	read(l, &c.Server.WriteTimeout, "WRITE_TIMEOUT", 40*time.Second)
	read(l, &c.Server.IdleTimeout, "IDLE_TIMEOUT", 60*time.Second)
	read(l, &c.Server.CORSOrigins, "CORS_ORIGINS", []string{"http://localhost:5173"})

	read(l, &c.Backend.BaseURL, "BACKEND_BASE_URL", "")
	read(l, &c.Backend.ServiceName, "BACKEND_SERVICE_NAME", "")
	read(l, &c.Backend.Scheme, "BACKEND_SCHEME", "http")
	read(l, &c.Backend.Timeout, "BACKEND_TIMEOUT", 20*time.Second)
	read(l, &c.Backend.UserAgent, "BACKEND_USER_AGENT", "discount-card-portal/1.0")

	read(l, &c.Redis.Address, "REDIS_ADDRESS", "localhost:6379")
	read(l, &c.Redis.Password, "REDIS_PASSWORD", "")
	read(l, &c.Redis.Database, "REDIS_DATABASE", 0)

	read(l, &c.MongoDB.Enabled, "MONGODB_ENABLED", false)
	read(l, &c.MongoDB.Address, "MONGODB_ADDRESS", "localhost:27017")
	read(l, &c.MongoDB.Username, "MONGODB_USERNAME", "")
	read(l, &c.MongoDB.Password, "MONGODB_PASSWORD", "")
	read(l, &c.MongoDB.Database, "MONGODB_DATABASE", "discount_card_portal")
	read(l, &c.MongoDB.AuditCollection, "MONGODB_AUDIT_COLLECTION", "operator_audit")

	read(l, &c.MinIO.Enabled, "MINIO_ENABLED", false)
	read(l, &c.MinIO.Endpoint, "MINIO_ENDPOINT", "localhost:9000")
	read(l, &c.MinIO.AccessKey, "MINIO_ACCESS_KEY", "")
	read(l, &c.MinIO.SecretKey, "MINIO_SECRET_KEY", "")
	read(l, &c.MinIO.BucketName, "MINIO_BUCKET_NAME", "portal-exports")
	read(l, &c.MinIO.UseSSL, "MINIO_USE_SSL", false)

	read(l, &c.Vault.Enabled, "VAULT_ENABLED", false)
	read(l, &c.Vault.Address, "VAULT_ADDRESS", "http://localhost:8200")
	read(l, &c.Vault.Token, "VAULT_TOKEN", "")
	read(l, &c.Vault.SecretPath, "VAULT_SECRET_PATH", "secret/data/discount-card-portal")

	read(l, &c.Consul.Enabled, "CONSUL_ENABLED", false)
	read(l, &c.Consul.Address, "CONSUL_ADDRESS", "localhost:8500")
	read(l, &c.Consul.Token, "CONSUL_TOKEN", "")
	read(l, &c.Consul.Datacenter, "CONSUL_DATACENTER", "")

	read(l, &c.Resend.APIKey, "RESEND_API_KEY", "")
	read(l, &c.Resend.FromEmail, "RESEND_FROM_EMAIL", "cards@example.com")

	read(l, &c.Telemetry.Enabled, "TELEMETRY_ENABLED", false)
	read(l, &c.Telemetry.ServiceName, "TELEMETRY_SERVICE_NAME", "discount-card-portal")
	read(l, &c.Telemetry.ServiceVersion, "TELEMETRY_SERVICE_VERSION", "1.0.0")
	read(l, &c.Telemetry.ExporterType, "TELEMETRY_EXPORTER_TYPE", "otlp")
	read(l, &c.Telemetry.JaegerEndpoint, "TELEMETRY_JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	read(l, &c.Telemetry.OTLPEndpoint, "TELEMETRY_OTLP_ENDPOINT", "localhost:4317")
	read(l, &c.Telemetry.SamplingRatio, "TELEMETRY_SAMPLING_RATIO", 1.0)

	read(l, &c.Logging.Level, "LOG_LEVEL", "info")
	read(l, &c.Logging.Format, "LOG_FORMAT", "console")

	read(l, &c.Activation.DigitCount, "ACTIVATION_DIGIT_COUNT", 4)
	read(l, &c.Activation.TimerSeed, "ACTIVATION_TIMER_SEED", 116*time.Second)
	read(l, &c.Activation.CardWindow, "ACTIVATION_CARD_WINDOW", 300*time.Second)
	read(l, &c.Activation.FlowSlack, "ACTIVATION_FLOW_SLACK", 10*time.Minute)

	read(l, &c.AdminAuth.MaxAttempts, "ADMIN_LOGIN_MAX_ATTEMPTS", 5)
	read(l, &c.AdminAuth.Window, "ADMIN_LOGIN_WINDOW", 15*time.Minute)
	read(l, &c.AdminAuth.Lockout, "ADMIN_LOGIN_LOCKOUT", 15*time.Minute)

	read(l, &c.Monitor.PageSize, "MONITOR_PAGE_SIZE", 10)
	read(l, &c.Monitor.FetchPageSize, "MONITOR_FETCH_PAGE_SIZE", 100)
	read(l, &c.Monitor.MaxFetchPages, "MONITOR_MAX_FETCH_PAGES", 50)

	read(l, &c.Visitor.CookieName, "VISITOR_COOKIE_NAME", "portal_sid")
	read(l, &c.Visitor.TTL, "VISITOR_TTL", 24*time.Hour)
	read(l, &c.Visitor.SecureCookie, "VISITOR_SECURE_COOKIE", false)

	if l.err != nil {
		return nil, l.err
	}
	return c, nil
}

// SecretReader is the subset of the Vault client used for the overlay.
type SecretReader interface {
	GetStrings(ctx context.Context, path string) (map[string]string, error)
}

// LoadWithVault overlays secrets stored at c.Vault.SecretPath onto c.
func (c *Config) LoadWithVault(ctx context.Context, vault SecretReader) error {
	secrets, err := vault.GetStrings(ctx, c.Vault.SecretPath)
	if err != nil {
		return fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	c.ApplySecrets(secrets)
	return nil
}

// ApplySecrets sets known secret keys, leaving fields untouched for absent keys.
func (c *Config) ApplySecrets(secrets map[string]string) {
	targets := map[string]*string{
		"resend_api_key":   &c.Resend.APIKey,
		"mongo_password":   &c.MongoDB.Password,
		"minio_secret_key": &c.MinIO.SecretKey,
		"redis_password":   &c.Redis.Password,
		"consul_token":     &c.Consul.Token,
	}

	for key, dst := range targets {
		if value, ok := secrets[key]; ok && value != "" {
			*dst = value
		}
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}

	if err := c.Backend.Validate(c.Consul.Enabled); err != nil {
		return fmt.Errorf("backend config validation failed: %w", err)
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis config validation failed: redis address is required")
	}

	if c.MinIO.Enabled && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return fmt.Errorf("minIO config validation failed: access key and secret key are required")
	}

	if c.Vault.Enabled && c.Vault.Token == "" {
		return fmt.Errorf("vault config validation failed: vault token is required")
	}

	if err := c.Activation.Validate(); err != nil {
		return fmt.Errorf("activation config validation failed: %w", err)
	}

	if err := c.AdminAuth.Validate(); err != nil {
		return fmt.Errorf("admin auth config validation failed: %w", err)
	}

	if c.Monitor.PageSize <= 0 || c.Monitor.FetchPageSize <= 0 || c.Monitor.MaxFetchPages <= 0 {
		return fmt.Errorf("monitor config validation failed: page sizes must be positive")
	}

	if c.Visitor.CookieName == "" || c.Visitor.TTL <= 0 {
		return fmt.Errorf("visitor config validation failed: cookie name and positive ttl are required")
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	var port int
	if _, err := fmt.Sscanf(s.Port, "%d", &port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", s.Port)
	}
	return nil
}

func (b *BackendConfig) Validate(consulEnabled bool) error {
	if b.BaseURL == "" && b.ServiceName == "" {
		return fmt.Errorf("either a backend base URL or a service name is required")
	}

	if b.BaseURL == "" && !consulEnabled {
		return fmt.Errorf("backend service name %q needs consul to be enabled", b.ServiceName)
	}

	if b.BaseURL != "" && !strings.HasPrefix(b.BaseURL, "http://") && !strings.HasPrefix(b.BaseURL, "https://") {
		return fmt.Errorf("backend base URL must start with http:// or https://")
	}

	if b.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}

	return nil
}

func (a *ActivationConfig) Validate() error {
	if a.DigitCount < 1 || a.DigitCount > 8 {
		return fmt.Errorf("digit count must be between 1 and 8")
	}

	if a.TimerSeed <= 0 || a.CardWindow <= 0 || a.FlowSlack <= 0 {
		return fmt.Errorf("activation windows must be positive")
	}

	return nil
}

func (a *AdminAuthConfig) Validate() error {
	if a.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}

	if a.Window <= 0 || a.Lockout <= 0 {
		return fmt.Errorf("window and lockout must be positive")
	}

	return nil
}
