package config

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetSingleton() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

func validConfig(t *testing.T) *Config {
	t.Helper()

	t.Setenv("BACKEND_BASE_URL", "http://backend.local/api")
	c, err := loadConfig()
	require.NoError(t, err)
	return c
}

func TestLoad_DefaultValues(t *testing.T) {
	resetSingleton()

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", c.Server.Port)
	assert.Equal(t, "Discount Card Portal", c.Server.AppName)
	assert.Equal(t, 20*time.Second, c.Backend.Timeout)
	assert.Equal(t, 4, c.Activation.DigitCount)
	assert.Equal(t, 116*time.Second, c.Activation.TimerSeed)
	assert.Equal(t, 300*time.Second, c.Activation.CardWindow)
	assert.Equal(t, 5, c.AdminAuth.MaxAttempts)
	assert.Equal(t, 15*time.Minute, c.AdminAuth.Window)
	assert.Equal(t, 15*time.Minute, c.AdminAuth.Lockout)
	assert.Equal(t, 10, c.Monitor.PageSize)
	assert.Equal(t, "portal_sid", c.Visitor.CookieName)
	assert.Equal(t, 24*time.Hour, c.Visitor.TTL)
	assert.Equal(t, "operator_audit", c.MongoDB.AuditCollection)
	assert.False(t, c.Resend.Enabled())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	resetSingleton()
	t.Setenv("PORT", "8080")
	t.Setenv("CORS_ORIGINS", "https://cards.example.com, https://admin.example.com")
	t.Setenv("ACTIVATION_TIMER_SEED", "90")
	t.Setenv("ADMIN_LOGIN_LOCKOUT", "30m")
	t.Setenv("RESEND_API_KEY", "re_123")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, []string{"https://cards.example.com", "https://admin.example.com"}, c.Server.CORSOrigins)
	assert.Equal(t, 90*time.Second, c.Activation.TimerSeed)
	assert.Equal(t, 30*time.Minute, c.AdminAuth.Lockout)
	assert.True(t, c.Resend.Enabled())
}

func TestLoad_InvalidValue(t *testing.T) {
	resetSingleton()
	t.Setenv("ADMIN_LOGIN_MAX_ATTEMPTS", "five")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Singleton(t *testing.T) {
	resetSingleton()

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, Get())
}

func TestGet_WithoutLoadPanics(t *testing.T) {
	resetSingleton()

	assert.Panics(t, func() { Get() })
}

func TestReload(t *testing.T) {
	resetSingleton()
	_, err := Load()
	require.NoError(t, err)

	t.Setenv("PORT", "9090")
	reloaded, err := Reload()
	require.NoError(t, err)

	assert.Equal(t, "9090", reloaded.Server.Port)
	assert.Equal(t, "9090", Get().Server.Port)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = "http" }, "invalid port"},
		{"no backend", func(c *Config) { c.Backend.BaseURL = "" }, "either a backend base URL or a service name is required"},
		{"service name without consul", func(c *Config) {
			c.Backend.BaseURL = ""
			c.Backend.ServiceName = "otp-api"
		}, "needs consul"},
		{"service name with consul", func(c *Config) {
			c.Backend.BaseURL = ""
			c.Backend.ServiceName = "otp-api"
			c.Consul.Enabled = true
		}, ""},
		{"bad scheme", func(c *Config) { c.Backend.BaseURL = "ftp://x" }, "must start with http"},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }, "backend timeout must be positive"},
		{"minio without keys", func(c *Config) { c.MinIO.Enabled = true }, "access key and secret key"},
		{"vault without token", func(c *Config) { c.Vault.Enabled = true }, "vault token is required"},
		{"digit count", func(c *Config) { c.Activation.DigitCount = 0 }, "digit count"},
		{"lockout attempts", func(c *Config) { c.AdminAuth.MaxAttempts = 0 }, "max attempts"},
		{"monitor page size", func(c *Config) { c.Monitor.PageSize = 0 }, "page sizes must be positive"},
		{"visitor ttl", func(c *Config) { c.Visitor.TTL = 0 }, "positive ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type fakeSecrets struct {
	path   string
	values map[string]string
	err    error
}

func (f *fakeSecrets) GetStrings(ctx context.Context, path string) (map[string]string, error) {
	f.path = path
	return f.values, f.err
}

func TestLoadWithVault_OverlaysSecrets(t *testing.T) {
	c := validConfig(t)
	c.MongoDB.Password = "from-env"
	c.Redis.Password = "keep-me"

	reader := &fakeSecrets{values: map[string]string{
		"resend_api_key":   "re_vault",
		"mongo_password":   "from-vault",
		"minio_secret_key": "minio-secret",
		"unrelated":        "ignored",
	}}

	require.NoError(t, c.LoadWithVault(context.Background(), reader))

	assert.Equal(t, "secret/data/discount-card-portal", reader.path)
	assert.Equal(t, "re_vault", c.Resend.APIKey)
	assert.Equal(t, "from-vault", c.MongoDB.Password)
	assert.Equal(t, "minio-secret", c.MinIO.SecretKey)
	assert.Equal(t, "keep-me", c.Redis.Password)
}

func TestLoadWithVault_Error(t *testing.T) {
	c := validConfig(t)

	err := c.LoadWithVault(context.Background(), &fakeSecrets{err: errors.New("sealed")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
}
