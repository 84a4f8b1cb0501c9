package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwtlib "github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/config"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
	"github.com/yothgewalt/discount-card-portal-server/package/redis"
)

type fakeAuthenticator struct {
	mu     sync.Mutex
	calls  int
	result *backend.LoginResult
	err    error
}

func (f *fakeAuthenticator) AdminLogin(ctx context.Context, req backend.LoginRequest) (*backend.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeAuthenticator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memoryRecorder) Record(ctx context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) All() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.records...)
}

var testAdminAuth = config.AdminAuthConfig{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisService) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewFromClient(client)
}

type fixture struct {
	mr       *miniredis.Miniredis
	redis    redis.RedisService
	auth     *fakeAuthenticator
	recorder *memoryRecorder
	service  *identityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, redisService := newTestRedis(t)
	auth := &fakeAuthenticator{}
	recorder := &memoryRecorder{}
	service := NewIdentityService(
		NewVisitorStore(redisService, 24*time.Hour),
		NewLockout(redisService, testAdminAuth),
		auth,
		recorder,
		zerolog.Nop(),
	).(*identityService)

	return &fixture{mr: mr, redis: redisService, auth: auth, recorder: recorder, service: service}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":   "admin-1",
		"email": "ops@example.com",
		"exp":   exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}
