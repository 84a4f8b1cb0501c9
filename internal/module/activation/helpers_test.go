package activation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/package/redis"
	"github.com/yothgewalt/discount-card-portal-server/package/resend"
)

type testCaller struct {
	visitor string
}

func (c testCaller) Token(scope backend.Scope) string                    { return "token-" + string(scope) }
func (c testCaller) Invalidate(ctx context.Context, scope backend.Scope) {}
func (c testCaller) VisitorID() string                                   { return c.visitor }

type fakeBackend struct {
	mu sync.Mutex

	send   func(ctx context.Context, req backend.SendRequest) (*backend.SendResult, error)
	verify func(ctx context.Context, req backend.VerifyRequest) (*backend.VerifyResult, error)
	resend func(ctx context.Context, req backend.ResendRequest) (*backend.ResendResult, error)

	sends    []backend.SendRequest
	verifies []backend.VerifyRequest
	resends  []backend.ResendRequest
}

func (f *fakeBackend) SendOTP(ctx context.Context, creds backend.Credentials, req backend.SendRequest) (*backend.SendResult, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.send
	f.mu.Unlock()
	if fn == nil {
		return &backend.SendResult{SessionID: "S1"}, nil
	}
	return fn(ctx, req)
}

func (f *fakeBackend) VerifyOTP(ctx context.Context, creds backend.Credentials, req backend.VerifyRequest) (*backend.VerifyResult, error) {
	f.mu.Lock()
	f.verifies = append(f.verifies, req)
	fn := f.verify
	f.mu.Unlock()
	if fn == nil {
		return &backend.VerifyResult{Message: "verified"}, nil
	}
	return fn(ctx, req)
}

func (f *fakeBackend) ResendOTP(ctx context.Context, creds backend.Credentials, req backend.ResendRequest) (*backend.ResendResult, error) {
	f.mu.Lock()
	f.resends = append(f.resends, req)
	fn := f.resend
	f.mu.Unlock()
	if fn == nil {
		return &backend.ResendResult{}, nil
	}
	return fn(ctx, req)
}

func (f *fakeBackend) counts() (sends, verifies, resends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends), len(f.verifies), len(f.resends)
}

type fakeMailer struct {
	sent chan *resend.EmailRequest
}

func (m *fakeMailer) HealthCheck(ctx context.Context) resend.HealthStatus {
	return resend.HealthStatus{}
}

func (m *fakeMailer) SendEmail(ctx context.Context, request *resend.EmailRequest) (*resend.EmailResponse, error) {
	m.sent <- request
	return &resend.EmailResponse{ID: "email-1"}, nil
}

func (m *fakeMailer) Close() error { return nil }

type fixture struct {
	mr      *miniredis.Miniredis
	store   *FlowStore
	backend *fakeBackend
	mailer  *fakeMailer
	service *activationService
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		mr:      mr,
		store:   NewFlowStore(redis.NewFromClient(client), 10*time.Minute),
		backend: &fakeBackend{},
		mailer:  &fakeMailer{sent: make(chan *resend.EmailRequest, 4)},
		clock:   epoch,
	}
	f.service = NewActivationService(f.store, f.backend, f.mailer, Options{
		DigitCount: 4,
		TimerSeed:  116 * time.Second,
		CardWindow: 300 * time.Second,
		LockTTL:    25 * time.Second,
		FromEmail:  "cards@example.com",
	}, zerolog.Nop()).(*activationService)
	f.service.now = func() time.Time { return f.clock }

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}
