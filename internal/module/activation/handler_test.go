package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/config"
	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/identity"
)

type nopAuthenticator struct{}

func (nopAuthenticator) AdminLogin(ctx context.Context, req backend.LoginRequest) (*backend.LoginResult, error) {
	return nil, failure.New(failure.Unauthorized, "no")
}

type httpClient struct {
	t      *testing.T
	app    *fiber.App
	cookie string
}

type envelope struct {
	Success bool                  `json:"success"`
	Data    json.RawMessage       `json:"data"`
	Error   *failure.Presentation `json:"error"`
}

func newHTTPClient(t *testing.T, f *fixture) *httpClient {
	t.Helper()

	identityService := identity.NewIdentityService(
		identity.NewVisitorStore(f.store.redis, time.Hour),
		identity.NewLockout(f.store.redis, config.AdminAuthConfig{MaxAttempts: 5, Window: time.Minute, Lockout: time.Minute}),
		nopAuthenticator{},
		audit.NewLogRecorder(zerolog.Nop()),
		zerolog.Nop(),
	)
	identityService.OnEnd(f.service.EndVisitor)
	guard := identity.NewSessionGuard(identityService, config.VisitorConfig{CookieName: "portal_sid", TTL: time.Hour})

	handler := NewActivationHandler(f.service)
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(zerolog.Nop())})
	activations := app.Group("/api/v1/activations", guard.Attach())
	activations.Post("/", handler.Initiate)
	activations.Get("/:id", handler.Get)
	activations.Post("/:id/input", handler.Input)
	activations.Post("/:id/backspace", handler.Backspace)
	activations.Put("/:id/code", handler.Fill)
	activations.Post("/:id/verify", handler.Verify)
	activations.Post("/:id/resend", handler.Resend)
	activations.Delete("/:id", handler.Close)
	activations.Get("/:id/card", handler.Card)

	return &httpClient{t: t, app: app}
}

func (h *httpClient) do(method, path, body string) (int, envelope) {
	h.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "portal_sid", Value: h.cookie})
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	for _, c := range resp.Cookies() {
		if c.Name == "portal_sid" && c.Value != "" {
			h.cookie = c.Value
		}
	}

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	require.NoError(h.t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func decodeView(t *testing.T, env envelope) View {
	t.Helper()
	var view View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	return view
}

func TestHTTP_ActivationHappyPath(t *testing.T) {
	f := newFixture(t)
	client := newHTTPClient(t, f)

	status, env := client.do(http.MethodPost, "/api/v1/activations", `{"name":"Alice","email":"a@b.com","purpose":"card_activation"}`)
	require.Equal(t, http.StatusCreated, status)
	view := decodeView(t, env)
	assert.Equal(t, "S1", view.SessionID)
	assert.Equal(t, 116, view.RemainingSeconds)

	base := "/api/v1/activations/" + view.ID
	for i, digit := range []string{"1", "2", "3", "4"} {
		status, env = client.do(http.MethodPost, base+"/input", fmt.Sprintf(`{"index":%d,"value":%q}`, i, digit))
		require.Equal(t, http.StatusOK, status)
	}
	view = decodeView(t, env)
	assert.True(t, view.CanVerify)

	status, env = client.do(http.MethodPost, base+"/verify", "")
	require.Equal(t, http.StatusOK, status)
	view = decodeView(t, env)
	assert.Equal(t, StateVerified, view.State)

	status, env = client.do(http.MethodGet, base+"/card", "")
	require.Equal(t, http.StatusOK, status)
	var card CardView
	require.NoError(t, json.Unmarshal(env.Data, &card))
	assert.Equal(t, 300, card.RemainingSeconds)
	assert.Equal(t, "Alice", card.Holder)
}

func TestHTTP_InvalidOTPIsInline(t *testing.T) {
	f := newFixture(t)
	client := newHTTPClient(t, f)
	f.backend.verify = func(ctx context.Context, req backend.VerifyRequest) (*backend.VerifyResult, error) {
		return &backend.VerifyResult{}, &failure.Error{Kind: failure.Rejected, Message: "Invalid OTP"}
	}

	_, env := client.do(http.MethodPost, "/api/v1/activations", `{"email":"a@b.com"}`)
	view := decodeView(t, env)
	base := "/api/v1/activations/" + view.ID

	status, _ := client.do(http.MethodPut, base+"/code", `{"code":"1234"}`)
	require.Equal(t, http.StatusOK, status)

	status, env = client.do(http.MethodPost, base+"/verify", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, failure.Inline, env.Error.Channel)
	assert.Equal(t, "Invalid OTP", env.Error.Message)

	_, env = client.do(http.MethodGet, base, "")
	view = decodeView(t, env)
	assert.Equal(t, []string{"1", "2", "3", "4"}, view.Cells)
	assert.Equal(t, StateOpen, view.State)
}

func TestHTTP_InputValidation(t *testing.T) {
	f := newFixture(t)
	client := newHTTPClient(t, f)

	status, env := client.do(http.MethodPost, "/api/v1/activations", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "email must be a valid email address.", env.Error.Message)

	_, env = client.do(http.MethodPost, "/api/v1/activations", `{"email":"a@b.com"}`)
	view := decodeView(t, env)

	status, env = client.do(http.MethodPost, "/api/v1/activations/"+view.ID+"/input", `{"value":"1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "index is required.", env.Error.Message)

	status, env = client.do(http.MethodPost, "/api/v1/activations/"+view.ID+"/input", `{"index":0,"value":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Only digits can be entered.", env.Error.Message)
}

func TestHTTP_CloseAndUnknownFlow(t *testing.T) {
	f := newFixture(t)
	client := newHTTPClient(t, f)

	_, env := client.do(http.MethodPost, "/api/v1/activations", `{"email":"a@b.com"}`)
	view := decodeView(t, env)

	status, _ := client.do(http.MethodDelete, "/api/v1/activations/"+view.ID, "")
	assert.Equal(t, http.StatusOK, status)

	status, env = client.do(http.MethodGet, "/api/v1/activations/"+view.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, failure.Notice, env.Error.Channel)
}
