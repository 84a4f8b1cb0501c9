package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
)

type fakeCredentials struct {
	mu          sync.Mutex
	tokens      map[Scope]string
	invalidated []Scope
}

func newCredentials() *fakeCredentials {
	return &fakeCredentials{tokens: map[Scope]string{ScopeUser: "user-token", ScopeAdmin: "admin-token"}}
}

func (f *fakeCredentials) Token(scope Scope) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[scope]
}

func (f *fakeCredentials) Invalidate(ctx context.Context, scope Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, scope)
	f.invalidated = append(f.invalidated, scope)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/", Timeout: 2 * time.Second, UserAgent: "portal-test"}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, zerolog.Nop())
	assert.EqualError(t, err, "backend base URL is required")
}

func TestSendOTP_Success(t *testing.T) {
	creds := newCredentials()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/otp/send", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "portal-test", r.Header.Get("User-Agent"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{
			"contact": "a@b.com",
			"type":    "email",
			"purpose": "card_activation",
			"name":    "Ann",
		}, body)

		writeJSON(w, http.StatusOK, `{"success":true,"data":{"sessionId":"S1","expiresAt":"2026-05-04T10:01:56Z"}}`)
	})

	result, err := client.SendOTP(context.Background(), creds, SendRequest{
		Contact: "a@b.com",
		Type:    otp.TypeEmail,
		Purpose: otp.PurposeCardActivation,
		Name:    "Ann",
	})

	require.NoError(t, err)
	assert.Equal(t, "S1", result.SessionID)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 1, 56, 0, time.UTC), result.ExpiresAt.UTC())
}

func TestSendOTP_NoTokenSendsNoHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"sessionId":"S1"}}`)
	})

	_, err := client.SendOTP(context.Background(), &fakeCredentials{tokens: map[Scope]string{}}, SendRequest{Contact: "a@b.com"})
	assert.NoError(t, err)
}

func TestSendOTP_RejectedAndMalformed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    failure.Kind
		message string
	}{
		{"success false", `{"success":false,"message":"Contact is blocked"}`, failure.Rejected, "Contact is blocked"},
		{"missing session id", `{"success":true,"data":{}}`, failure.Server, "send response carries no session id"},
		{"not json", `<html>oops</html>`, failure.Server, "malformed backend response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			})

			_, err := client.SendOTP(context.Background(), newCredentials(), SendRequest{Contact: "a@b.com"})
			fe, ok := failure.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.message, fe.Message)
		})
	}
}

func TestVerifyOTP_RejectedKeepsAttempts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, VerifyRequest{OTP: "1234", SessionID: "S1", Contact: "a@b.com"}, body)

		writeJSON(w, http.StatusOK, `{"success":false,"message":"Invalid OTP","data":{"attemptsRemaining":2}}`)
	})

	result, err := client.VerifyOTP(context.Background(), newCredentials(), VerifyRequest{OTP: "1234", SessionID: "S1", Contact: "a@b.com"})

	assert.True(t, failure.Is(err, failure.Rejected))
	require.NotNil(t, result)
	assert.Equal(t, "Invalid OTP", result.Message)
	require.NotNil(t, result.AttemptsRemaining)
	assert.Equal(t, 2, *result.AttemptsRemaining)
}

func TestVerifyOTP_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"message":"Verified"}`)
	})

	result, err := client.VerifyOTP(context.Background(), newCredentials(), VerifyRequest{OTP: "1234", SessionID: "S1"})
	require.NoError(t, err)
	assert.Equal(t, "Verified", result.Message)
	assert.Nil(t, result.AttemptsRemaining)
}

func TestResendOTP_ReadsTopLevelSessionID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/otp/resend", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"success":true,"sessionId":"S2"}`)
	})

	result, err := client.ResendOTP(context.Background(), newCredentials(), ResendRequest{SessionID: "S1", Contact: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "S2", result.SessionID)
}

func TestStatusFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		header      map[string]string
		kind        failure.Kind
		message     string
		code        string
		retryAfter  time.Duration
		invalidated []Scope
	}{
		{
			name:        "unauthorized clears the scope token",
			status:      http.StatusUnauthorized,
			body:        `{"success":false,"message":"token expired","code":"TOKEN_EXPIRED"}`,
			kind:        failure.Unauthorized,
			message:     "token expired",
			code:        "TOKEN_EXPIRED",
			invalidated: []Scope{ScopeAdmin},
		},
		{
			name:    "forbidden",
			status:  http.StatusForbidden,
			body:    `{"success":false,"message":"admins only"}`,
			kind:    failure.Forbidden,
			message: "admins only",
		},
		{
			name:       "rate limited with retry after",
			status:     http.StatusTooManyRequests,
			body:       `{"success":false}`,
			header:     map[string]string{"Retry-After": "30"},
			kind:       failure.RateLimited,
			message:    "Too Many Requests",
			retryAfter: 30 * time.Second,
		},
		{
			name:    "server error without body",
			status:  http.StatusBadGateway,
			kind:    failure.Server,
			message: "Bad Gateway",
		},
		{
			name:    "conflict",
			status:  http.StatusConflict,
			body:    `{"success":false,"message":"Session already expired"}`,
			kind:    failure.Conflict,
			message: "Session already expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := newCredentials()
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				writeJSON(w, tt.status, tt.body)
			})

			err := client.ExpireSession(context.Background(), creds, "S1")

			fe, ok := failure.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.message, fe.Message)
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, tt.status, fe.Status)
			assert.Equal(t, tt.retryAfter, fe.RetryAfter)
			assert.Equal(t, tt.invalidated, creds.invalidated)
		})
	}
}

func TestTransportFailures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			writeJSON(w, http.StatusOK, `{"success":true}`)
		}))
		defer server.Close()

		client, err := New(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, zerolog.Nop())
		require.NoError(t, err)

		err = client.ExpireSession(context.Background(), newCredentials(), "S1")
		fe, ok := failure.As(err)
		require.True(t, ok)
		assert.Equal(t, failure.Network, fe.Kind)
		assert.True(t, fe.Timeout)
		assert.Equal(t, http.StatusGatewayTimeout, failure.Present(err).Status)
	})

	t.Run("cancelled", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"success":true}`)
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := client.ExpireSession(ctx, newCredentials(), "S1")
		fe, ok := failure.As(err)
		require.True(t, ok)
		assert.Equal(t, failure.Network, fe.Kind)
		assert.Equal(t, "request cancelled", fe.Message)
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		client, err := New(Config{BaseURL: url}, zerolog.Nop())
		require.NoError(t, err)

		assert.True(t, failure.Is(client.Ping(context.Background()), failure.Network))
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 120*time.Second, parseRetryAfter("120", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestExecute_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer provider.Shutdown(context.Background())

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"sessionId":"S9"}}`)
	}).WithTracer(provider.Tracer("test"))

	_, err := client.SendOTP(context.Background(), newCredentials(), SendRequest{Contact: "a@b.com"})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "backend.send_otp", spans[0].Name)
}

func TestPing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, client.Ping(context.Background()))
}
