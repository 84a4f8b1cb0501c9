// Package backend is the typed client for the external OTP REST backend.
// Every call takes the caller's Credentials so tokens are scoped to one
// visitor session instead of process-wide state.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
)

type Scope string

const (
	ScopeNone  Scope = ""
	ScopeUser  Scope = "user"
	ScopeAdmin Scope = "admin"
)

// Credentials supplies bearer tokens per scope and forgets a scope's token
// when the backend rejects it.
type Credentials interface {
	Token(scope Scope) string
	Invalidate(ctx context.Context, scope Scope)
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
	tracer trace.Tracer
}

// envelope is the backend's response wrapper. Error bodies use the same
// shape with success=false.
type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Code      string          `json:"code,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		httpClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		http:   httpClient,
		logger: logger.With().Str("component", "backend").Logger(),
		tracer: otel.Tracer("github.com/yothgewalt/discount-card-portal-server/internal/backend"),
	}, nil
}

// WithTracer replaces the tracer taken from the global provider.
func (c *Client) WithTracer(tracer trace.Tracer) *Client {
	c.tracer = tracer
	return c
}

type call struct {
	op     string
	method string
	path   string
	scope  Scope
	body   any
	query  map[string]string
}

func (c *Client) execute(ctx context.Context, creds Credentials, in call) (*resty.Response, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+in.op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", in.method),
		attribute.String("http.route", in.path),
	)

	req := c.http.R().SetContext(ctx)
	if in.scope != ScopeNone && creds != nil {
		if token := creds.Token(in.scope); token != "" {
			req.SetAuthToken(token)
		}
	}
	if in.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(in.body)
	}
	if len(in.query) > 0 {
		req.SetQueryParams(in.query)
	}

	start := time.Now()
	resp, err := req.Execute(in.method, in.path)
	elapsed := time.Since(start)

	if err != nil {
		ferr := transportFailure(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, ferr.Message)
		c.logger.Warn().Err(err).Str("op", in.op).Dur("elapsed", elapsed).Msg("backend call failed")
		return nil, ferr
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	c.logger.Debug().Str("op", in.op).Int("status", resp.StatusCode()).Dur("elapsed", elapsed).Msg("backend call")

	if resp.IsError() || resp.StatusCode() >= 300 {
		ferr := statusFailure(resp)
		if ferr.Kind == failure.Unauthorized && in.scope != ScopeNone && creds != nil {
			creds.Invalidate(ctx, in.scope)
		}
		span.SetStatus(codes.Error, string(ferr.Kind))
		return resp, ferr
	}

	return resp, nil
}

// do runs a JSON call and decodes the data field into out. A 2xx response
// with success=false becomes a Rejected failure; the envelope is still returned.
func (c *Client) do(ctx context.Context, creds Credentials, in call, out any) (*envelope, error) {
	resp, err := c.execute(ctx, creds, in)
	if err != nil {
		return nil, err
	}

	env := &envelope{}
	if err := json.Unmarshal(resp.Body(), env); err != nil {
		return nil, failure.Wrap(failure.Server, "malformed backend response", err)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env, failure.Wrap(failure.Server, "malformed backend response data", err)
		}
	}

	if !env.Success {
		return env, &failure.Error{Kind: failure.Rejected, Message: env.Message, Code: env.Code, Status: resp.StatusCode()}
	}

	return env, nil
}

func statusFailure(resp *resty.Response) *failure.Error {
	ferr := &failure.Error{
		Kind:   failure.FromStatus(resp.StatusCode()),
		Status: resp.StatusCode(),
	}

	var env envelope
	if json.Unmarshal(resp.Body(), &env) == nil {
		ferr.Message = env.Message
		ferr.Code = env.Code
	}
	if ferr.Message == "" {
		ferr.Message = http.StatusText(resp.StatusCode())
	}

	if ferr.Kind == failure.RateLimited {
		ferr.RetryAfter = parseRetryAfter(resp.Header().Get("Retry-After"), time.Now())
	}

	return ferr
}

func transportFailure(ctx context.Context, err error) *failure.Error {
	ferr := failure.Wrap(failure.Network, "backend unreachable", err)

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		ferr.Message = "request cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		ferr.Message = "backend request timed out"
		ferr.Timeout = true
	}

	return ferr
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// Ping checks that the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.execute(ctx, nil, call{op: "ping", method: http.MethodGet, path: "/health"})
	return err
}
