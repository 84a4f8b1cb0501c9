package backend

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
)

type ListQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	Status    string
	OTPType   string
	Purpose   string
	Search    string
}

func (q ListQuery) params() map[string]string {
	params := map[string]string{}
	if q.Page > 0 {
		params["page"] = strconv.Itoa(q.Page)
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}
	set := func(key, value string) {
		if value != "" && value != otp.FilterAll {
			params[key] = value
		}
	}
	set("sortBy", q.SortBy)
	set("sortOrder", q.SortOrder)
	set("status", q.Status)
	set("otpType", q.OTPType)
	set("purpose", q.Purpose)
	set("search", q.Search)
	return params
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type RemoteStatistics struct {
	Total            int     `json:"total"`
	Verified         int     `json:"verified"`
	Today            int     `json:"today"`
	VerificationRate float64 `json:"verificationRate"`
}

type SessionPage struct {
	Sessions   []otp.Session     `json:"otpSessions"`
	Statistics *RemoteStatistics `json:"statistics,omitempty"`
	Pagination *Pagination       `json:"pagination,omitempty"`
}

type AdminResendRequest struct {
	UserID      string      `json:"userId"`
	OTPType     otp.Type    `json:"otpType"`
	Purpose     otp.Purpose `json:"purpose"`
	ContactInfo string      `json:"contactInfo"`
}

type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (c *Client) ListSessions(ctx context.Context, creds Credentials, query ListQuery) (*SessionPage, error) {
	page := &SessionPage{}
	if _, err := c.do(ctx, creds, call{
		op:     "list_sessions",
		method: http.MethodGet,
		path:   "/admin/otp-sessions",
		scope:  ScopeAdmin,
		query:  query.params(),
	}, page); err != nil {
		return nil, err
	}

	if page.Sessions == nil {
		page.Sessions = []otp.Session{}
	}
	return page, nil
}

func (c *Client) ExpireSession(ctx context.Context, creds Credentials, sessionID string) error {
	_, err := c.do(ctx, creds, call{
		op:     "expire_session",
		method: http.MethodPost,
		path:   "/admin/otp-sessions/" + url.PathEscape(sessionID) + "/expire",
		scope:  ScopeAdmin,
	}, nil)
	return err
}

// AdminResend returns the backend's confirmation message.
func (c *Client) AdminResend(ctx context.Context, creds Credentials, req AdminResendRequest) (string, error) {
	env, err := c.do(ctx, creds, call{
		op:     "admin_resend",
		method: http.MethodPost,
		path:   "/admin/otp-sessions/resend",
		scope:  ScopeAdmin,
		body:   req,
	}, nil)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// ExportSessions downloads the backend's export file as is.
func (c *Client) ExportSessions(ctx context.Context, creds Credentials, query ListQuery) (*Export, error) {
	resp, err := c.execute(ctx, creds, call{
		op:     "export_sessions",
		method: http.MethodGet,
		path:   "/admin/otp-sessions/export",
		scope:  ScopeAdmin,
		query:  query.params(),
	})
	if err != nil {
		return nil, err
	}

	export := &Export{
		Filename:    "otp-sessions-export",
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}
	if export.ContentType == "" {
		export.ContentType = "application/octet-stream"
	}
	if _, params, err := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); err == nil && params["filename"] != "" {
		export.Filename = params["filename"]
	}

	return export, nil
}

// AdminLogin exchanges operator credentials for an admin token.
func (c *Client) AdminLogin(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	result := &LoginResult{}
	if _, err := c.do(ctx, nil, call{
		op:     "admin_login",
		method: http.MethodPost,
		path:   "/admin/auth/login",
		body:   req,
	}, result); err != nil {
		return nil, err
	}

	if result.Token == "" {
		return nil, malformed("login response carries no token")
	}
	return result, nil
}

func malformed(message string) error {
	return failure.New(failure.Server, message)
}
