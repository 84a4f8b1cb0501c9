package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
)

type SendRequest struct {
	Contact string      `json:"contact"`
	Type    otp.Type    `json:"type"`
	Purpose otp.Purpose `json:"purpose"`
	Name    string      `json:"name,omitempty"`
}

type SendResult struct {
	SessionID string     `json:"sessionId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type VerifyRequest struct {
	OTP       string `json:"otp"`
	SessionID string `json:"sessionId"`
	Contact   string `json:"contact"`
}

type VerifyResult struct {
	Message           string `json:"-"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

type ResendRequest struct {
	SessionID string `json:"sessionId"`
	Contact   string `json:"contact"`
}

type ResendResult struct {
	SessionID string     `json:"sessionId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// SendOTP asks the backend to issue a code. A send without a session id in
// the response is treated as a malformed answer.
func (c *Client) SendOTP(ctx context.Context, creds Credentials, req SendRequest) (*SendResult, error) {
	result := &SendResult{}
	env, err := c.do(ctx, creds, call{
		op:     "send_otp",
		method: http.MethodPost,
		path:   "/otp/send",
		scope:  ScopeUser,
		body:   req,
	}, result)
	if err != nil {
		return nil, err
	}

	if result.SessionID == "" {
		result.SessionID = env.SessionID
	}
	if result.SessionID == "" {
		return nil, malformed("send response carries no session id")
	}

	return result, nil
}

// VerifyOTP submits a code. On a Rejected failure the result is still
// returned so callers can read AttemptsRemaining.
func (c *Client) VerifyOTP(ctx context.Context, creds Credentials, req VerifyRequest) (*VerifyResult, error) {
	result := &VerifyResult{}
	env, err := c.do(ctx, creds, call{
		op:     "verify_otp",
		method: http.MethodPost,
		path:   "/otp/verify",
		scope:  ScopeUser,
		body:   req,
	}, result)
	if env != nil {
		result.Message = env.Message
	}
	if err != nil {
		if env != nil {
			return result, err
		}
		return nil, err
	}

	return result, nil
}

// ResendOTP reissues a code for an existing session. SessionID is empty when
// the backend kept the same session.
func (c *Client) ResendOTP(ctx context.Context, creds Credentials, req ResendRequest) (*ResendResult, error) {
	result := &ResendResult{}
	env, err := c.do(ctx, creds, call{
		op:     "resend_otp",
		method: http.MethodPost,
		path:   "/otp/resend",
		scope:  ScopeUser,
		body:   req,
	}, result)
	if err != nil {
		return nil, err
	}

	if result.SessionID == "" {
		result.SessionID = env.SessionID
	}

	return result, nil
}
