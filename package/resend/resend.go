package resend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/resend/resend-go/v2"
)

type ResendConfig struct {
	ApiKey    string
	FromEmail string
	// HTTPClient overrides the transport used to reach the Resend API.
	HTTPClient *http.Client
}

type HealthStatus struct {
	Configured bool   `json:"configured"`
	ApiKey     string `json:"api_key"`
	FromEmail  string `json:"from_email"`
	Error      string `json:"error,omitempty"`
}

type EmailRequest struct {
	From    string            `json:"from,omitempty"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Html    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Tags    []resend.Tag      `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type EmailResponse struct {
	ID string `json:"id"`
}

type ResendService interface {
	HealthCheck(ctx context.Context) HealthStatus
	SendEmail(ctx context.Context, request *EmailRequest) (*EmailResponse, error)
	Close() error
}

type ResendClient struct {
	client *resend.Client
	config ResendConfig
	mu     sync.RWMutex
}

func NewResendClient(config ResendConfig) (*ResendClient, error) {
	if config.ApiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.FromEmail == "" {
		return nil, fmt.Errorf("from email is required")
	}

	var client *resend.Client
	if config.HTTPClient != nil {
		client = resend.NewCustomClient(config.HTTPClient, config.ApiKey)
	} else {
		client = resend.NewClient(config.ApiKey)
	}

	return &ResendClient{
		client: client,
		config: config,
	}, nil
}

// HealthCheck reports configuration only. Resend has no side-effect free
// endpoint usable with a sending-only key.
func (r *ResendClient) HealthCheck(ctx context.Context) HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HealthStatus{
		Configured: r.client != nil,
		ApiKey:     maskApiKey(r.config.ApiKey),
		FromEmail:  r.config.FromEmail,
	}
	if r.client == nil {
		status.Error = "client closed"
	}
	return status
}

func (r *ResendClient) SendEmail(ctx context.Context, request *EmailRequest) (*EmailResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return nil, fmt.Errorf("resend client is closed")
	}

	if err := validateEmailRequest(request); err != nil {
		return nil, fmt.Errorf("invalid email request: %w", err)
	}

	from := request.From
	if from == "" {
		from = r.config.FromEmail
	}

	sent, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      request.To,
		Subject: request.Subject,
		Html:    request.Html,
		Text:    request.Text,
		ReplyTo: request.ReplyTo,
		Tags:    request.Tags,
		Headers: request.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	return &EmailResponse{
		ID: sent.Id,
	}, nil
}

func validateEmailRequest(request *EmailRequest) error {
	if request == nil {
		return fmt.Errorf("email request cannot be nil")
	}

	if len(request.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	for _, email := range request.To {
		if strings.TrimSpace(email) == "" {
			return fmt.Errorf("empty email address in 'to' field")
		}
	}

	if request.Subject == "" {
		return fmt.Errorf("subject is required")
	}

	if request.Html == "" && request.Text == "" {
		return fmt.Errorf("either HTML or text content is required")
	}

	return nil
}

func maskApiKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "***" + apiKey[len(apiKey)-4:]
}

func (r *ResendClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.client = nil
	return nil
}
