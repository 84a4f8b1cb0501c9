package activation

import (
	"context"
	"fmt"
	"html"
	"time"

	resendgo "github.com/resend/resend-go/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
	"github.com/yothgewalt/discount-card-portal-server/package/resend"
)

const confirmTimeout = 10 * time.Second

func confirmationEmail(flow *Flow, from string) *resend.EmailRequest {
	name := flow.Contact.Name
	if name == "" {
		name = "there"
	}
	subject := "Your discount card is active"
	if flow.Purpose != otp.PurposeCardActivation {
		subject = "Your verification is complete"
	}

	return &resend.EmailRequest{
		From:    from,
		To:      []string{flow.Contact.Email},
		Subject: subject,
		Html: fmt.Sprintf(
			"<p>Hi %s,</p><p>Your code was confirmed. Show your card at any partner shop before it expires at %s UTC.</p>",
			html.EscapeString(name), flow.CardExpiresAt.UTC().Format("15:04"),
		),
		Text: fmt.Sprintf(
			"Hi %s, your code was confirmed. Show your card at any partner shop before it expires at %s UTC.",
			name, flow.CardExpiresAt.UTC().Format("15:04"),
		),
		Tags: []resendgo.Tag{
			{Name: "purpose", Value: string(flow.Purpose)},
		},
	}
}

// confirm mails the visitor after a verification. Delivery is best effort
// and does not hold up the response.
func (s *activationService) confirm(ctx context.Context, flow *Flow) {
	if s.mailer == nil || flow.Contact.Email == "" || flow.CardExpiresAt == nil {
		return
	}

	request := confirmationEmail(flow, s.options.FromEmail)
	logger := s.logger.With().Str("flow_id", flow.ID).Logger()
	ctx = context.WithoutCancel(ctx)

	go func() {
		sendCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
		defer cancel()

		response, err := s.mailer.SendEmail(sendCtx, request)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to send activation confirmation")
			return
		}
		logger.Debug().Str("email_id", response.ID).Msg("activation confirmation sent")
	}()
}
