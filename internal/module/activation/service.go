package activation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
	"github.com/yothgewalt/discount-card-portal-server/package/resend"
)

// Caller is the visitor on whose behalf an activation runs.
type Caller interface {
	backend.Credentials
	VisitorID() string
}

type OTPBackend interface {
	SendOTP(ctx context.Context, creds backend.Credentials, req backend.SendRequest) (*backend.SendResult, error)
	VerifyOTP(ctx context.Context, creds backend.Credentials, req backend.VerifyRequest) (*backend.VerifyResult, error)
	ResendOTP(ctx context.Context, creds backend.Credentials, req backend.ResendRequest) (*backend.ResendResult, error)
}

type Options struct {
	DigitCount int
	TimerSeed  time.Duration
	CardWindow time.Duration
	LockTTL    time.Duration
	FromEmail  string
}

type InitiateRequest struct {
	Name    string `json:"name" validate:"max=120"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=32"`
	Channel string `json:"channel" validate:"omitempty,oneof=email sms"`
	Purpose string `json:"purpose" validate:"omitempty,oneof=card_activation email_verification phone_verification password_reset"`
}

type ActivationService interface {
	Initiate(ctx context.Context, caller Caller, req InitiateRequest) (*View, error)
	Get(ctx context.Context, caller Caller, id string) (*View, error)
	Input(ctx context.Context, caller Caller, id string, index int, value string) (*View, error)
	Backspace(ctx context.Context, caller Caller, id string, index int) (*View, error)
	Fill(ctx context.Context, caller Caller, id string, code string) (*View, error)
	Verify(ctx context.Context, caller Caller, id string) (*View, error)
	Resend(ctx context.Context, caller Caller, id string) (*View, error)
	Close(ctx context.Context, caller Caller, id string) error
	Card(ctx context.Context, caller Caller, id string) (*CardView, error)
	EndVisitor(ctx context.Context, visitorID string)
}

type activationService struct {
	store    *FlowStore
	backend  OTPBackend
	mailer   resend.ResendService
	inflight *inflight
	options  Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewActivationService(
	store *FlowStore,
	otpBackend OTPBackend,
	mailer resend.ResendService,
	options Options,
	logger zerolog.Logger,
) ActivationService {
	return &activationService{
		store:    store,
		backend:  otpBackend,
		mailer:   mailer,
		inflight: newInflight(),
		options:  options,
		logger:   logger.With().Str("module", "activation").Logger(),
		now:      time.Now,
	}
}

func (s *activationService) Initiate(ctx context.Context, caller Caller, req InitiateRequest) (*View, error) {
	channel := otp.TypeEmail
	if req.Channel != "" {
		parsed, err := otp.ParseType(req.Channel)
		if err != nil {
			return nil, failure.Invalid("Choose email or sms as the delivery channel.")
		}
		channel = parsed
	}

	purpose := otp.PurposeCardActivation
	if req.Purpose != "" {
		parsed, err := otp.ParsePurpose(req.Purpose)
		if err != nil {
			return nil, failure.Invalid("Unknown verification purpose.")
		}
		purpose = parsed
	}

	flow := &Flow{
		ID:        uuid.NewString(),
		VisitorID: caller.VisitorID(),
		Contact: Contact{
			Name:  strings.TrimSpace(req.Name),
			Email: strings.TrimSpace(req.Email),
			Phone: strings.TrimSpace(req.Phone),
		},
		Channel: channel,
		Purpose: purpose,
		State:   StateOpen,
	}

	if flow.Destination() == "" {
		field := "email"
		if channel == otp.TypeSMS {
			field = "phone"
		}
		return nil, failure.WithChannel(failure.Invalid(fmt.Sprintf("Please provide your %s first.", field)), failure.Blocking)
	}

	result, err := s.backend.SendOTP(ctx, caller, backend.SendRequest{
		Contact: flow.Destination(),
		Type:    channel,
		Purpose: purpose,
		Name:    flow.Contact.Name,
	})
	if err != nil {
		if failure.Is(err, failure.Rejected) {
			return nil, rejected(err, "Failed to send OTP.", failure.Blocking)
		}
		return nil, err
	}

	now := s.now()
	flow.SessionID = result.SessionID
	flow.Entry = NewEntry(s.options.DigitCount, s.expiry(result.ExpiresAt, now))
	flow.CreatedAt = now.UTC()
	flow.UpdatedAt = now.UTC()

	if err := s.store.Save(ctx, flow, now); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("flow_id", flow.ID).
		Str("session_id", flow.SessionID).
		Str("channel", string(channel)).
		Str("purpose", string(purpose)).
		Msg("activation opened")

	return flow.View(now, false), nil
}

// expiry prefers the backend's authoritative expiry over the local seed.
func (s *activationService) expiry(backendExpiry *time.Time, now time.Time) time.Time {
	if backendExpiry != nil && !backendExpiry.IsZero() {
		return backendExpiry.UTC()
	}
	return now.Add(s.options.TimerSeed).UTC()
}

func rejected(err error, fallback string, channel failure.Channel) error {
	message := fallback
	code := ""
	if fe, ok := failure.As(err); ok {
		if fe.Message != "" {
			message = fe.Message
		}
		code = fe.Code
	}
	return &failure.Error{Kind: failure.Rejected, Message: message, Code: code, Channel: channel, Err: err}
}

// owned loads flow id and hides flows of other visitors.
func (s *activationService) owned(ctx context.Context, caller Caller, id string) (*Flow, error) {
	flow, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.VisitorID != caller.VisitorID() {
		return nil, failure.Missing("This activation is no longer open.")
	}
	return flow, nil
}

func (s *activationService) Get(ctx context.Context, caller Caller, id string) (*View, error) {
	flow, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	locked := s.store.Locked(ctx, id)
	flow.reclaim(locked)
	return flow.View(s.now(), locked), nil
}

// edit applies a local change to the entry under the flow's lock.
func (s *activationService) edit(ctx context.Context, caller Caller, id string, change func(e *Entry) error) (*View, error) {
	lock, err := s.store.Acquire(ctx, id, s.options.LockTTL)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	flow, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	flow.reclaim(false)
	if flow.State != StateOpen {
		return nil, failure.Busy("The code can no longer be edited.")
	}

	if err := change(&flow.Entry); err != nil {
		return nil, err
	}

	now := s.now()
	flow.UpdatedAt = now.UTC()
	if err := s.store.Save(ctx, flow, now); err != nil {
		return nil, err
	}
	return flow.View(now, false), nil
}

func (s *activationService) Input(ctx context.Context, caller Caller, id string, index int, value string) (*View, error) {
	return s.edit(ctx, caller, id, func(e *Entry) error { return e.Input(index, value) })
}

func (s *activationService) Backspace(ctx context.Context, caller Caller, id string, index int) (*View, error) {
	return s.edit(ctx, caller, id, func(e *Entry) error { return e.Backspace(index) })
}

func (s *activationService) Fill(ctx context.Context, caller Caller, id string, code string) (*View, error) {
	return s.edit(ctx, caller, id, func(e *Entry) error { return e.Fill(code) })
}

// settle reloads the flow after a backend call. A flow that was closed or
// reissued meanwhile makes the result stale.
func (s *activationService) settle(ctx context.Context, id string, generation int) (*Flow, error) {
	flow, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Generation != generation {
		return nil, failure.Busy("The code was replaced while the request was running.")
	}
	return flow, nil
}

func (s *activationService) Verify(ctx context.Context, caller Caller, id string) (*View, error) {
	lock, err := s.store.Acquire(ctx, id, s.options.LockTTL)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	flow, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if flow.State == StateVerified {
		return flow.View(now, false), nil
	}

	code, err := flow.Entry.Code()
	if err == nil && flow.Entry.Expired(now) {
		err = failure.Invalid("This code has expired. Request a new one.")
	}
	if err == nil && flow.Exhausted {
		err = failure.Invalid("No attempts remain for this code. Request a new one.")
	}
	if err != nil {
		return nil, s.fail(ctx, flow, failure.WithChannel(err, failure.Inline), now)
	}

	flow.State = StateVerifying
	flow.Entry.Error = ""
	if err := s.store.Save(ctx, flow, now); err != nil {
		return nil, err
	}

	callCtx, done := s.inflight.Begin(ctx, id)
	result, callErr := s.backend.VerifyOTP(callCtx, caller, backend.VerifyRequest{
		OTP:       code,
		SessionID: flow.SessionID,
		Contact:   flow.Destination(),
	})
	done()

	flow, err = s.settle(ctx, id, flow.Generation)
	if err != nil {
		s.logger.Debug().Err(err).Str("flow_id", id).Msg("discarding verify result")
		return nil, err
	}

	now = s.now()
	flow.State = StateOpen
	if callErr != nil {
		if failure.Is(callErr, failure.Rejected) {
			if result != nil && result.AttemptsRemaining != nil && *result.AttemptsRemaining <= 0 {
				flow.Exhausted = true
			}
			callErr = rejected(callErr, "Invalid OTP", failure.Inline)
		}
		return nil, s.fail(ctx, flow, callErr, now)
	}

	cardExpiresAt := now.Add(s.options.CardWindow).UTC()
	flow.State = StateVerified
	flow.CardExpiresAt = &cardExpiresAt
	flow.Entry.Error = ""
	flow.UpdatedAt = now.UTC()
	if err := s.store.Save(ctx, flow, now); err != nil {
		return nil, err
	}

	s.logger.Info().Str("flow_id", id).Str("session_id", flow.SessionID).Msg("activation verified")
	s.confirm(ctx, flow)

	return flow.View(now, false), nil
}

// fail stores err's presented message on the entry, keeping the entered
// digits, and returns err.
func (s *activationService) fail(ctx context.Context, flow *Flow, err error, now time.Time) error {
	flow.Entry.Error = failure.Present(err).Message
	flow.UpdatedAt = now.UTC()
	if saveErr := s.store.Save(ctx, flow, now); saveErr != nil {
		s.logger.Error().Err(saveErr).Str("flow_id", flow.ID).Msg("failed to save activation error")
	}
	return err
}

func (s *activationService) Resend(ctx context.Context, caller Caller, id string) (*View, error) {
	lock, err := s.store.Acquire(ctx, id, s.options.LockTTL)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	flow, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if flow.State == StateVerified {
		return nil, failure.Invalid("This card is already activated.")
	}

	now := s.now()
	previous := flow.Entry.clone()
	flow.State = StateResending
	flow.Entry.Reset(flow.Entry.ExpiresAt)
	if err := s.store.Save(ctx, flow, now); err != nil {
		return nil, err
	}

	callCtx, done := s.inflight.Begin(ctx, id)
	sessionID, expiresAt, callErr := s.reissue(callCtx, caller, flow, lock)
	done()

	flow, err = s.settle(ctx, id, flow.Generation)
	if err != nil {
		s.logger.Debug().Err(err).Str("flow_id", id).Msg("discarding resend result")
		return nil, err
	}

	now = s.now()
	flow.State = StateOpen
	if callErr != nil {
		flow.Entry = previous
		if failure.Is(callErr, failure.Rejected) {
			callErr = rejected(callErr, "Failed to resend OTP.", failure.Notice)
		}
		return nil, s.fail(ctx, flow, callErr, now)
	}

	if sessionID != "" {
		flow.SessionID = sessionID
	}
	flow.Entry.Reset(s.expiry(expiresAt, now))
	flow.Exhausted = false
	flow.Generation++
	flow.UpdatedAt = now.UTC()
	if err := s.store.Save(ctx, flow, now); err != nil {
		return nil, err
	}

	s.logger.Info().Str("flow_id", id).Str("session_id", flow.SessionID).Int("generation", flow.Generation).Msg("activation code reissued")
	return flow.View(now, false), nil
}

// reissue resends the current code, or sends a fresh one when the backend
// no longer knows the session. The lock is renewed before the second call.
func (s *activationService) reissue(ctx context.Context, caller Caller, flow *Flow, lock *Lock) (string, *time.Time, error) {
	result, err := s.backend.ResendOTP(ctx, caller, backend.ResendRequest{
		SessionID: flow.SessionID,
		Contact:   flow.Destination(),
	})
	if err == nil {
		return result.SessionID, result.ExpiresAt, nil
	}
	if !failure.Is(err, failure.NotFound) {
		return "", nil, err
	}
	if err := lock.Extend(ctx); err != nil {
		return "", nil, err
	}

	sent, err := s.backend.SendOTP(ctx, caller, backend.SendRequest{
		Contact: flow.Destination(),
		Type:    flow.Channel,
		Purpose: flow.Purpose,
		Name:    flow.Contact.Name,
	})
	if err != nil {
		return "", nil, err
	}
	return sent.SessionID, sent.ExpiresAt, nil
}

// Close dismisses the activation. It is refused while a request holds the lock.
func (s *activationService) Close(ctx context.Context, caller Caller, id string) error {
	lock, err := s.store.Acquire(ctx, id, s.options.LockTTL)
	if err != nil {
		return err
	}
	defer lock.Release()

	flow, err := s.owned(ctx, caller, id)
	if err != nil {
		return err
	}

	s.inflight.Cancel(id)
	if err := s.store.Delete(ctx, flow); err != nil {
		return err
	}

	s.logger.Debug().Str("flow_id", id).Msg("activation closed")
	return nil
}

func (s *activationService) Card(ctx context.Context, caller Caller, id string) (*CardView, error) {
	flow, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	card := flow.card(s.now())
	if card == nil {
		return nil, failure.Missing("The card is not activated yet.")
	}
	return card, nil
}

// EndVisitor aborts in-flight calls and drops every flow of visitorID.
func (s *activationService) EndVisitor(ctx context.Context, visitorID string) {
	ids, err := s.store.VisitorFlows(ctx, visitorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("failed to list flows of ended visitor")
		return
	}

	// flows go first so a cancelled call finds nothing to write back to
	for _, id := range ids {
		flow := &Flow{ID: id, VisitorID: visitorID}
		if err := s.store.Delete(ctx, flow); err != nil {
			s.logger.Warn().Err(err).Str("flow_id", id).Msg("failed to delete flow of ended visitor")
		}
		if n := s.inflight.Cancel(id); n > 0 {
			s.logger.Info().Str("flow_id", id).Int("calls", n).Msg("cancelled in-flight activation calls")
		}
	}

	if err := s.store.DropVisitor(ctx, visitorID); err != nil {
		s.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("failed to drop visitor flow index")
	}
}
