package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
	"github.com/yothgewalt/discount-card-portal-server/package/jwt"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AccessTokenRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// EndHook runs when a visitor session ends, before its record is removed.
type EndHook func(ctx context.Context, visitorID string)

// Authenticator is the part of the backend client the identity service needs.
type Authenticator interface {
	AdminLogin(ctx context.Context, req backend.LoginRequest) (*backend.LoginResult, error)
}

type IdentityService interface {
	Begin(ctx context.Context, visitorID string) (*Credentials, bool, error)
	SetAccessToken(ctx context.Context, creds *Credentials, token string) (SessionState, error)
	AdminLogin(ctx context.Context, creds *Credentials, req LoginRequest, origin audit.Origin) (SessionState, error)
	AdminLogout(ctx context.Context, creds *Credentials, origin audit.Origin) (SessionState, error)
	End(ctx context.Context, creds *Credentials) error
	OnEnd(hook EndHook)
}

type identityService struct {
	store    *VisitorStore
	lockout  *Lockout
	backend  Authenticator
	recorder audit.Recorder
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	hooks []EndHook
}

func NewIdentityService(
	store *VisitorStore,
	lockout *Lockout,
	authenticator Authenticator,
	recorder audit.Recorder,
	logger zerolog.Logger,
) IdentityService {
	return &identityService{
		store:    store,
		lockout:  lockout,
		backend:  authenticator,
		recorder: recorder,
		logger:   logger.With().Str("module", "identity").Logger(),
		now:      time.Now,
	}
}

func (s *identityService) credentials(v *Visitor) *Credentials {
	return &Credentials{
		visitor: v,
		store:   s.store,
		now:     s.now,
		logger:  s.logger.With().Str("visitor_id", v.ID).Logger(),
	}
}

// Begin loads the visitor's session or starts a new one. Tokens that have
// expired are dropped before any backend call can use them.
func (s *identityService) Begin(ctx context.Context, visitorID string) (*Credentials, bool, error) {
	now := s.now()

	if visitorID != "" {
		v, err := s.store.Load(ctx, visitorID)
		switch {
		case err == nil:
			v.LastSeenAt = now.UTC()
			v.prune(now)
			if err := s.store.Save(ctx, v); err != nil {
				return nil, false, err
			}
			return s.credentials(v), false, nil
		case !failure.Is(err, failure.NotFound):
			return nil, false, err
		}
	}

	v, err := s.store.Create(ctx, now)
	if err != nil {
		return nil, false, err
	}
	s.logger.Debug().Str("visitor_id", v.ID).Msg("visitor session started")
	return s.credentials(v), true, nil
}

func (s *identityService) SetAccessToken(ctx context.Context, creds *Credentials, token string) (SessionState, error) {
	if !tokenUsable(token, s.now()) {
		return SessionState{}, failure.Invalid("The access token has already expired.")
	}
	if err := creds.update(ctx, func(v *Visitor) { v.AccessToken = token }); err != nil {
		return SessionState{}, err
	}
	return creds.State(), nil
}

func (s *identityService) AdminLogin(ctx context.Context, creds *Credentials, req LoginRequest, origin audit.Origin) (SessionState, error) {
	email := normalizeEmail(req.Email)
	origin.Actor = email

	state, err := s.adminLogin(ctx, creds, email, req.Password)

	rec := audit.New(audit.ActionAdminLogin, origin, err)
	rec.SessionID = creds.VisitorID()
	audit.Write(ctx, s.recorder, s.logger, rec)

	return state, err
}

func (s *identityService) adminLogin(ctx context.Context, creds *Credentials, email, password string) (SessionState, error) {
	if err := s.lockout.Check(ctx, email); err != nil {
		return SessionState{}, err
	}

	result, err := s.backend.AdminLogin(ctx, backend.LoginRequest{Email: email, Password: password})
	if err != nil {
		if kind := failure.KindOf(err); kind == failure.Unauthorized || kind == failure.Rejected {
			locked, lockErr := s.lockout.RecordFailure(ctx, email)
			if lockErr != nil {
				s.logger.Error().Err(lockErr).Msg("failed to record admin login failure")
			}
			if locked {
				s.logger.Warn().Str("email", email).Msg("admin login locked after repeated failures")
			}
		}
		return SessionState{}, err
	}

	if err := s.lockout.Reset(ctx, email); err != nil {
		s.logger.Warn().Err(err).Msg("failed to reset admin login failures")
	}

	expiresAt := result.ExpiresAt
	if expiresAt == nil {
		if inspection, err := jwt.Inspect(result.Token); err == nil && inspection.HasExpiry {
			exp := inspection.ExpiresAt.UTC()
			expiresAt = &exp
		}
	}

	err = creds.update(ctx, func(v *Visitor) {
		v.AdminToken = result.Token
		v.AdminEmail = email
		v.AdminExpiresAt = expiresAt
	})
	if err != nil {
		return SessionState{}, err
	}

	return creds.State(), nil
}

func (s *identityService) AdminLogout(ctx context.Context, creds *Credentials, origin audit.Origin) (SessionState, error) {
	origin.Actor = creds.AdminEmail()

	err := creds.update(ctx, func(v *Visitor) { v.clearAdmin() })

	rec := audit.New(audit.ActionAdminLogout, origin, err)
	rec.SessionID = creds.VisitorID()
	audit.Write(ctx, s.recorder, s.logger, rec)

	if err != nil {
		return SessionState{}, err
	}
	return creds.State(), nil
}

// End clears every token, runs the end hooks and removes the visitor record.
func (s *identityService) End(ctx context.Context, creds *Credentials) error {
	visitorID := creds.VisitorID()

	s.mu.RLock()
	hooks := append([]EndHook(nil), s.hooks...)
	s.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, visitorID)
	}

	creds.mu.Lock()
	creds.visitor.AccessToken = ""
	creds.visitor.clearAdmin()
	creds.mu.Unlock()

	if err := s.store.Delete(ctx, visitorID); err != nil {
		return fmt.Errorf("end visitor session: %w", err)
	}
	return nil
}

func (s *identityService) OnEnd(hook EndHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}
