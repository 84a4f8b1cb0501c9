package identity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
)

// Credentials is the scoped auth context of one visitor. It is handed to
// every backend call and forgets a scope's token when the backend answers 401.
type Credentials struct {
	mu      sync.Mutex
	visitor *Visitor
	store   *VisitorStore
	now     func() time.Time
	logger  zerolog.Logger
}

func (c *Credentials) VisitorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visitor.ID
}

func (c *Credentials) Token(scope backend.Scope) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	switch scope {
	case backend.ScopeUser:
		if tokenUsable(c.visitor.AccessToken, now) {
			return c.visitor.AccessToken
		}
	case backend.ScopeAdmin:
		if c.visitor.AdminExpiresAt != nil && !now.Before(*c.visitor.AdminExpiresAt) {
			return ""
		}
		if tokenUsable(c.visitor.AdminToken, now) {
			return c.visitor.AdminToken
		}
	}
	return ""
}

func (c *Credentials) Invalidate(ctx context.Context, scope backend.Scope) {
	err := c.update(context.WithoutCancel(ctx), func(v *Visitor) {
		switch scope {
		case backend.ScopeUser:
			v.AccessToken = ""
		case backend.ScopeAdmin:
			v.clearAdmin()
		}
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("scope", string(scope)).Msg("failed to persist token invalidation")
		return
	}
	c.logger.Info().Str("scope", string(scope)).Msg("backend rejected token, cleared")
}

func (c *Credentials) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	state := SessionState{
		HasAccessToken: c.visitor.AccessToken != "" && tokenUsable(c.visitor.AccessToken, now),
	}
	if c.visitor.AdminToken != "" {
		state.HasAdminToken = true
		state.AdminEmail = c.visitor.AdminEmail
		state.AdminExpiresAt = c.visitor.AdminExpiresAt
	}
	return state
}

func (c *Credentials) AdminEmail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visitor.AdminEmail
}

func (c *Credentials) update(ctx context.Context, mutate func(v *Visitor)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mutate(c.visitor)
	c.visitor.LastSeenAt = c.now().UTC()
	return c.store.Save(ctx, c.visitor)
}

type SessionState struct {
	HasAccessToken bool       `json:"has_access_token"`
	HasAdminToken  bool       `json:"has_admin_token"`
	AdminEmail     string     `json:"admin_email,omitempty"`
	AdminExpiresAt *time.Time `json:"admin_expires_at,omitempty"`
}
