package identity

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/config"
	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
)

const localsCredentials = "identity.credentials"

type SessionGuard struct {
	service IdentityService
	cookie  config.VisitorConfig
}

func NewSessionGuard(service IdentityService, cookie config.VisitorConfig) *SessionGuard {
	return &SessionGuard{service: service, cookie: cookie}
}

// Attach loads or starts the visitor session named by the cookie and keeps
// the cookie's expiry in step with the session's sliding TTL.
func (g *SessionGuard) Attach() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := c.Locals(localsCredentials).(*Credentials); ok {
			return c.Next()
		}

		creds, _, err := g.service.Begin(c.UserContext(), c.Cookies(g.cookie.CookieName))
		if err != nil {
			return err
		}

		c.Cookie(&fiber.Cookie{
			Name:     g.cookie.CookieName,
			Value:    creds.VisitorID(),
			Path:     "/",
			Expires:  time.Now().Add(g.cookie.TTL),
			HTTPOnly: true,
			Secure:   g.cookie.SecureCookie,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		c.Locals(localsCredentials, creds)

		return c.Next()
	}
}

func (g *SessionGuard) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		creds, err := CredentialsFrom(c)
		if err != nil {
			return err
		}
		if creds.Token(backend.ScopeAdmin) == "" {
			return failure.New(failure.Unauthorized, "Admin login required.")
		}
		return c.Next()
	}
}

func (g *SessionGuard) clear(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     g.cookie.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   g.cookie.SecureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// CredentialsFrom returns the credentials Attach stored on the request.
func CredentialsFrom(c *fiber.Ctx) (*Credentials, error) {
	creds, ok := c.Locals(localsCredentials).(*Credentials)
	if !ok || creds == nil {
		return nil, failure.New(failure.Server, "no visitor session attached to request")
	}
	return creds, nil
}

func OriginFrom(c *fiber.Ctx) audit.Origin {
	origin := audit.Origin{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
	if creds, err := CredentialsFrom(c); err == nil {
		origin.Actor = creds.AdminEmail()
	}
	return origin
}
