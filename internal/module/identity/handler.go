package identity

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
)

type IdentityHandler struct {
	service IdentityService
	guard   *SessionGuard
}

func NewIdentityHandler(service IdentityService, guard *SessionGuard) *IdentityHandler {
	return &IdentityHandler{
		service: service,
		guard:   guard,
	}
}

func (h *IdentityHandler) GetSession(c *fiber.Ctx) error {
	creds, err := CredentialsFrom(c)
	if err != nil {
		return err
	}
	return middleware.OK(c, creds.State())
}

func (h *IdentityHandler) SetAccessToken(c *fiber.Ctx) error {
	creds, err := CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req AccessTokenRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	state, err := h.service.SetAccessToken(c.UserContext(), creds, req.AccessToken)
	if err != nil {
		return err
	}
	return middleware.OK(c, state)
}

func (h *IdentityHandler) EndSession(c *fiber.Ctx) error {
	creds, err := CredentialsFrom(c)
	if err != nil {
		return err
	}

	if err := h.service.End(c.UserContext(), creds); err != nil {
		return err
	}
	h.guard.clear(c)

	return middleware.OK(c, fiber.Map{"ended": true})
}

func (h *IdentityHandler) AdminLogin(c *fiber.Ctx) error {
	creds, err := CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req LoginRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	state, err := h.service.AdminLogin(c.UserContext(), creds, req, OriginFrom(c))
	if err != nil {
		return err
	}
	return middleware.OK(c, state)
}

func (h *IdentityHandler) AdminLogout(c *fiber.Ctx) error {
	creds, err := CredentialsFrom(c)
	if err != nil {
		return err
	}

	state, err := h.service.AdminLogout(c.UserContext(), creds, OriginFrom(c))
	if err != nil {
		return err
	}
	return middleware.OK(c, state)
}
