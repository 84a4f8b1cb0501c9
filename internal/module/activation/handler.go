package activation

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/identity"
)

type InputRequest struct {
	Index *int   `json:"index" validate:"required,min=0"`
	Value string `json:"value" validate:"max=16"`
}

type BackspaceRequest struct {
	Index *int `json:"index" validate:"required,min=0"`
}

type CodeRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

type ActivationHandler struct {
	service ActivationService
}

func NewActivationHandler(service ActivationService) *ActivationHandler {
	return &ActivationHandler{service: service}
}

func (h *ActivationHandler) Initiate(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req InitiateRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	view, err := h.service.Initiate(c.UserContext(), caller, req)
	if err != nil {
		return err
	}
	return middleware.Respond(c, fiber.StatusCreated, view)
}

func (h *ActivationHandler) Get(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	view, err := h.service.Get(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *ActivationHandler) Input(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req InputRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	view, err := h.service.Input(c.UserContext(), caller, c.Params("id"), *req.Index, req.Value)
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *ActivationHandler) Backspace(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req BackspaceRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	view, err := h.service.Backspace(c.UserContext(), caller, c.Params("id"), *req.Index)
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *ActivationHandler) Fill(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req CodeRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	view, err := h.service.Fill(c.UserContext(), caller, c.Params("id"), req.Code)
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *ActivationHandler) Verify(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	view, err := h.service.Verify(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *ActivationHandler) Resend(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	view, err := h.service.Resend(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *ActivationHandler) Close(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	if err := h.service.Close(c.UserContext(), caller, id); err != nil {
		return err
	}
	return middleware.OK(c, fiber.Map{"id": id, "state": StateClosed})
}

func (h *ActivationHandler) Card(c *fiber.Ctx) error {
	caller, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	card, err := h.service.Card(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return middleware.OK(c, card)
}
