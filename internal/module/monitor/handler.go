package monitor

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/identity"
)

type MonitorHandler struct {
	service MonitorService
}

func NewMonitorHandler(service MonitorService) *MonitorHandler {
	return &MonitorHandler{service: service}
}

func (h *MonitorHandler) List(c *fiber.Ctx) error {
	creds, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req ListRequest
	if err := middleware.BindQuery(c, &req); err != nil {
		return err
	}

	view, err := h.service.List(c.UserContext(), creds, req)
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *MonitorHandler) Detail(c *fiber.Ctx) error {
	creds, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	view, err := h.service.Detail(c.UserContext(), creds, c.Params("id"))
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

// Expire takes the list query from the query string so the refreshed list
// matches what the operator was looking at.
func (h *MonitorHandler) Expire(c *fiber.Ctx) error {
	creds, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var list ListRequest
	if err := middleware.BindQuery(c, &list); err != nil {
		return err
	}

	view, err := h.service.Expire(c.UserContext(), creds, identity.OriginFrom(c), c.Params("id"), list)
	if err != nil {
		return err
	}
	return middleware.OK(c, view)
}

func (h *MonitorHandler) Resend(c *fiber.Ctx) error {
	creds, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req ResendRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	var list ListRequest
	if err := middleware.BindQuery(c, &list); err != nil {
		return err
	}

	result, err := h.service.Resend(c.UserContext(), creds, identity.OriginFrom(c), req, list)
	if err != nil {
		return err
	}
	return middleware.OK(c, result)
}

func (h *MonitorHandler) Export(c *fiber.Ctx) error {
	creds, err := identity.CredentialsFrom(c)
	if err != nil {
		return err
	}

	var req ListRequest
	if err := middleware.BindQuery(c, &req); err != nil {
		return err
	}

	export, err := h.service.Export(c.UserContext(), creds, identity.OriginFrom(c), req)
	if err != nil {
		return err
	}

	c.Attachment(export.Filename)
	c.Set(fiber.HeaderContentType, export.ContentType)
	return c.Status(fiber.StatusOK).Send(export.Body)
}
