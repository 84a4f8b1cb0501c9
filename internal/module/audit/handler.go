package audit

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
)

type AuditHandler struct {
	reader Reader
}

func NewAuditHandler(reader Reader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	if h.reader == nil {
		return failure.Missing("The audit trail is not stored on this server.")
	}

	var query Query
	if err := middleware.BindQuery(c, &query); err != nil {
		return err
	}

	page, err := h.reader.List(c.UserContext(), query)
	if err != nil {
		return failure.Wrap(failure.Server, "failed to read audit trail", err)
	}

	return middleware.OK(c, page)
}
