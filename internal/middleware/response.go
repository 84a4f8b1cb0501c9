package middleware

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/package/telemetry"
)

// Envelope is the shape of every JSON body the portal writes.
type Envelope struct {
	Success bool                  `json:"success"`
	Data    any                   `json:"data,omitempty"`
	Error   *failure.Presentation `json:"error,omitempty"`
	TraceID string                `json:"trace_id,omitempty"`
}

func Respond(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{
		Success: true,
		Data:    data,
		TraceID: telemetry.GetTraceIDFromContext(c.UserContext()),
	})
}

func OK(c *fiber.Ctx, data any) error {
	return Respond(c, fiber.StatusOK, data)
}

// ErrorHandler renders any error returned by a handler through the failure
// presentation table. Fiber's own errors (unknown route, body too large) are
// classified by status.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			err = &failure.Error{
				Kind:    failure.FromStatus(fiberErr.Code),
				Message: fiberErr.Message,
				Status:  fiberErr.Code,
			}
		}

		p := failure.Present(err)
		event := logger.Debug()
		if p.Kind == failure.Server {
			event = logger.Error()
		}
		event.Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("kind", string(p.Kind)).
			Int("status", p.Status).
			Msg("request failed")

		if p.RetryAfterSeconds > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(p.RetryAfterSeconds))
		}

		return c.Status(p.Status).JSON(Envelope{
			Success: false,
			Error:   &p,
			TraceID: telemetry.GetTraceIDFromContext(c.UserContext()),
		})
	}
}
