package server

import (
	"errors"
	"log/slog"

	"editions/internal/middleware"
	"editions/internal/models"

	"github.com/gofiber/fiber/v2"
)

// StripeWebhook handles POST /api/webhooks/stripe. A bad signature is a 400;
// a processing failure is a 500 so the processor redelivers the event. Supply
// exhaustion cannot clear on redelivery and is acknowledged.
func (s *Server) StripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	event, err := s.Webhooks.Verify(payload, c.Get("Stripe-Signature"))
	if err != nil {
		middleware.Logger.WarnContext(c.UserContext(), "webhook rejected", slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid webhook signature"))
	}

	if err := s.Webhooks.Handle(c.UserContext(), event); err != nil {
		if errors.Is(err, models.ErrSupplyExhausted) {
			middleware.Logger.ErrorContext(c.UserContext(), "webhook acknowledged without settlement",
				slog.Bool("alert", true),
				slog.String("event_id", event.ID), slog.String("error", err.Error()))
			return c.JSON(fiber.Map{"received": true})
		}
		middleware.Logger.ErrorContext(c.UserContext(), "webhook handling failed",
			slog.String("event_id", event.ID), slog.String("event_type", string(event.Type)), slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"received": true})
}
