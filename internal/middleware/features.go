package middleware

import (
	"log/slog"

	"editions/internal/featureflags"
	"editions/internal/models"

	"github.com/gofiber/fiber/v2"
)

// FeatureGate answers 503 when flag is off for the authenticated user.
// It must run after AuthRequired.
func FeatureGate(flags *featureflags.Manager, flag string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := UserID(c)
		if flags.Enabled(flag, userID) {
			return c.Next()
		}
		Logger.InfoContext(c.UserContext(), "feature gated",
			slog.String("flag", flag), slog.Uint64("user_id", uint64(userID)))
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "This feature is temporarily unavailable",
			Code:  "FEATURE_DISABLED",
		})
	}
}
