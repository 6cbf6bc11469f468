// Package middleware holds the HTTP middleware shared by the API and worker servers.
package middleware

import (
	"errors"
	"strconv"
	"strings"

	"editions/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errMissingHeader = errors.New("Authorization header required")
	errHeaderFormat  = errors.New("Invalid authorization header format")
	errInvalidToken  = errors.New("Invalid or expired token")
	errSubject       = errors.New("Invalid user ID in token")
)

// parseBearer validates the bearer token on c and returns its claims.
func parseBearer(c *fiber.Ctx) (jwt.MapClaims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errHeaderFormat
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}
	return claims, nil
}

// subjectID reads the numeric user id from the "sub" claim (RFC 7519).
func subjectID(claims jwt.MapClaims) (uint, error) {
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, errSubject
	}
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return 0, errSubject
	}
	return uint(id), nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
}

// AuthRequired is a middleware that enforces authentication for protected routes.
// It stores the caller's id in c.Locals("userID") and whether the token carries
// the admin claim in c.Locals("isAdmin").
func AuthRequired(c *fiber.Ctx) error {
	claims, err := parseBearer(c)
	if err != nil {
		return unauthorized(c, err)
	}
	userID, err := subjectID(claims)
	if err != nil {
		return unauthorized(c, err)
	}

	admin, _ := claims["admin"].(bool)
	c.Locals("userID", userID)
	c.Locals("isAdmin", admin)
	c.SetUserContext(WithUserID(c.UserContext(), userID))
	return c.Next()
}

// AdminRequired rejects callers whose token lacks the admin claim. It must run
// after AuthRequired.
func AdminRequired(c *fiber.Ctx) error {
	if admin, _ := c.Locals("isAdmin").(bool); !admin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin access required",
		})
	}
	return c.Next()
}

// UserID returns the authenticated caller set by AuthRequired.
func UserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("userID").(uint)
	return id, ok && id != 0
}
