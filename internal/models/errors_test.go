package models

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_IsMatchesCode(t *testing.T) {
	wrapped := fmt.Errorf("reserve: %w", ErrSupplyExhausted.WithCause(errors.New("0 rows")))

	assert.True(t, errors.Is(wrapped, ErrSupplyExhausted))
	assert.False(t, errors.Is(wrapped, ErrAlreadyClaimed))
	assert.Contains(t, wrapped.Error(), "0 rows")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, fiber.StatusConflict, StatusFor(ErrCapacityExceeded))
	assert.Equal(t, fiber.StatusConflict, StatusFor(fmt.Errorf("x: %w", ErrAlreadyClaimed)))
	assert.Equal(t, fiber.StatusNotFound, StatusFor(NewNotFoundError("Post", 3)))
	assert.Equal(t, fiber.StatusBadRequest, StatusFor(NewValidationError("bad")))
	assert.Equal(t, fiber.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestRespondWithError(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return RespondWithError(c, StatusFor(ErrSupplyExhausted), ErrSupplyExhausted)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
