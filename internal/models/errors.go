package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so sentinels survive WithCause.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of e wrapping err.
func (e *AppError) WithCause(err error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Err: err}
}

// Ledger and settlement error codes.
const (
	CodeSupplyExhausted      = "SUPPLY_EXHAUSTED"
	CodeAlreadyClaimed       = "ALREADY_CLAIMED"
	CodeCapacityExceeded     = "CAPACITY_EXCEEDED"
	CodeAlreadyMinted        = "ALREADY_MINTED"
	CodeMintInProgress       = "MINT_IN_PROGRESS"
	CodeFeeTooHigh           = "FEE_TOO_HIGH"
	CodeAuthorizationFailure = "AUTHORIZATION_FAILURE"
	CodeNotFound             = "NOT_FOUND"
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInternal             = "INTERNAL_ERROR"
)

var (
	ErrSupplyExhausted  = &AppError{Code: CodeSupplyExhausted, Message: "Supply for this release is exhausted"}
	ErrAlreadyClaimed   = &AppError{Code: CodeAlreadyClaimed, Message: "Release already claimed by this user"}
	ErrCapacityExceeded = &AppError{Code: CodeCapacityExceeded, Message: "Not enough supply left for this purchase"}
	ErrAlreadyMinted    = &AppError{Code: CodeAlreadyMinted, Message: "Token already has a mint transaction"}
	ErrMintInProgress   = &AppError{Code: CodeMintInProgress, Message: "Token mint is claimed by another worker"}
	ErrFeeTooHigh       = &AppError{Code: CodeFeeTooHigh, Message: "Network fee above ceiling"}
	// ErrAuthorizationFailure covers manager signing and wallet lookups.
	ErrAuthorizationFailure = &AppError{Code: CodeAuthorizationFailure, Message: "Unable to authorize mint"}
)

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// StatusFor maps an error to the HTTP status handlers respond with.
func StatusFor(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeSupplyExhausted, CodeAlreadyClaimed, CodeCapacityExceeded, CodeAlreadyMinted:
		return fiber.StatusConflict
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && status < fiber.StatusInternalServerError {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
