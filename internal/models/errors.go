package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error codes carried by AppError.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
	CodeTransient    = "TRANSIENT"
	CodeMalformed    = "MALFORMED_RELATIONSHIP"
	CodeConflict     = "CONFLICT"
)

var (
	// ErrUniqueViolation marks a duplicate insert on a unique key.
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrSelfRelationship is returned for a relationship between a user and themselves.
	ErrSelfRelationship = errors.New("relationship requires two distinct users")
	// ErrMalformedReply is returned for a reply whose parent is not a root comment.
	ErrMalformedReply = errors.New("reply parent must be a root comment")
	// ErrMutationTimeout is returned when a remote write does not complete in time.
	ErrMutationTimeout = errors.New("remote write timed out")
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

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
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

// NewTransientError wraps a failure the caller may retry.
func NewTransientError(err error) *AppError {
	return &AppError{
		Code:    CodeTransient,
		Message: "Remote store unavailable, try again",
		Err:     err,
	}
}

// NewMalformedError rejects a relationship before any remote call is issued.
func NewMalformedError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeMalformed,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the AppError code in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsUniqueViolation reports whether err is a uniqueness violation from
// Postgres (SQLSTATE 23505), SQLite, or an already classified error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUniqueViolation) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if CodeOf(err) == CodeTransient {
		return true
	}
	if errors.Is(err, ErrMutationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsMalformed reports whether err rejected a relationship as malformed.
func IsMalformed(err error) bool {
	return CodeOf(err) == CodeMalformed ||
		errors.Is(err, ErrSelfRelationship) ||
		errors.Is(err, ErrMalformedReply)
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeValidation, CodeMalformed:
		return fiber.StatusBadRequest
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeConflict:
		return fiber.StatusConflict
	case CodeTransient:
		return fiber.StatusServiceUnavailable
	}
	if IsMalformed(err) {
		return fiber.StatusBadRequest
	}
	if IsTransient(err) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
