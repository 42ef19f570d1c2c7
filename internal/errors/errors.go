// Package errors defines the service error taxonomy shared by all handlers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of service error.
type ErrorCode string

const (
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
	CodeFreeTierExceeded     ErrorCode = "FREE_TIER_EXCEEDED"
	CodeEmailTaken           ErrorCode = "EMAIL_TAKEN"
	CodeInvalidCredentials   ErrorCode = "INVALID_CREDENTIALS"
	CodeInvalidToken         ErrorCode = "INVALID_TOKEN"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeForbidden            ErrorCode = "FORBIDDEN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeInviteCreationFailed ErrorCode = "INVITE_CREATION_FAILED"
	CodeInviteExpired        ErrorCode = "INVITE_EXPIRED"
	CodeSelfAccept           ErrorCode = "SELF_ACCEPT"
	CodeInvalidCode          ErrorCode = "INVALID_CODE"
	CodeAIUnavailable        ErrorCode = "AI_UNAVAILABLE"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is a structured error carrying an HTTP status and a stable code.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"error"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	cause      error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// WithDetails attaches a key/value pair to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetServiceError extracts a *ServiceError from err, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// RateLimitExceeded signals the caller exceeded the request rate limit.
func RateLimitExceeded(retryAfterSeconds int) *ServiceError {
	return (&ServiceError{
		Code:       CodeRateLimited,
		Message:    "Too many requests. Please try again later.",
		HTTPStatus: http.StatusTooManyRequests,
	}).WithDetails("retryAfter", retryAfterSeconds)
}

// FreeTierExceeded signals the anonymous token budget is exhausted.
func FreeTierExceeded(limit int) *ServiceError {
	return (&ServiceError{
		Code:       CodeFreeTierExceeded,
		Message:    "Free tier limit reached. Please sign in to continue.",
		HTTPStatus: http.StatusPaymentRequired,
	}).WithDetails("limit", limit)
}

// EmailTaken signals the email is already registered.
func EmailTaken() *ServiceError {
	return &ServiceError{
		Code:       CodeEmailTaken,
		Message:    "Email already registered",
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidCredentials is returned for any login failure. The message is
// identical whether the email or the password was wrong, to avoid
// account enumeration.
func InvalidCredentials() *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidCredentials,
		Message:    "Invalid email or password",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InvalidToken is returned for any session token failure: malformed,
// expired, or wrong signature.
func InvalidToken(cause error) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidToken,
		Message:    "Invalid or expired token",
		HTTPStatus: http.StatusUnauthorized,
		cause:      cause,
	}
}

// Unauthorized signals a missing or unusable identity.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden signals the caller lacks access to the resource.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Forbidden"
	}
	return &ServiceError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound signals a missing resource.
func NotFound(resource string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidInput signals a malformed request body or parameter.
func InvalidInput(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InviteCreationFailed signals code generation exhausted its retry budget.
func InviteCreationFailed() *ServiceError {
	return &ServiceError{
		Code:       CodeInviteCreationFailed,
		Message:    "Failed to create invite",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// InviteExpired signals the invite is past its expiry.
func InviteExpired() *ServiceError {
	return &ServiceError{
		Code:       CodeInviteExpired,
		Message:    "Invite expired",
		HTTPStatus: http.StatusBadRequest,
	}
}

// SelfAccept signals a user tried to accept their own invite.
func SelfAccept() *ServiceError {
	return &ServiceError{
		Code:       CodeSelfAccept,
		Message:    "Cannot accept your own invite",
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidCode signals an unknown invite code.
func InvalidCode() *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidCode,
		Message:    "Invalid code",
		HTTPStatus: http.StatusNotFound,
	}
}

// AIUnavailable signals the provider could not produce a chat reply.
func AIUnavailable(cause error) *ServiceError {
	return &ServiceError{
		Code:       CodeAIUnavailable,
		Message:    "Failed to generate response. Please try again in a moment.",
		HTTPStatus: http.StatusBadGateway,
		cause:      cause,
	}
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	if message == "" {
		message = "An error occurred"
	}
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		cause:      cause,
	}
}
