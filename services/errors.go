package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeDurability   ErrorType = "durability"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Domain errors match when type and message agree,
// so a wrapped copy of a sentinel still matches the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e == t {
		return true
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Wrap returns a copy of the sentinel carrying cause. The copy still matches
// the sentinel under errors.Is.
func (e *DomainError) Wrap(cause error) *DomainError {
	return NewDomainError(e.Type, e.Message, cause)
}

// Domain error variables

var (
	// Not Found Errors
	ErrProviderNotFound = NewDomainError(ErrorTypeNotFound, "identity provider not found", nil)

	// Validation Errors
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrMissingParameter = NewDomainError(ErrorTypeValidation, "missing required parameter", nil)
	ErrInvalidState     = NewDomainError(ErrorTypeValidation, "invalid or expired state parameter", nil)

	// Authorization Errors
	ErrInvalidToken        = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired        = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)
	ErrAlgorithmNotAllowed = NewDomainError(ErrorTypeUnauthorized, "token signing algorithm not allowed", nil)
	ErrSessionNotFound     = NewDomainError(ErrorTypeUnauthorized, "unknown session", nil)
	ErrSessionExpired      = NewDomainError(ErrorTypeUnauthorized, "session expired", nil)

	// Permission Errors
	ErrInsufficientTier = NewDomainError(ErrorTypeForbidden, "insufficient tier", nil)

	// Internal Errors
	ErrInternal     = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrSigningKey   = NewDomainError(ErrorTypeInternal, "signing key unavailable", nil)
	ErrTokenSigning = NewDomainError(ErrorTypeInternal, "failed to sign token", nil)

	// External Provider Errors
	ErrUpstreamTransport = NewDomainError(ErrorTypeExternal, "identity provider unreachable", nil)
	ErrUpstreamStatus    = NewDomainError(ErrorTypeExternal, "identity provider returned an error status", nil)
	ErrMalformedResponse = NewDomainError(ErrorTypeExternal, "identity provider returned a malformed response", nil)

	// Durability Errors
	ErrPersistence = NewDomainError(ErrorTypeDurability, "session persistence failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return hasType(err, ErrorTypeForbidden)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return hasType(err, ErrorTypeExternal)
}

// IsDurabilityError checks if an error is a persistence error
func IsDurabilityError(err error) bool {
	return hasType(err, ErrorTypeDurability)
}

// IsVerificationError reports whether err is one of the token verification
// outcomes: expired, bad algorithm, or otherwise invalid.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrAlgorithmNotAllowed) ||
		errors.Is(err, ErrInvalidToken)
}

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
