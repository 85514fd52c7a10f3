package errors

import (
	"errors"
	"net/http"
)

// AppError is an error kind that the API renders as {code, message}. Internal carries the
// cause for logs and is never sent to clients.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
	// Retryable marks transient kinds; clients may repeat the request unchanged.
	Retryable bool `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Internal != nil:
		return e.Message + ": " + e.Internal.Error()
	default:
		return e.Message
	}
}

// Unwrap exposes Internal to errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches any AppError with the same code, so copies made by WithInternal or
// WithMessage still match their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e != nil && t != nil && e.Code == t.Code
}

// WithInternal returns a copy of e carrying err as its cause.
func (e *AppError) WithInternal(err error) *AppError {
	return e.with(func(cpy *AppError) { cpy.Internal = err })
}

// WithMessage returns a copy of e with a replaced client message.
func (e *AppError) WithMessage(message string) *AppError {
	return e.with(func(cpy *AppError) { cpy.Message = message })
}

func (e *AppError) with(change func(*AppError)) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	change(&cpy)
	return &cpy
}

// New defines an error kind. Packages use it for kinds that only they produce.
func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

func transient(code, message string, statusCode int) *AppError {
	err := New(code, message, statusCode)
	err.Retryable = true
	return err
}

var (
	ErrUnauthorized   = New("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrForbidden      = New("FORBIDDEN", "Permission denied", http.StatusForbidden)
	ErrNotFound       = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrBadRequest     = New("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrValidation     = New("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	ErrInternalServer = New("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)

	// ErrScopeMismatch rejects a role kind on a scope it cannot be held at, such as an
	// admin role on a single resource.
	ErrScopeMismatch = New("SCOPE_MISMATCH", "Role kind cannot be assigned to the requested scope", http.StatusUnprocessableEntity)
	// ErrPrivilegeEscalation rejects grants above the caller's own tier.
	ErrPrivilegeEscalation = New("PRIVILEGE_ESCALATION", "Role tier exceeds the caller's own authority", http.StatusForbidden)

	ErrInfrastructure = transient("INFRASTRUCTURE_UNAVAILABLE", "A backing service is unavailable", http.StatusServiceUnavailable)
	ErrRateLimit      = transient("RATE_LIMIT_EXCEEDED", "Too many requests, please slow down", http.StatusTooManyRequests)
)

// FromError returns the AppError inside err, or ErrInternalServer wrapping err.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest reports a request that could not be decoded.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}

// NewValidation reports a malformed enumeration value, a missing field or an unknown reference.
func NewValidation(message string) *AppError {
	return ErrValidation.WithMessage(message)
}

// Infrastructure marks err as a store or cache outage.
func Infrastructure(err error) *AppError {
	return ErrInfrastructure.WithInternal(err)
}
