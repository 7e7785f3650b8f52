package service

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iliyamo/user-auth-service/internal/utils"
)

// Error kinds visible at the HTTP boundary.  Component errors (token,
// hashing, repository) are wrapped into one of these by AuthService.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrMissingToken       = errors.New("missing token")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUnavailable        = errors.New("service unavailable")
)

// Error pairs a kind with a message that is safe to show to the client.  The
// cause is kept for logs only.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// HTTPStatus maps an error to the status code of the public taxonomy.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		err = e.Kind
	}
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, utils.ErrTokenExpired),
		errors.Is(err, utils.ErrTokenInvalid),
		errors.Is(err, utils.ErrTokenTypeMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-facing text for err.  Anything that is
// not a *Error, or that maps to 500, gets a generic message.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" && HTTPStatus(e) != http.StatusInternalServerError {
		return e.Message
	}
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return strings.ToLower(http.StatusText(status))
}
