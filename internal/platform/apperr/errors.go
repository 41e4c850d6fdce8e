// Package apperr defines the error taxonomy shared by the EVV core. Each
// typed error matches one sentinel so callers can branch with errors.Is and
// inspect details with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrUnsupportedJurisdiction = errors.New("unsupported jurisdiction")
	ErrTransport               = errors.New("transport failure")
	ErrSyncExhausted           = errors.New("sync attempts exhausted")
)

// ValidationError reports malformed or missing input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation builds a ValidationError for a single field.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// ConflictError reports a transition attempted from a state that does not
// allow it, including a stale optimistic version.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

type UnsupportedJurisdictionError struct {
	Code string
}

func (e *UnsupportedJurisdictionError) Error() string {
	return fmt.Sprintf("unsupported jurisdiction %q", e.Code)
}

func (e *UnsupportedJurisdictionError) Is(target error) bool {
	return target == ErrUnsupportedJurisdiction
}

// TransportError is an adapter-level delivery failure. It is always
// retryable by a later dispatch sweep.
type TransportError struct {
	Destination string
	StatusCode  int
	Timeout     bool
	Err         error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: timed out: %v", e.Destination, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: http status %d", e.Destination, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Destination, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// SyncExhaustedError describes an offline queue item that used up its sync
// attempts and now waits for manual resolution.
type SyncExhaustedError struct {
	ItemID    string
	Attempts  int
	LastError string
}

func (e *SyncExhaustedError) Error() string {
	return fmt.Sprintf("offline item %s exhausted after %d attempts: %s", e.ItemID, e.Attempts, e.LastError)
}

func (e *SyncExhaustedError) Is(target error) bool { return target == ErrSyncExhausted }

// StatusCode maps an error from the taxonomy to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrSyncExhausted):
		return http.StatusConflict
	case errors.Is(err, ErrUnsupportedJurisdiction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo HTTP error. Unclassified errors are
// reported as a generic 500 so storage details do not leak to callers.
func ToHTTP(err error) error {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error())
}
