package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("caregiverId", "is required"), http.StatusBadRequest},
		{"not found", &NotFoundError{Entity: "visit record", ID: "x"}, http.StatusNotFound},
		{"conflict", Conflict("record is %s", "APPROVED"), http.StatusConflict},
		{"wrapped conflict", fmt.Errorf("review: %w", Conflict("stale")), http.StatusConflict},
		{"jurisdiction", &UnsupportedJurisdictionError{Code: "ZZ"}, http.StatusUnprocessableEntity},
		{"transport", &TransportError{Destination: "dc-sandata", StatusCode: 503}, http.StatusBadGateway},
		{"exhausted", &SyncExhaustedError{ItemID: "1", Attempts: 3}, http.StatusConflict},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestTransportError_UnwrapsCause(t *testing.T) {
	err := &TransportError{Destination: "virginia-mco", Timeout: true, Err: context.DeadlineExceeded}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected transport error to unwrap to context.DeadlineExceeded")
	}
	if !errors.Is(err, ErrTransport) {
		t.Error("expected transport error to match ErrTransport")
	}
}

func TestValidationError_Message(t *testing.T) {
	err := Validation("timeOut", "must be after timeIn")
	if err.Error() != "timeOut: must be after timeIn" {
		t.Errorf("unexpected message %q", err.Error())
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "timeOut" {
		t.Error("expected errors.As to expose the field")
	}
}

func TestToHTTP_HidesInternalErrors(t *testing.T) {
	err := ToHTTP(errors.New("pq: relation does not exist"))
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("unexpected message %v", he.Message)
	}
}
