package httpx

import (
	"context"
	"errors"
	"net/http"
)

// StatusError carries the HTTP status a failure should be reported with.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }

func (e *StatusError) Unwrap() error { return e.Err }

// WithStatus tags err with an HTTP status for RespondError.
func WithStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Status: status, Err: err}
}

// RespondError writes a problem response for err. Errors without a status
// are reported as 500 with no detail so internals never leak.
func RespondError(w http.ResponseWriter, err error) {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		detail := ""
		if se.Status < http.StatusInternalServerError {
			detail = se.Error()
		}
		Problem(w, se.Status, http.StatusText(se.Status), detail)
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, http.StatusText(http.StatusGatewayTimeout), "request timed out")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
