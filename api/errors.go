package api

import (
	"errors"
	"net/http"

	"github.com/eladsnd/sunday/domain"
)

var (
	errDuplicateRequest = errors.New("duplicate request")
	errLedgerDisabled   = domain.NotFoundf("automation failure ledger is not configured")
)

type errorResponse struct {
	Error string `json:"error"`
}

// unauthorizedError marks authentication failures.
type unauthorizedError struct{ err error }

func (e unauthorizedError) Error() string { return e.err.Error() }
func (e unauthorizedError) Unwrap() error { return e.err }

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var unauth unauthorizedError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &unauth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, errDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// errorStage names the failing step for the metrics line.
func errorStage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "auth"
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	}
	return "internal"
}
