// Package apperr holds the error taxonomy shared by every core package.
// Core code wraps and returns these; only the HTTP layer turns them into
// status codes, and nothing below the HTTP layer logs.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the operation needs an identity and none was given.
	// The caller can obtain one and retry the exact same call.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the target id does not exist (deleted or never was).
	ErrNotFound = errors.New("not found")

	// ErrConflict means a mutation lost a race even after the internal retry.
	ErrConflict = errors.New("conflict")

	// ErrInvalid means malformed input: unknown sort, corrupt cursor, bad id.
	ErrInvalid = errors.New("invalid input")

	// ErrStorage means the store failed; writes were rolled back.
	ErrStorage = errors.New("storage failure")
)

// Storage wraps a driver error so callers can match ErrStorage while the
// underlying cause stays reachable through errors.Unwrap.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// Invalid wraps a description of what was malformed.
func Invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}

// HTTPStatus maps a taxonomy error to the status the handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
