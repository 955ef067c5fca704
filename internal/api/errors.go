package api

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Error is returned for non-2xx responses and for bodies with success=false.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (%d): %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an
// *Error.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// retryableError marks transient failures.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// tokenError marks failures of the token source. They are not retried.
type tokenError struct {
	err error
}

func (e *tokenError) Error() string { return e.err.Error() }
func (e *tokenError) Unwrap() error { return e.err }

// tokenSource tags errors from src as tokenErrors.
type tokenSource struct {
	src oauth2.TokenSource
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, &tokenError{err: err}
	}
	return tok, nil
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
