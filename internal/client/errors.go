package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for use with errors.Is()
var (
	// ErrNotFound indicates the requested resource was not found (HTTP 404).
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates invalid or missing authentication (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates insufficient permissions (HTTP 403).
	ErrForbidden = errors.New("forbidden")

	// ErrBadRequest indicates invalid request parameters (HTTP 400).
	ErrBadRequest = errors.New("bad request")

	// ErrConflict indicates a resource conflict (HTTP 409).
	ErrConflict = errors.New("resource conflict")

	// ErrUnprocessable indicates semantic validation failure (HTTP 422).
	ErrUnprocessable = errors.New("unprocessable entity")

	// ErrRateLimited indicates too many requests (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrServerError indicates a server-side failure (HTTP 5xx).
	ErrServerError = errors.New("server error")

	// ErrNoToken is returned by authenticated calls made without a session.
	ErrNoToken = errors.New("no session token")
)

// codeNoRows is the error code the server uses for a missing row.
const codeNoRows = "no_rows"

// APIError represents an error response from the roster API.
type APIError struct {
	StatusCode int    // HTTP status code
	Code       string // Error code from the response envelope
	Message    string // Error message from the response envelope
	RequestID  string // X-Request-ID response header, for correlating server logs
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("roster api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("roster api error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status. It lets the upload connector
// classify failures without importing this package.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Is implements errors.Is() for comparing with sentinel errors.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == ErrBadRequest
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusConflict:
		return target == ErrConflict
	case http.StatusUnprocessableEntity:
		return target == ErrUnprocessable
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return target == ErrServerError
	}
	return false
}

// newAPIErrorFromResponse creates an APIError, extracting the code and
// message from the JSON error envelope when the body carries one.
func newAPIErrorFromResponse(statusCode int, body []byte, requestID string) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Message:    http.StatusText(statusCode),
		RequestID:  requestID,
	}

	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		if env.Error.Message != "" {
			apiErr.Message = env.Error.Message
		}
		apiErr.Code = env.Error.Code
	}

	return apiErr
}

// isExpectedStatus checks if the status code is in the expected list.
// If expected is empty, it defaults to checking for 200 OK.
func isExpectedStatus(code int, expected []int) bool {
	if len(expected) == 0 {
		return code == http.StatusOK
	}
	for _, e := range expected {
		if code == e {
			return true
		}
	}
	return false
}
