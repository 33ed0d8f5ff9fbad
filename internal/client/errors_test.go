package client

import (
	"errors"
	"testing"
)

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		name       string
		apiError   *APIError
		target     error
		wantResult bool
	}{
		{"400 matches ErrBadRequest", &APIError{StatusCode: 400}, ErrBadRequest, true},
		{"401 matches ErrUnauthorized", &APIError{StatusCode: 401}, ErrUnauthorized, true},
		{"403 matches ErrForbidden", &APIError{StatusCode: 403}, ErrForbidden, true},
		{"404 matches ErrNotFound", &APIError{StatusCode: 404, Code: codeNoRows}, ErrNotFound, true},
		{"409 matches ErrConflict", &APIError{StatusCode: 409}, ErrConflict, true},
		{"422 matches ErrUnprocessable", &APIError{StatusCode: 422}, ErrUnprocessable, true},
		{"429 matches ErrRateLimited", &APIError{StatusCode: 429}, ErrRateLimited, true},
		{"500 matches ErrServerError", &APIError{StatusCode: 500}, ErrServerError, true},
		{"503 matches ErrServerError", &APIError{StatusCode: 503}, ErrServerError, true},
		{"401 does NOT match ErrForbidden", &APIError{StatusCode: 401}, ErrForbidden, false},
		{"418 matches nothing", &APIError{StatusCode: 418}, ErrBadRequest, false},
		{"500 does NOT match ErrNoToken", &APIError{StatusCode: 500}, ErrNoToken, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.apiError, tt.target); got != tt.wantResult {
				t.Errorf("errors.Is() = %v, want %v", got, tt.wantResult)
			}
		})
	}
}

func TestNewAPIErrorFromResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "envelope",
			status:      404,
			body:        `{"error":{"code":"no_rows","message":"no row for that id"}}`,
			wantCode:    "no_rows",
			wantMessage: "no row for that id",
		},
		{
			name:        "plain text body falls back to status text",
			status:      502,
			body:        "bad gateway",
			wantMessage: "Bad Gateway",
		},
		{
			name:        "envelope without message keeps status text",
			status:      429,
			body:        `{"error":{"code":"rate_limited"}}`,
			wantCode:    "rate_limited",
			wantMessage: "Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newAPIErrorFromResponse(tt.status, []byte(tt.body), "req-1")
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
			if got.RequestID != "req-1" {
				t.Errorf("RequestID = %q", got.RequestID)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	withCode := &APIError{StatusCode: 404, Code: "no_rows", Message: "missing"}
	if got := withCode.Error(); got != "roster api error (status 404, code no_rows): missing" {
		t.Errorf("Error() = %q", got)
	}
	noCode := &APIError{StatusCode: 500, Message: "boom"}
	if got := noCode.Error(); got != "roster api error (status 500): boom" {
		t.Errorf("Error() = %q", got)
	}
}
