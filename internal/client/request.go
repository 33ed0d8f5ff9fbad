package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// requestConfig contains parameters for an HTTP request.
type requestConfig struct {
	method      string          // HTTP method
	path        string          // URL path template, e.g. "/api/v1/profiles/%s"
	pathParams  []string        // Parameters to substitute in path (will be URL-escaped)
	body        interface{}     // Request body (will be JSON-encoded)
	rawBody     json.RawMessage // Pre-encoded JSON body; wins over body
	authed      bool            // Attach the token source's bearer token
	token       string          // Explicit bearer token; wins over authed
	expectCodes []int           // Expected HTTP status codes (default: 200)
}

// doRequest executes an API request with authentication, URL building, and error handling.
func (c *Client) doRequest(ctx context.Context, cfg requestConfig) ([]byte, error) {
	token := cfg.token
	if token == "" && cfg.authed {
		token = c.tokens()
		if token == "" {
			return nil, ErrNoToken
		}
	}

	var bodyReader io.Reader
	switch {
	case cfg.rawBody != nil:
		bodyReader = bytes.NewReader(cfg.rawBody)
	case cfg.body != nil:
		data, err := json.Marshal(cfg.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, c.buildURL(cfg.path, cfg.pathParams), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if !isExpectedStatus(resp.StatusCode, cfg.expectCodes) {
		return nil, newAPIErrorFromResponse(resp.StatusCode, respBody, resp.Header.Get("X-Request-ID"))
	}
	return respBody, nil
}

// doJSON executes an API request and unmarshals the JSON response into result.
func (c *Client) doJSON(ctx context.Context, cfg requestConfig, result interface{}) error {
	body, err := c.doRequest(ctx, cfg)
	if err != nil {
		return err
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// doNoContent executes an API request whose response body is ignored.
func (c *Client) doNoContent(ctx context.Context, cfg requestConfig) error {
	_, err := c.doRequest(ctx, cfg)
	return err
}

// buildURL constructs a full URL with escaped path parameters.
func (c *Client) buildURL(pathTemplate string, pathParams []string) string {
	if len(pathParams) == 0 {
		return c.endpoint + pathTemplate
	}
	escaped := make([]interface{}, len(pathParams))
	for i, p := range pathParams {
		escaped[i] = url.PathEscape(p)
	}
	return c.endpoint + fmt.Sprintf(pathTemplate, escaped...)
}
