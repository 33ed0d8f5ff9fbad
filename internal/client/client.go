// Package client talks to the roster remote authority API. It implements the
// remote halves the local engine depends on: identity checks, profile reads
// and writes, the one-time-code flow and record upload.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alecgard/roster/internal/account"
	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/session"
	"github.com/alecgard/roster/internal/upload"
)

var (
	_ session.IdentityChecker = (*Client)(nil)
	_ session.Connectivity    = (*Client)(nil)
	_ profile.Fetcher         = (*Client)(nil)
	_ account.Authenticator   = (*Client)(nil)
	_ account.ProfileWriter   = (*Client)(nil)
	_ upload.Applier          = (*Client)(nil)
)

// Client is an HTTP client for the roster API.
type Client struct {
	endpoint     string
	httpClient   *http.Client
	probeTimeout time.Duration
	tokens       TokenSource
	logger       *slog.Logger
}

// Organization is a remote organization record.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a Client for the API at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("endpoint must be an http(s) URL, got %q", endpoint)
	}

	o := options{
		timeout:      defaultTimeout,
		probeTimeout: defaultProbeTimeout,
		tokens:       func() string { return "" },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		httpClient:   o.httpClient,
		probeTimeout: o.probeTimeout,
		tokens:       o.tokens,
		logger:       o.logger,
	}, nil
}

// Online implements session.Connectivity by probing /health. Any HTTP
// answer, healthy or not, means the network path works.
func (c *Client) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("connectivity probe failed", "error", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}

// WhoAmI implements session.IdentityChecker. An explicit 401 or 403 is
// reported as session.ErrRejected; everything else is left for the validator
// to treat as inconclusive.
func (c *Client) WhoAmI(ctx context.Context, token string) (*session.Identity, error) {
	var id session.Identity
	err := c.doJSON(ctx, requestConfig{
		method: http.MethodGet,
		path:   "/api/v1/auth/me",
		token:  token,
	}, &id)
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return nil, fmt.Errorf("%w: %w", session.ErrRejected, err)
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// FetchProfile implements profile.Fetcher. A missing row is reported as
// profile.ErrNoRows.
func (c *Client) FetchProfile(ctx context.Context, ownerID string) (*profile.Profile, error) {
	var p profile.Profile
	err := c.doJSON(ctx, requestConfig{
		method:     http.MethodGet,
		path:       "/api/v1/profiles/%s",
		pathParams: []string{ownerID},
		authed:     true,
	}, &p)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound && apiErr.Code == codeNoRows {
			return nil, fmt.Errorf("%w: %w", profile.ErrNoRows, err)
		}
		return nil, err
	}
	return &p, nil
}

// CreateProfile implements account.ProfileWriter.
func (c *Client) CreateProfile(ctx context.Context, in profile.CreateInput) error {
	return c.doNoContent(ctx, requestConfig{
		method:      http.MethodPut,
		path:        "/api/v1/profiles/me",
		body:        in,
		authed:      true,
		expectCodes: []int{http.StatusOK},
	})
}

// AttachOrganization attaches the signed-in identity's profile to orgID.
func (c *Client) AttachOrganization(ctx context.Context, orgID, role string) (*profile.Profile, error) {
	var p profile.Profile
	err := c.doJSON(ctx, requestConfig{
		method: http.MethodPut,
		path:   "/api/v1/profiles/me/organization",
		body:   map[string]string{"org_id": orgID, "role": role},
		authed: true,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrganization creates an organization owned by the signed-in identity.
func (c *Client) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	var org Organization
	err := c.doJSON(ctx, requestConfig{
		method:      http.MethodPost,
		path:        "/api/v1/organizations",
		body:        map[string]string{"name": name},
		authed:      true,
		expectCodes: []int{http.StatusCreated},
	}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// SendChallenge implements account.Authenticator.
func (c *Client) SendChallenge(ctx context.Context, handle string) error {
	return c.doNoContent(ctx, requestConfig{
		method:      http.MethodPost,
		path:        "/api/v1/auth/challenge",
		body:        map[string]string{"handle": handle},
		expectCodes: []int{http.StatusAccepted},
	})
}

// VerifyChallenge implements account.Authenticator.
func (c *Client) VerifyChallenge(ctx context.Context, handle, code string) (*account.Verification, error) {
	var v account.Verification
	err := c.doJSON(ctx, requestConfig{
		method: http.MethodPost,
		path:   "/api/v1/auth/verify",
		body:   map[string]string{"handle": handle, "code": code},
	}, &v)
	if err != nil {
		return nil, err
	}
	if v.Session.Token == "" || v.Session.OwnerID == "" {
		return nil, errors.New("verify response carried no session")
	}
	return &v, nil
}

// SignOut implements account.Authenticator.
func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.doNoContent(ctx, requestConfig{
		method:      http.MethodPost,
		path:        "/api/v1/auth/logout",
		token:       token,
		expectCodes: []int{http.StatusNoContent},
	})
}
