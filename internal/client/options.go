package client

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultProbeTimeout = 2 * time.Second
	maxResponseSize     = 10 * 1024 * 1024 // 10MB
)

// TokenSource returns the bearer token for authenticated calls, or "" when
// signed out.
type TokenSource func() string

// Option configures the Client.
type Option func(*options)

type options struct {
	timeout      time.Duration
	probeTimeout time.Duration
	httpClient   *http.Client
	tokens       TokenSource
	logger       *slog.Logger
}

// WithTimeout sets the HTTP client timeout. Ignored when WithHTTPClient is used.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithProbeTimeout bounds the connectivity probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) { o.probeTimeout = d }
}

// WithHTTPClient uses c for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenSource sets where authenticated calls get their bearer token.
func WithTokenSource(ts TokenSource) Option {
	return func(o *options) { o.tokens = ts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
