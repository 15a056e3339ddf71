package driftgate

import (
	"net/http"
	"time"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout. Defaults to 10s. Ignored
// when WithHTTPClient supplies a client of its own.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHeader adds a header to every request, e.g. an auth token for a
// reverse proxy in front of the daemon.
func WithHeader(name, value string) Option {
	return func(c *clientConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[name] = value
	}
}

// SubmitOption configures a single Submit call.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	timestamp int64
}

// SubmitAt overrides the observation timestamp (epoch milliseconds).
// The default is the wall clock at call time. Timestamps must strictly
// increase per subject.
func SubmitAt(epochMS int64) SubmitOption {
	return func(s *submitConfig) { s.timestamp = epochMS }
}
