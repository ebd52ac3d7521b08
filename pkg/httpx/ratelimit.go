package httpx

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines client-side rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// IntrospectLimit bounds how often the SDK hits the introspection endpoint.
// Every authoritative token check is a network round trip, so a busy screen
// issuing many API calls would otherwise hammer the authorization server.
// Allows 30 requests per minute with all 30 available as a burst.
var IntrospectLimit = RateLimitConfig{
	RequestsPerWindow: 30,
	Window:            time.Minute,
	Burst:             30,
}

// RateLimitedTransport is an http.RoundTripper that throttles outgoing
// requests through a token bucket before delegating to the wrapped transport.
// Waiting respects the request context, so a bounded client timeout still
// applies end to end.
type RateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitedTransport wraps base with the given rate limit configuration.
// A nil base falls back to http.DefaultTransport.
func NewRateLimitedTransport(base http.RoundTripper, cfg RateLimitConfig) *RateLimitedTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	limit := rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds())
	return &RateLimitedTransport{
		base:    base,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
