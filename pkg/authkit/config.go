package authkit

import (
	"fmt"
	"strings"
)

// Response type values for the authorization request.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// Config identifies this client to the authorization server. It is immutable
// for the lifetime of one Engine instance.
type Config struct {
	// BaseURL is the authorization server base URL. Discovery, token,
	// userinfo, logout and introspection endpoints all hang off it.
	BaseURL string

	// ClientID is the registered OAuth2 client identifier. Required.
	ClientID string

	// RedirectURI is where the browser redirect lands after authorization.
	// Must carry a scheme (e.g. "app://callback"). Required.
	RedirectURI string

	// ResponseType is the authorization response type, "code" (default)
	// or "token".
	ResponseType string
}

// withDefaults returns a copy with defaults applied.
func (c Config) withDefaults() Config {
	if c.ResponseType == "" {
		c.ResponseType = ResponseTypeCode
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	return c
}

// Validate checks the configuration, returning a configuration_error
// describing the first problem found.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return newError(KindConfigurationError, "base URL must not be empty")
	}
	if c.ClientID == "" {
		return newError(KindConfigurationError, "client ID must not be empty")
	}
	if !strings.Contains(c.RedirectURI, "://") {
		return newError(KindConfigurationError,
			fmt.Sprintf("redirect URI %q must contain a scheme separator", c.RedirectURI))
	}
	if rt := c.ResponseType; rt != "" && rt != ResponseTypeCode && rt != ResponseTypeToken {
		return newError(KindConfigurationError,
			fmt.Sprintf("response type %q is not supported", rt))
	}
	return nil
}
