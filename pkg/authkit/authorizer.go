package authkit

import (
	"context"
	"fmt"
	"net/url"
)

// Authorizer is the platform browser-redirect capability. The engine hands it
// the fully built authorization URL; the implementation displays it (system
// browser, custom tab, ASWebAuthenticationSession, ...) and blocks until the
// redirect back to redirectURI arrives, returning the complete callback URL.
//
// The call may suspend indefinitely - it is bounded only by user action or
// the supplied context. Cancellation and user dismissal are normal outcomes
// and should be returned as errors; the engine maps them to
// authentication_failed.
type Authorizer interface {
	Authorize(ctx context.Context, authorizeURL, redirectURI string) (callbackURL string, err error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, authorizeURL, redirectURI string) (string, error)

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, authorizeURL, redirectURI string) (string, error) {
	return f(ctx, authorizeURL, redirectURI)
}

// ParseAuthorizationCallback parses the callback URL from an authorization
// redirect, extracting the authorization code and state from the query
// parameters.
//
// Returns an error if the callback carries an OAuth2 error response (e.g. the
// user denied authorization) or no code at all.
func ParseAuthorizationCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	query := u.Query()

	// Check for error response
	if errorCode := query.Get("error"); errorCode != "" {
		errorDesc := query.Get("error_description")
		return "", "", fmt.Errorf("authorization error: %s - %s", errorCode, errorDesc)
	}

	code = query.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("callback missing authorization code")
	}

	state = query.Get("state")

	return code, state, nil
}
