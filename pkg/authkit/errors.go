package authkit

import (
	"errors"
	"fmt"
)

// Kind is a stable error category consumers can branch on instead of
// matching message text.
type Kind string

const (
	// KindAuthenticationFailed: the login flow was cancelled, rejected, or
	// produced an invalid result.
	KindAuthenticationFailed Kind = "authentication_failed"

	// KindTokenExpired: no usable access token is available.
	KindTokenExpired Kind = "token_expired"

	// KindRefreshFailed: the refresh token is absent, inactive, or the
	// exchange failed. Always accompanied by full local-state clearing.
	KindRefreshFailed Kind = "refresh_failed"

	// KindLogoutFailed: local cleanup itself failed.
	KindLogoutFailed Kind = "logout_failed"

	// KindNetworkError: transport failure or non-2xx on userinfo or token
	// exchange calls.
	KindNetworkError Kind = "network_error"

	// KindStorageError: secure-store write or delete failure.
	KindStorageError Kind = "storage_error"

	// KindIntrospectionFailed: raw introspection transport failure. Internal
	// validity checks swallow this to inactive instead.
	KindIntrospectionFailed Kind = "introspection_failed"

	// KindConfigurationError: malformed engine configuration.
	KindConfigurationError Kind = "configuration_error"
)

// AuthError is the single error type raised by the SDK. Every raised error
// carries a stable Kind and a human-readable description; the underlying
// cause, when any, is available through errors.Unwrap.
type AuthError struct {
	Kind        Kind
	Description string
	Err         error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *AuthError) Unwrap() error { return e.Err }

// newError creates an AuthError without an underlying cause.
func newError(kind Kind, description string) *AuthError {
	return &AuthError{Kind: kind, Description: description}
}

// wrapError creates an AuthError wrapping an underlying cause.
func wrapError(kind Kind, description string, err error) *AuthError {
	return &AuthError{Kind: kind, Description: description, Err: err}
}

// KindOf extracts the Kind from err, or "" when err is not an AuthError.
func KindOf(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// IsKind reports whether err is an AuthError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
