package authkit

import (
	"encoding/json"
	"fmt"

	"github.com/meridianapp/authkit/pkg/rolex"
)

// ============================================================================
// Token Types
// ============================================================================

// TokenSet is the client-side view of an issued token pair.
// AccessToken is always present; an empty RefreshToken means the refresh
// capability is unavailable. ExpiresAt is epoch milliseconds, 0 when the
// server did not report a lifetime.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// TokenResponse represents the OAuth2 token endpoint response per RFC 6749.
// Returned for both authorization_code and refresh_token grant types.
type TokenResponse struct {
	// AccessToken is the access token used to authenticate API requests
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque refresh token used to obtain new access tokens
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is always "Bearer" per OAuth2 spec
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in,omitempty"`

	// Scope is the space-delimited list of scopes granted to this token
	Scope string `json:"scope,omitempty"`
}

// IntrospectionResponse represents the RFC 7662 token introspection response.
// When a token is inactive, only the Active field is false and other fields
// are empty.
type IntrospectionResponse struct {
	Active bool `json:"active"`

	// Optional fields (only present when active=true)
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Nbf       int64    `json:"nbf,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Aud       []string `json:"aud,omitempty"`
	Iss       string   `json:"iss,omitempty"`
	Jti       string   `json:"jti,omitempty"`
}

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
// Used internally for parsing HTTP error bodies.
type ErrorResponse struct {
	// Error is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// ============================================================================
// Discovery
// ============================================================================

// DiscoveryDocument holds the authorization server endpoint URLs, either
// fetched from the well-known metadata document or derived from conventional
// paths. Cached in memory per engine instance, never persisted.
type DiscoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	LogoutEndpoint        string `json:"logout_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
}

// complete reports whether every endpoint the engine needs is present.
func (d DiscoveryDocument) complete() bool {
	return d.AuthorizationEndpoint != "" &&
		d.TokenEndpoint != "" &&
		d.RevocationEndpoint != "" &&
		d.UserInfoEndpoint != "" &&
		d.LogoutEndpoint != "" &&
		d.IntrospectionEndpoint != ""
}

// ============================================================================
// User
// ============================================================================

// User is the authenticated user's profile as returned by the userinfo
// endpoint. Claims the SDK does not model explicitly are retained in Extra so
// nothing the server sends is lost across the cache round trip.
type User struct {
	Sub      string
	Email    string
	Name     string
	Username string
	Picture  string
	Roles    []rolex.Role
	Extra    map[string]json.RawMessage
}

// userJSON is the wire shape of User. Kept separate so User can carry the
// Extra claims map without fighting the default marshaler.
type userJSON struct {
	Sub      string       `json:"sub"`
	Email    string       `json:"email,omitempty"`
	Name     string       `json:"name,omitempty"`
	Username string       `json:"username,omitempty"`
	Picture  string       `json:"picture,omitempty"`
	Roles    []rolex.Role `json:"roles,omitempty"`
}

// knownUserClaims are the claim names absorbed into User's typed fields.
var knownUserClaims = []string{"sub", "email", "name", "username", "picture", "roles"}

// UnmarshalJSON decodes the typed fields and keeps every other claim in Extra.
func (u *User) UnmarshalJSON(data []byte) error {
	var known userJSON
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("failed to decode user: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("failed to decode user claims: %w", err)
	}
	for _, claim := range knownUserClaims {
		delete(all, claim)
	}
	if len(all) == 0 {
		all = nil
	}

	*u = User{
		Sub:      known.Sub,
		Email:    known.Email,
		Name:     known.Name,
		Username: known.Username,
		Picture:  known.Picture,
		Roles:    known.Roles,
		Extra:    all,
	}
	return nil
}

// MarshalJSON writes the typed fields merged with the Extra claims.
func (u User) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userJSON{
		Sub:      u.Sub,
		Email:    u.Email,
		Name:     u.Name,
		Username: u.Username,
		Picture:  u.Picture,
		Roles:    u.Roles,
	})
	if err != nil {
		return nil, err
	}

	if len(u.Extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for claim, value := range u.Extra {
		merged[claim] = value
	}
	return json.Marshal(merged)
}
