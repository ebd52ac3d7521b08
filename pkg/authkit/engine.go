package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridianapp/authkit/pkg/cryptox"
	"github.com/meridianapp/authkit/pkg/httpx"
	"github.com/meridianapp/authkit/pkg/idx"
	"github.com/meridianapp/authkit/pkg/localcache"
	"github.com/meridianapp/authkit/pkg/rolex"
	"github.com/meridianapp/authkit/pkg/securestore"
	"github.com/meridianapp/authkit/pkg/slogx"
)

const defaultHTTPTimeout = 10 * time.Second

// Engine is the auth protocol core: it orchestrates login, refresh, logout
// and the dual-layer token validity decision. One Engine manages one logical
// user session. Construct it explicitly and pass it to whoever needs it -
// there is no package-level instance.
type Engine struct {
	cfg        Config
	secrets    securestore.Store
	cache      localcache.Cache
	authorizer Authorizer
	httpc      *http.Client
	introspc   *http.Client
	log        *slog.Logger
	now        func() time.Time

	discoveryOnce sync.Once
	discovery     DiscoveryDocument

	// Concurrent refresh attempts are coalesced so a single-use refresh
	// token is only ever spent once per expiry.
	refreshGroup singleflight.Group
}

// Options carries the engine's collaborators. Zero values get test-friendly
// defaults: in-memory storage, a discarding logger, a 10s-timeout HTTP client.
type Options struct {
	// Secrets is the platform secure store holding raw tokens.
	Secrets securestore.Store

	// Cache is the non-secret local store for the cached user and expiry.
	Cache localcache.Cache

	// Authorizer drives the interactive browser redirect. Required for
	// Login; every other operation works without it.
	Authorizer Authorizer

	// HTTPClient overrides the default client used for server calls.
	HTTPClient *http.Client

	// Logger receives structured operational logs. Tokens never appear in
	// them, only fingerprints.
	Logger *slog.Logger

	// Now overrides the clock. Test hook.
	Now func() time.Time
}

// NewEngine validates cfg and assembles an engine.
func NewEngine(cfg Config, opts Options) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Secrets == nil {
		opts.Secrets = securestore.NewMemoryStore()
	}
	if opts.Cache == nil {
		opts.Cache = localcache.NewMemoryCache()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slogx.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		cfg:        cfg,
		secrets:    opts.Secrets,
		cache:      opts.Cache,
		authorizer: opts.Authorizer,
		httpc:      opts.HTTPClient,
		introspc: &http.Client{
			Timeout:   opts.HTTPClient.Timeout,
			Transport: httpx.NewRateLimitedTransport(opts.HTTPClient.Transport, httpx.IntrospectLimit),
		},
		log: opts.Logger,
		now: opts.Now,
	}, nil
}

// ============================================================================
// Login
// ============================================================================

// Login runs the interactive authorization-code-with-PKCE flow: it resolves
// the server endpoints, sends the user through the browser redirect, exchanges
// the returned code for tokens, persists them, validates the fresh access
// token via introspection and fetches the user profile.
//
// Cancellation or denial in the browser step fails with
// authentication_failed and performs no storage writes.
func (e *Engine) Login(ctx context.Context) (*User, error) {
	if e.authorizer == nil {
		return nil, newError(KindConfigurationError, "no authorizer configured for interactive login")
	}

	op := idx.New()
	log := e.log.With("op", "login", "op_id", op.String())

	disco := e.resolveDiscovery(ctx)

	pkce, err := GeneratePKCEChallenge()
	if err != nil {
		return nil, wrapError(KindAuthenticationFailed, "failed to generate PKCE challenge", err)
	}
	state := cryptox.MustGenerateToken(cryptox.TokenSize128)

	authorizeURL := e.buildAuthorizeURL(disco.AuthorizationEndpoint, state, pkce)

	log.Debug("opening authorization redirect")
	callbackURL, err := e.authorizer.Authorize(ctx, authorizeURL, e.cfg.RedirectURI)
	if err != nil {
		log.Info("authorization redirect failed", "err", err)
		return nil, wrapError(KindAuthenticationFailed, "authorization was cancelled or rejected", err)
	}

	code, gotState, err := ParseAuthorizationCallback(callbackURL)
	if err != nil {
		return nil, wrapError(KindAuthenticationFailed, "authorization callback is invalid", err)
	}
	if gotState != state {
		return nil, newError(KindAuthenticationFailed, "authorization callback state mismatch")
	}

	tokenResp, err := e.requestToken(ctx, disco.TokenEndpoint, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {pkce.Verifier},
		"redirect_uri":  {e.cfg.RedirectURI},
		"client_id":     {e.cfg.ClientID},
	})
	if err != nil {
		return nil, err
	}

	tokens := e.tokenSetFrom(tokenResp)
	if err := e.persistTokenSet(tokens); err != nil {
		return nil, err
	}

	// A just-issued token must introspect as active; anything else points at
	// a protocol or configuration problem, not ordinary expiry.
	if !e.introspectActive(ctx, tokens.AccessToken, HintAccessToken) {
		log.Warn("freshly issued access token introspected as inactive")
		return nil, newError(KindAuthenticationFailed, "freshly issued access token is not active")
	}

	user, err := e.fetchUserInfo(ctx, disco.UserInfoEndpoint, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if err := e.persistUser(user); err != nil {
		return nil, err
	}

	log.Info("login complete",
		"sub", user.Sub,
		"access_token_fp", cryptox.TokenFingerprint(tokens.AccessToken),
		"has_refresh_token", tokens.RefreshToken != "",
	)
	return user, nil
}

// ============================================================================
// Logout
// ============================================================================

// Logout ends the session. The server-side logout call is best effort -
// failures are logged and swallowed - but the local token and cache clearing
// is unconditional. Only a local cleanup failure is reported, as
// logout_failed. Safe to call repeatedly.
func (e *Engine) Logout(ctx context.Context) error {
	op := idx.New()
	log := e.log.With("op", "logout", "op_id", op.String())

	disco := e.resolveDiscovery(ctx)

	accessToken := e.storedAccessToken()
	if err := e.postLogout(ctx, disco.LogoutEndpoint, accessToken); err != nil {
		log.Warn("server logout failed, clearing local state anyway", "err", err)
	}

	if err := e.clearAuthData(); err != nil {
		return wrapError(KindLogoutFailed, "failed to clear local auth data", err)
	}

	log.Info("logout complete")
	return nil
}

// postLogout notifies the server that this client's session is over.
func (e *Engine) postLogout(ctx context.Context, endpoint, accessToken string) error {
	body, err := json.Marshal(map[string]string{"client_id": e.cfg.ClientID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("logout request failed with status %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Token access
// ============================================================================

// GetAccessToken returns a currently valid access token, or "" when no
// session exists - absence of a token is a normal outcome, not an error.
//
// The validity decision is two-layered: the token's claimed expiry is decoded
// locally first (free, catches ordinary expiry), then the server's
// introspection endpoint delivers the authoritative verdict (catches
// revocation, which is invisible locally). Either layer failing triggers one
// refresh attempt before giving up.
func (e *Engine) GetAccessToken(ctx context.Context) (string, error) {
	return e.getAccessToken(ctx, true)
}

// GetAccessTokenFast is GetAccessToken without the server introspection
// round trip. Call sites that tolerate a token being revoked server-side
// without noticing (ordinary API calls that will fail a 401 anyway) can use
// this to avoid the extra latency.
func (e *Engine) GetAccessTokenFast(ctx context.Context) (string, error) {
	return e.getAccessToken(ctx, false)
}

func (e *Engine) getAccessToken(ctx context.Context, authoritative bool) (string, error) {
	accessToken := e.storedAccessToken()

	if !locallyValid(accessToken, e.now()) {
		refreshed, err := e.RefreshAccessToken(ctx)
		if err != nil {
			return "", nil
		}
		return refreshed, nil
	}

	if authoritative && !e.introspectActive(ctx, accessToken, HintAccessToken) {
		// Locally fine but revoked server-side; the server wins.
		refreshed, err := e.RefreshAccessToken(ctx)
		if err != nil {
			return "", nil
		}
		return refreshed, nil
	}

	return accessToken, nil
}

// BearerToken is GetAccessToken for call sites that treat a missing session
// as exceptional: it returns token_expired instead of "".
func (e *Engine) BearerToken(ctx context.Context) (string, error) {
	accessToken, err := e.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}
	if accessToken == "" {
		return "", newError(KindTokenExpired, "no usable access token")
	}
	return accessToken, nil
}

// IsAuthenticated reports whether a valid session exists. Never errors for
// "no session".
func (e *Engine) IsAuthenticated(ctx context.Context) bool {
	accessToken, _ := e.GetAccessToken(ctx)
	return accessToken != ""
}

// IsTokenValidLocally reports whether the stored access token's claimed
// expiry is still in the future. Purely local, no network. The claimed expiry
// is trusted without signature verification; see GetAccessToken for the
// authoritative check.
func (e *Engine) IsTokenValidLocally() bool {
	return locallyValid(e.storedAccessToken(), e.now())
}

// ============================================================================
// Refresh
// ============================================================================

// RefreshAccessToken exchanges the stored refresh token for a new token set.
// The refresh token is introspected first; if absent or inactive, no exchange
// is attempted. Any failure clears all stored auth data (a broken refresh
// path must not leave stale, possibly invalid tokens behind) and returns
// refresh_failed.
//
// Concurrent calls are coalesced into one in-flight exchange sharing its
// result, since many servers invalidate a refresh token on first use. The
// shared exchange runs under the first caller's context.
func (e *Engine) RefreshAccessToken(ctx context.Context) (string, error) {
	token, err, _ := e.refreshGroup.Do("refresh", func() (any, error) {
		return e.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (e *Engine) doRefresh(ctx context.Context) (string, error) {
	op := idx.New()
	log := e.log.With("op", "refresh", "op_id", op.String())

	disco := e.resolveDiscovery(ctx)

	refreshToken := e.storedRefreshToken()
	if refreshToken == "" {
		e.failClosed(log)
		return "", newError(KindRefreshFailed, "no refresh token available")
	}

	if !e.introspectActive(ctx, refreshToken, HintRefreshToken) {
		e.failClosed(log)
		return "", newError(KindRefreshFailed, "refresh token is no longer active")
	}

	tokenResp, err := e.requestToken(ctx, disco.TokenEndpoint, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {e.cfg.ClientID},
	})
	if err != nil {
		e.failClosed(log)
		return "", wrapError(KindRefreshFailed, "refresh token exchange failed", err)
	}

	tokens := e.tokenSetFrom(tokenResp)
	if tokens.RefreshToken == "" {
		// Server did not rotate the refresh token; the original stays.
		tokens.RefreshToken = refreshToken
	}

	if err := e.persistTokenSet(tokens); err != nil {
		e.failClosed(log)
		return "", wrapError(KindRefreshFailed, "failed to persist refreshed tokens", err)
	}

	log.Info("access token refreshed",
		"access_token_fp", cryptox.TokenFingerprint(tokens.AccessToken),
		"refresh_token_rotated", tokens.RefreshToken != refreshToken,
	)
	return tokens.AccessToken, nil
}

// failClosed wipes all stored auth data after a broken refresh. The wipe
// itself is best effort; refresh_failed is reported regardless.
func (e *Engine) failClosed(log *slog.Logger) {
	if err := e.clearAuthData(); err != nil {
		log.Error("failed to clear auth data after refresh failure", "err", err)
	}
}

// ============================================================================
// User
// ============================================================================

// GetUser returns the authenticated user, or (nil, nil) when no session
// exists. The cached profile is served for the life of the session; it is
// only replaced by Login and cleared by Logout.
func (e *Engine) GetUser(ctx context.Context) (*User, error) {
	accessToken, err := e.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, nil
	}

	if user := e.cachedUser(); user != nil {
		return user, nil
	}

	disco := e.resolveDiscovery(ctx)
	user, err := e.fetchUserInfo(ctx, disco.UserInfoEndpoint, accessToken)
	if err != nil {
		return nil, err
	}
	if err := e.persistUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserFromStorage returns the cached user profile without any network
// call or token validation, or nil when nothing is cached.
func (e *Engine) GetUserFromStorage() *User {
	return e.cachedUser()
}

// HasRole reports whether the current user holds the named role,
// case-insensitively. Total: returns false for no session, no roles, or any
// intermediate failure.
func (e *Engine) HasRole(ctx context.Context, name string) bool {
	user, err := e.GetUser(ctx)
	if err != nil || user == nil {
		return false
	}
	return rolex.HasRole(user.Roles, name)
}

// fetchUserInfo GETs the userinfo endpoint with the bearer token.
func (e *Engine) fetchUserInfo(ctx context.Context, endpoint, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, wrapError(KindNetworkError, "failed to create userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, wrapError(KindNetworkError, "userinfo request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindNetworkError, "failed to read userinfo response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newError(KindNetworkError,
			fmt.Sprintf("userinfo request failed with status %d: %s", resp.StatusCode, body))
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, wrapError(KindNetworkError, "failed to decode userinfo response", err)
	}
	return &user, nil
}

// ============================================================================
// Token endpoint
// ============================================================================

// requestToken POSTs a form-encoded grant request to the token endpoint.
func (e *Engine) requestToken(ctx context.Context, endpoint string, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, wrapError(KindNetworkError, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, wrapError(KindNetworkError, "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindNetworkError, "failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return nil, newError(KindNetworkError,
				fmt.Sprintf("token request failed: %s: %s", errResp.Error, errResp.ErrorDescription))
		}
		return nil, newError(KindNetworkError,
			fmt.Sprintf("token request failed with status %d: %s", resp.StatusCode, body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, wrapError(KindNetworkError, "failed to decode token response", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, newError(KindNetworkError, "token response carries no access token")
	}
	return &tokenResp, nil
}

// tokenSetFrom converts a token endpoint response into a TokenSet, computing
// the absolute expiry from expires_in when the server reports one.
func (e *Engine) tokenSetFrom(resp *TokenResponse) TokenSet {
	tokens := TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		tokens.ExpiresAt = e.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli()
	}
	return tokens
}

// buildAuthorizeURL assembles the authorization request. The scope set is
// deliberately empty: the server grants the client's registered defaults.
func (e *Engine) buildAuthorizeURL(endpoint, state string, pkce *PKCEChallenge) string {
	params := url.Values{}
	params.Set("response_type", e.cfg.ResponseType)
	params.Set("client_id", e.cfg.ClientID)
	params.Set("redirect_uri", e.cfg.RedirectURI)
	params.Set("state", state)
	params.Set("code_challenge", pkce.Challenge)
	params.Set("code_challenge_method", pkce.Method)

	return fmt.Sprintf("%s?%s", endpoint, params.Encode())
}
