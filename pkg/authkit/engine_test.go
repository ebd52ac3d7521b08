package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridianapp/authkit/pkg/localcache"
	"github.com/meridianapp/authkit/pkg/securestore"
)

// ============================================================================
// Test fixtures
// ============================================================================

// testClock is an adjustable clock injected into the engine and the fake
// server, so both agree on "now" when tests advance time.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAuthServer is a minimal authorization server covering the endpoints the
// engine talks to. Discovery is served with 404 by default, pushing the
// engine onto its conventional-path fallback, which matches the routes below.
type fakeAuthServer struct {
	t     *testing.T
	srv   *httptest.Server
	clock *testClock

	mu             sync.Mutex
	issued         int
	currentRT      string
	rotateTo       string
	inactive       map[string]bool
	allInactive    bool
	accessTTL      int
	tokenDelay     time.Duration
	tokenCalls     []url.Values
	userinfoJSON   string
	userinfoCalls  int
	logoutStatus   int
	logoutCalls    int
	discoveryJSON  string
	introspectHits int
}

func newFakeAuthServer(t *testing.T, clock *testClock) *fakeAuthServer {
	f := &fakeAuthServer{
		t:            t,
		clock:        clock,
		currentRT:    "RT1",
		inactive:     map[string]bool{},
		accessTTL:    3600,
		userinfoJSON: `{"sub":"u1","name":"Avery Quinn","email":"avery@example.com","roles":["admin",{"id":"r2","name":"Manager"}],"org":"acme"}`,
		logoutStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wellKnownPath, f.handleDiscovery)
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/userinfo", f.handleUserInfo)
	mux.HandleFunc("/introspect", f.handleIntrospect)
	mux.HandleFunc("/logout", f.handleLogout)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// mintAccessToken issues a distinct JWT whose exp tracks the fake clock.
func (f *fakeAuthServer) mintAccessToken() string {
	f.issued++
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"jti": fmt.Sprintf("at-%d", f.issued),
		"exp": f.clock.Now().Add(time.Duration(f.accessTTL) * time.Second).Unix(),
	})
	signed, err := token.SignedString([]byte("fake-server-key"))
	require.NoError(f.t, err)
	return signed
}

func (f *fakeAuthServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	doc := f.discoveryJSON
	f.mu.Unlock()

	if doc == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, doc)
}

func (f *fakeAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())

	f.mu.Lock()
	f.tokenCalls = append(f.tokenCalls, r.PostForm)
	delay := f.tokenDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	resp := map[string]any{"token_type": "Bearer", "expires_in": f.accessTTL}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") == "" || r.PostForm.Get("code_verifier") == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		resp["access_token"] = f.mintAccessToken()
		resp["refresh_token"] = f.currentRT

	case "refresh_token":
		if r.PostForm.Get("refresh_token") != f.currentRT {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		resp["access_token"] = f.mintAccessToken()
		if f.rotateTo != "" {
			f.currentRT = f.rotateTo
			f.rotateTo = ""
			resp["refresh_token"] = f.currentRT
		}

	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeAuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userinfoCalls++

	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, f.userinfoJSON)
}

func (f *fakeAuthServer) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token         string `json:"token"`
		TokenTypeHint string `json:"token_type_hint"`
		ClientID      string `json:"client_id"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	require.NotEmpty(f.t, req.ClientID)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.introspectHits++

	active := req.Token != "" && !f.allInactive && !f.inactive[req.Token]
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"active": active})
}

func (f *fakeAuthServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	w.WriteHeader(f.logoutStatus)
}

func (f *fakeAuthServer) setInactive(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inactive[token] = true
}

func (f *fakeAuthServer) tokenCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokenCalls)
}

func (f *fakeAuthServer) lastTokenCall() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.tokenCalls)
	return f.tokenCalls[len(f.tokenCalls)-1]
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// approvingAuthorizer simulates a user approving the authorization request in
// the browser: it checks the request shape and bounces back a code.
func approvingAuthorizer(t *testing.T) AuthorizerFunc {
	return func(_ context.Context, authorizeURL, redirectURI string) (string, error) {
		u, err := url.Parse(authorizeURL)
		require.NoError(t, err)

		q := u.Query()
		require.Equal(t, "code", q.Get("response_type"))
		require.NotEmpty(t, q.Get("code_challenge"))
		require.Equal(t, "S256", q.Get("code_challenge_method"))
		require.NotEmpty(t, q.Get("state"))

		cb := url.Values{}
		cb.Set("code", "CODE-1")
		cb.Set("state", q.Get("state"))
		return redirectURI + "?" + cb.Encode(), nil
	}
}

type testEnv struct {
	fake    *fakeAuthServer
	clock   *testClock
	secrets *securestore.MemoryStore
	cache   *localcache.MemoryCache
	engine  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	clock := newTestClock()
	fake := newFakeAuthServer(t, clock)
	secrets := securestore.NewMemoryStore()
	cache := localcache.NewMemoryCache()

	engine, err := NewEngine(Config{
		BaseURL:     fake.srv.URL,
		ClientID:    "c1",
		RedirectURI: "app://cb",
	}, Options{
		Secrets:    secrets,
		Cache:      cache,
		Authorizer: approvingAuthorizer(t),
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Now:        clock.Now,
	})
	require.NoError(t, err)

	return &testEnv{fake: fake, clock: clock, secrets: secrets, cache: cache, engine: engine}
}

// requireStorageEmpty asserts no trace of the session survives.
func (env *testEnv) requireStorageEmpty(t *testing.T) {
	t.Helper()

	_, err := env.secrets.GetSecret(keyAccessToken)
	require.ErrorIs(t, err, securestore.ErrNotFound)
	_, err = env.secrets.GetSecret(keyRefreshToken)
	require.ErrorIs(t, err, securestore.ErrNotFound)
	_, err = env.cache.Get(keyUser)
	require.ErrorIs(t, err, localcache.ErrNotFound)
	_, err = env.cache.Get(keyExpiresAt)
	require.ErrorIs(t, err, localcache.ErrNotFound)
}

// ============================================================================
// Login
// ============================================================================

func TestLoginRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.engine.Login(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", user.Sub)
	require.Equal(t, "Avery Quinn", user.Name)

	// Mixed-shape role claim decoded into both variants
	require.Equal(t, []string{"admin", "Manager"}, user.RoleNames())

	// Unknown claims survive in Extra
	require.JSONEq(t, `"acme"`, string(user.Extra["org"]))

	// Tokens persisted under the fixed keys
	storedAT, err := env.secrets.GetSecret(keyAccessToken)
	require.NoError(t, err)
	require.NotEmpty(t, storedAT)
	storedRT, err := env.secrets.GetSecret(keyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "RT1", storedRT)

	// GetUser serves the same user from cache, no second userinfo call
	before := env.fake.userinfoCalls
	got, err := env.engine.GetUser(ctx)
	require.NoError(t, err)
	require.Equal(t, user.Sub, got.Sub)
	require.Equal(t, before, env.fake.userinfoCalls)

	// Fresh token is immediately usable with no refresh exchange
	require.Equal(t, 1, env.fake.tokenCallCount())
	accessToken, err := env.engine.GetAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, storedAT, accessToken)
	require.Equal(t, 1, env.fake.tokenCallCount())

	// Exchange used the authorization code grant with PKCE
	first := env.fake.tokenCalls[0]
	require.Equal(t, "authorization_code", first.Get("grant_type"))
	require.Equal(t, "CODE-1", first.Get("code"))
	require.NotEmpty(t, first.Get("code_verifier"))
	require.Equal(t, "c1", first.Get("client_id"))
	require.Equal(t, "app://cb", first.Get("redirect_uri"))
}

func TestLoginCancelledWritesNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.engine.authorizer = AuthorizerFunc(func(context.Context, string, string) (string, error) {
		return "", fmt.Errorf("user dismissed the browser")
	})

	_, err := env.engine.Login(context.Background())
	require.True(t, IsKind(err, KindAuthenticationFailed))
	env.requireStorageEmpty(t)
	require.Zero(t, env.fake.tokenCallCount())
}

func TestLoginDeniedByServer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.engine.authorizer = AuthorizerFunc(func(_ context.Context, _, redirectURI string) (string, error) {
		return redirectURI + "?error=access_denied&error_description=denied", nil
	})

	_, err := env.engine.Login(context.Background())
	require.True(t, IsKind(err, KindAuthenticationFailed))
	env.requireStorageEmpty(t)
}

func TestLoginStateMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.engine.authorizer = AuthorizerFunc(func(_ context.Context, _, redirectURI string) (string, error) {
		return redirectURI + "?code=CODE-1&state=forged", nil
	})

	_, err := env.engine.Login(context.Background())
	require.True(t, IsKind(err, KindAuthenticationFailed))
}

func TestLoginFreshTokenInactive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	// Every token the server issues introspects as inactive. A just-issued
	// token must be active, so login reports a protocol-level failure.
	env.fake.mu.Lock()
	env.fake.allInactive = true
	env.fake.mu.Unlock()

	_, err := env.engine.Login(context.Background())
	require.True(t, IsKind(err, KindAuthenticationFailed))
}

func TestLoginRequiresAuthorizer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.engine.authorizer = nil

	_, err := env.engine.Login(context.Background())
	require.True(t, IsKind(err, KindConfigurationError))
}

// ============================================================================
// Token access
// ============================================================================

func TestNoSessionNeutrality(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	accessToken, err := env.engine.GetAccessToken(ctx)
	require.NoError(t, err)
	require.Empty(t, accessToken)

	user, err := env.engine.GetUser(ctx)
	require.NoError(t, err)
	require.Nil(t, user)

	require.False(t, env.engine.IsAuthenticated(ctx))
	require.False(t, env.engine.IsTokenValidLocally())
	require.False(t, env.engine.HasRole(ctx, "admin"))
	require.Nil(t, env.engine.GetUserFromStorage())
}

func TestBearerTokenNoSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, err := env.engine.BearerToken(context.Background())
	require.True(t, IsKind(err, KindTokenExpired))
}

func TestServerRevocationPrecedence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	storedAT, err := env.secrets.GetSecret(keyAccessToken)
	require.NoError(t, err)

	// Locally the token is fine for another hour, but the server has
	// revoked it. The server's verdict wins and triggers a refresh.
	env.fake.setInactive(storedAT)

	accessToken, err := env.engine.GetAccessToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)
	require.NotEqual(t, storedAT, accessToken)
	require.Equal(t, "refresh_token", env.fake.lastTokenCall().Get("grant_type"))
}

func TestGetAccessTokenFastSkipsIntrospection(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	storedAT, err := env.secrets.GetSecret(keyAccessToken)
	require.NoError(t, err)

	// Even revoked server-side, the fast path returns the locally valid
	// token without asking the server.
	env.fake.setInactive(storedAT)

	env.fake.mu.Lock()
	hitsBefore := env.fake.introspectHits
	env.fake.mu.Unlock()

	accessToken, err := env.engine.GetAccessTokenFast(ctx)
	require.NoError(t, err)
	require.Equal(t, storedAT, accessToken)

	env.fake.mu.Lock()
	require.Equal(t, hitsBefore, env.fake.introspectHits)
	env.fake.mu.Unlock()
}

func TestExpiredTokenTriggersExactlyOneRefresh(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, env.fake.tokenCallCount())

	firstAT, err := env.secrets.GetSecret(keyAccessToken)
	require.NoError(t, err)

	// Advance past the 3600s lifetime; the local peek now fails and the
	// engine exchanges the refresh token exactly once.
	env.clock.Advance(3601 * time.Second)

	accessToken, err := env.engine.GetAccessToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)
	require.NotEqual(t, firstAT, accessToken)

	require.Equal(t, 2, env.fake.tokenCallCount())
	require.Equal(t, "refresh_token", env.fake.lastTokenCall().Get("grant_type"))
	require.Equal(t, "RT1", env.fake.lastTokenCall().Get("refresh_token"))
	require.Equal(t, "c1", env.fake.lastTokenCall().Get("client_id"))
}

// ============================================================================
// Refresh
// ============================================================================

func TestRefreshFailClosed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	// Server-side the refresh token is dead; refresh must fail without
	// attempting an exchange, and every trace of the session must go.
	env.fake.setInactive("RT1")
	callsBefore := env.fake.tokenCallCount()

	_, err = env.engine.RefreshAccessToken(ctx)
	require.True(t, IsKind(err, KindRefreshFailed))
	require.Equal(t, callsBefore, env.fake.tokenCallCount())
	env.requireStorageEmpty(t)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, err := env.engine.RefreshAccessToken(context.Background())
	require.True(t, IsKind(err, KindRefreshFailed))
	require.Zero(t, env.fake.tokenCallCount())
}

func TestRefreshExchangeFailureClearsState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	// Make the stored refresh token introspect active but fail the
	// exchange: the server only accepts its current RT.
	env.fake.mu.Lock()
	env.fake.currentRT = "RT-other"
	env.fake.mu.Unlock()

	_, err = env.engine.RefreshAccessToken(ctx)
	require.True(t, IsKind(err, KindRefreshFailed))
	env.requireStorageEmpty(t)
}

func TestRefreshTokenRotation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	env.fake.mu.Lock()
	env.fake.rotateTo = "RT2"
	env.fake.mu.Unlock()

	env.clock.Advance(3601 * time.Second)
	_, err = env.engine.GetAccessToken(ctx)
	require.NoError(t, err)

	storedRT, err := env.secrets.GetSecret(keyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "RT2", storedRT)
}

func TestRefreshTokenRetainedWithoutRotation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	env.clock.Advance(3601 * time.Second)
	_, err = env.engine.GetAccessToken(ctx)
	require.NoError(t, err)

	// The fake did not rotate, so the original refresh token survives.
	storedRT, err := env.secrets.GetSecret(keyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "RT1", storedRT)
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, env.fake.tokenCallCount())

	env.fake.mu.Lock()
	env.fake.tokenDelay = 100 * time.Millisecond
	env.fake.mu.Unlock()

	env.clock.Advance(3601 * time.Second)

	// Many callers hit an expired token at once; the refresh token must be
	// spent exactly once.
	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := env.engine.GetAccessToken(ctx)
			require.NoError(t, err)
			results[i] = token
		}()
	}
	wg.Wait()

	require.Equal(t, 2, env.fake.tokenCallCount())
	for _, token := range results {
		require.NotEmpty(t, token)
		require.Equal(t, results[0], token)
	}
}

// ============================================================================
// Logout
// ============================================================================

func TestLogoutClearsEverything(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	require.NoError(t, env.engine.Logout(ctx))
	env.requireStorageEmpty(t)
	require.Equal(t, 1, env.fake.logoutCalls)
}

func TestLogoutIdempotentDespiteServerFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	// Remote logout keeps failing; local logout must still succeed, twice.
	env.fake.mu.Lock()
	env.fake.logoutStatus = http.StatusInternalServerError
	env.fake.mu.Unlock()

	require.NoError(t, env.engine.Logout(ctx))
	env.requireStorageEmpty(t)

	require.NoError(t, env.engine.Logout(ctx))
	env.requireStorageEmpty(t)
}

// ============================================================================
// Roles
// ============================================================================

func TestHasRoleCaseInsensitive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	// Stored roles are "admin" (plain) and "Manager" (detailed)
	require.True(t, env.engine.HasRole(ctx, "Admin"))
	require.True(t, env.engine.HasRole(ctx, "manager"))
	require.False(t, env.engine.HasRole(ctx, "auditor"))
}
