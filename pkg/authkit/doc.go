/*
Package authkit implements the client side of the OAuth2 authorization code
flow with PKCE for a mobile application: interactive login through a browser
redirect, token persistence in platform secure storage, transparent refresh,
authoritative server-side validity checks, and teardown on logout.

# Engine and Facade

The package is organized around two types:

  - Engine: the protocol core. Owns the token lifecycle and is the only
    component that touches storage.
  - Facade: a thin observable layer on top of the Engine for UI consumers.

Create an Engine with the platform collaborators wired in:

	engine, err := authkit.NewEngine(authkit.Config{
		BaseURL:     "https://auth.example.com",
		ClientID:    "mobile-app",
		RedirectURI: "app://callback",
	}, authkit.Options{
		Secrets:    keystoreBridge,      // platform secure storage
		Cache:      sqliteCache,         // non-secret local cache
		Authorizer: browserBridge,       // system browser redirect
		Logger:     logger,
	})

Then drive it directly, or through a Facade feeding a reactive store:

	facade := authkit.NewFacade(engine, func(s authkit.AuthState) {
		store.Publish(s)
	})
	facade.Resync(ctx) // on app start

# Token validity

GetAccessToken makes a two-layer decision. The token's claimed expiry is
decoded locally first - free, and catches the common case of ordinary expiry -
and only a locally valid token is introspected against the server, which is
the authoritative source for revocation. The local decode trusts the token
without signature verification; it is a performance optimization, not a
security boundary. GetAccessTokenFast skips the introspection round trip for
call sites that tolerate staleness.

"No session" is a normal outcome everywhere: GetAccessToken returns "",
GetUser returns nil, IsAuthenticated returns false, none of them error.

# Refresh semantics

RefreshAccessToken introspects the stored refresh token before spending it,
coalesces concurrent refreshes into a single exchange, and on any failure
clears all persisted auth data before reporting refresh_failed. A broken
refresh path never leaves stale tokens behind.

# Errors

Every raised error is an *AuthError carrying a stable Kind:

	if authkit.IsKind(err, authkit.KindRefreshFailed) {
		// session is gone, prompt for login
	}
*/
package authkit
