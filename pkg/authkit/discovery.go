package authkit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// wellKnownPath is the authorization server metadata document per RFC 8414.
const wellKnownPath = "/.well-known/oauth-authorization-server"

// resolveDiscovery returns the server's endpoint URLs. It tries the
// well-known metadata document once per engine lifetime; on any network,
// status or parse failure it falls back to the conventional endpoint paths
// under the configured base URL. The fallback always succeeds, so this
// never reports an error to callers. The result is memoized in memory only
// and re-resolved on process restart.
func (e *Engine) resolveDiscovery(ctx context.Context) DiscoveryDocument {
	e.discoveryOnce.Do(func() {
		if doc, err := e.fetchDiscovery(ctx); err == nil {
			e.log.Debug("resolved discovery document", "token_endpoint", doc.TokenEndpoint)
			e.discovery = doc
			return
		} else {
			e.log.Debug("discovery fetch failed, using conventional endpoints", "err", err)
		}
		e.discovery = e.fallbackDiscovery()
	})
	return e.discovery
}

// fetchDiscovery GETs and validates the well-known metadata document.
func (e *Engine) fetchDiscovery(ctx context.Context) (DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+wellKnownPath, nil)
	if err != nil {
		return DiscoveryDocument{}, err
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return DiscoveryDocument{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DiscoveryDocument{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return DiscoveryDocument{}, newError(KindNetworkError,
			"discovery document request failed")
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return DiscoveryDocument{}, err
	}
	if !doc.complete() {
		return DiscoveryDocument{}, newError(KindNetworkError,
			"discovery document is missing endpoints")
	}
	return doc, nil
}

// fallbackDiscovery derives the conventional endpoint layout from the base URL.
func (e *Engine) fallbackDiscovery() DiscoveryDocument {
	base := e.cfg.BaseURL
	return DiscoveryDocument{
		AuthorizationEndpoint: base + "/authorize",
		TokenEndpoint:         base + "/token",
		RevocationEndpoint:    base + "/revoke",
		UserInfoEndpoint:      base + "/userinfo",
		LogoutEndpoint:        base + "/logout",
		IntrospectionEndpoint: base + "/introspect",
	}
}
