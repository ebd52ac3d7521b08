package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Token type hints for Introspect per RFC 7662.
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// Introspect asks the server whether a token is currently active, per
// RFC 7662. This is the raw form: transport failures and non-2xx responses
// are reported as introspection_failed. The engine's own validity checks use
// the fail-closed introspectActive instead - a check that cannot reach the
// server must never be mistaken for "authenticated".
//
// The result is computed fresh per call and never persisted.
func (e *Engine) Introspect(ctx context.Context, token, tokenTypeHint string) (*IntrospectionResponse, error) {
	disco := e.resolveDiscovery(ctx)

	payload, err := json.Marshal(map[string]string{
		"token":           token,
		"token_type_hint": tokenTypeHint,
		"client_id":       e.cfg.ClientID,
	})
	if err != nil {
		return nil, wrapError(KindIntrospectionFailed, "failed to encode introspection request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		disco.IntrospectionEndpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, wrapError(KindIntrospectionFailed, "failed to create introspection request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.introspc.Do(req)
	if err != nil {
		return nil, wrapError(KindIntrospectionFailed, "introspection request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindIntrospectionFailed, "failed to read introspection response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newError(KindIntrospectionFailed,
			fmt.Sprintf("introspection request failed with status %d", resp.StatusCode))
	}

	var result IntrospectionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, wrapError(KindIntrospectionFailed, "failed to decode introspection response", err)
	}
	return &result, nil
}

// introspectActive is the fail-closed wrapper the validity checks use: any
// introspection failure counts as inactive.
func (e *Engine) introspectActive(ctx context.Context, token, tokenTypeHint string) bool {
	if token == "" {
		return false
	}

	result, err := e.Introspect(ctx, token, tokenTypeHint)
	if err != nil {
		e.log.Debug("introspection failed, treating token as inactive", "err", err)
		return false
	}
	return result.Active
}
