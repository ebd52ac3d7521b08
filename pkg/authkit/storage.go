package authkit

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/meridianapp/authkit/pkg/securestore"
)

// Fixed persistence keys. The raw tokens live in the secure store; the
// serialized user and the expiry timestamp are not secrets and live in the
// local cache.
const (
	keyAccessToken  = "auth.access_token"
	keyRefreshToken = "auth.refresh_token"
	keyUser         = "auth.user"
	keyExpiresAt    = "auth.expires_at"
)

// storedAccessToken reads the persisted access token. An unreadable secret is
// operationally equivalent to no secret, so read failures come back as "".
func (e *Engine) storedAccessToken() string {
	return e.readSecret(keyAccessToken)
}

// storedRefreshToken reads the persisted refresh token, "" when absent.
func (e *Engine) storedRefreshToken() string {
	return e.readSecret(keyRefreshToken)
}

func (e *Engine) readSecret(key string) string {
	value, err := e.secrets.GetSecret(key)
	if err != nil {
		if !errors.Is(err, securestore.ErrNotFound) {
			e.log.Warn("secret read failed, treating as absent", "key", key, "err", err)
		}
		return ""
	}
	return value
}

// persistTokenSet writes the token pair and expiry. An empty refresh token
// means the capability is gone, so any stale one is removed rather than left
// to poison a later refresh.
func (e *Engine) persistTokenSet(tokens TokenSet) error {
	if err := e.secrets.SetSecret(keyAccessToken, tokens.AccessToken); err != nil {
		return wrapError(KindStorageError, "failed to store access token", err)
	}

	if tokens.RefreshToken != "" {
		if err := e.secrets.SetSecret(keyRefreshToken, tokens.RefreshToken); err != nil {
			return wrapError(KindStorageError, "failed to store refresh token", err)
		}
	} else if err := e.secrets.DeleteSecret(keyRefreshToken); err != nil {
		return wrapError(KindStorageError, "failed to remove stale refresh token", err)
	}

	if tokens.ExpiresAt > 0 {
		if err := e.cache.Set(keyExpiresAt, strconv.FormatInt(tokens.ExpiresAt, 10)); err != nil {
			return wrapError(KindStorageError, "failed to store token expiry", err)
		}
	} else if err := e.cache.Delete(keyExpiresAt); err != nil {
		return wrapError(KindStorageError, "failed to remove token expiry", err)
	}

	return nil
}

// persistUser caches the serialized user profile.
func (e *Engine) persistUser(user *User) error {
	blob, err := json.Marshal(user)
	if err != nil {
		return wrapError(KindStorageError, "failed to serialize user", err)
	}
	if err := e.cache.Set(keyUser, string(blob)); err != nil {
		return wrapError(KindStorageError, "failed to cache user", err)
	}
	return nil
}

// cachedUser returns the cached user profile, nil when absent or undecodable.
func (e *Engine) cachedUser() *User {
	blob, err := e.cache.Get(keyUser)
	if err != nil {
		return nil
	}

	var user User
	if err := json.Unmarshal([]byte(blob), &user); err != nil {
		e.log.Warn("cached user blob is undecodable, ignoring", "err", err)
		return nil
	}
	return &user
}

// clearAuthData removes every piece of persisted session state: both secrets,
// the cached user, and the expiry timestamp. All four deletions are attempted
// regardless of individual failures.
func (e *Engine) clearAuthData() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(e.secrets.DeleteSecret(keyAccessToken))
	record(e.secrets.DeleteSecret(keyRefreshToken))
	record(e.cache.Delete(keyUser))
	record(e.cache.Delete(keyExpiresAt))

	return firstErr
}
