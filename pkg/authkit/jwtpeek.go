package authkit

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// peekLocalExpiry decodes the unverified payload of a JWT access token and
// returns its exp claim. The second return is false when the token is not a
// parseable JWT or carries no exp claim.
//
// No signature verification happens here: this SDK is a public client with no
// verification key, and the local check is a performance optimization that
// catches ordinary expiry without a network round trip. Server introspection
// is the actual trust boundary.
func peekLocalExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

// locallyValid reports whether the token's claimed expiry is still in the
// future. A token expiring exactly now is already expired (the check is
// "now >= exp"), and anything unparseable counts as invalid.
func locallyValid(token string, now time.Time) bool {
	exp, ok := peekLocalExpiry(token)
	if !ok {
		return false
	}
	return now.Before(exp)
}
