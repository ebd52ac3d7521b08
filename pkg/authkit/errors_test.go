package authkit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := wrapError(KindNetworkError, "token request failed", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "network_error")
	require.Contains(t, err.Error(), "connection reset")
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindRefreshFailed, KindOf(newError(KindRefreshFailed, "no refresh token")))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.Equal(t, Kind(""), KindOf(nil))

	// Kind survives wrapping by callers.
	wrapped := fmt.Errorf("sign-in: %w", newError(KindAuthenticationFailed, "cancelled"))
	require.True(t, IsKind(wrapped, KindAuthenticationFailed))
	require.False(t, IsKind(wrapped, KindRefreshFailed))
}
