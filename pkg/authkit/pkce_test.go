package authkit

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePKCEChallenge(t *testing.T) {
	t.Parallel()

	pkce, err := GeneratePKCEChallenge()
	require.NoError(t, err)
	require.NotNil(t, pkce)

	// Verify verifier is not empty
	require.NotEmpty(t, pkce.Verifier)

	// Verify challenge is base64url encoded
	require.NotEmpty(t, pkce.Challenge)

	// Verify method is S256
	require.Equal(t, "S256", pkce.Method)

	// Verify challenge is correctly computed from verifier
	hash := sha256.Sum256([]byte(pkce.Verifier))
	expectedChallenge := base64.RawURLEncoding.EncodeToString(hash[:])
	require.Equal(t, expectedChallenge, pkce.Challenge)
}

func TestGeneratePKCEChallengeUnique(t *testing.T) {
	t.Parallel()

	a, err := GeneratePKCEChallenge()
	require.NoError(t, err)
	b, err := GeneratePKCEChallenge()
	require.NoError(t, err)

	require.NotEqual(t, a.Verifier, b.Verifier)
	require.NotEqual(t, a.Challenge, b.Challenge)
}
