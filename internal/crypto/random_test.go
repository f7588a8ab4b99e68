package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomStringLength(t *testing.T) {
	for _, n := range []int{16, 32, 64} {
		s, err := RandomString(n)
		require.NoError(t, err)
		assert.Len(t, s, n)
	}
}

func TestRandomStringIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		s, err := RandomString(32)
		require.NoError(t, err)
		assert.False(t, seen[s], "duplicate random string %q", s)
		seen[s] = true
	}
}

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.Len(t, token, 32)
}

func TestGenerateCSRFToken(t *testing.T) {
	token, err := GenerateCSRFToken()
	require.NoError(t, err)
	assert.Len(t, token, 32)
	assert.Regexp(t, "^[0-9a-f]+$", token)
}
