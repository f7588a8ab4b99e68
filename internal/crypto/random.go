package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateSecureToken creates a cryptographically secure random token.
// Returns a base64 URL-encoded string suitable for use as OAuth state
// parameters, nonces, etc.
func GenerateSecureToken() (string, error) {
	return RandomString(32)
}

// RandomString returns a URL-safe random string of length n backed by n
// random bytes.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	return s[:n], nil
}

// GenerateCSRFToken creates a high-entropy hex token for CSRF double-submit.
func GenerateCSRFToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
