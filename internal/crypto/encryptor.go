package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Encryptor seals flat key/value payloads into cookie-safe strings and opens
// them again. Ciphertext is AES-256-GCM, so values are both confidential and
// tamper-evident.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from an arbitrary secret. The secret is
// normalized to a 32-byte AES key with HKDF-SHA256, so callers can configure
// any non-empty string.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret must not be empty")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("tenantgate cookie encryption"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt serializes a flat mapping to JSON, encrypts it, and returns a
// base64url string safe to place in a cookie value.
func (e *Encryptor) Encrypt(payload map[string]any) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload must be a non-nil mapping")
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	// AES-GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nil, nonce, plaintext, nil)
	// Wire format is nonce || ciphertext, base64url without padding.
	return base64.RawURLEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Decrypt is the inverse of Encrypt. Any failure (malformed base64, failed
// authentication tag, bad JSON) yields an empty mapping rather than an error:
// callers must treat an empty result as "no valid payload". Login-state
// cookies, which need hard failures, go through DecryptStrict instead.
func (e *Encryptor) Decrypt(token string) map[string]any {
	payload, err := e.DecryptStrict(token)
	if err != nil {
		return map[string]any{}
	}
	return payload
}

// DecryptStrict decrypts and returns an error on any failure.
func (e *Encryptor) DecryptStrict(token string) (map[string]any, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("token too short")
	}

	plaintext, err := e.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return payload, nil
}
