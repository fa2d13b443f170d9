package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Tool provider auth headers can be stored sealed so the roles file never
// holds a plaintext API key. A sealed value looks like "sealed:<base64>" and
// is opened with the key from CONCIERGE_SEAL_KEY (base64, 32 bytes).

const sealedPrefix = "sealed:"

// SealKeyEnvVar names the environment variable holding the sealing key.
const SealKeyEnvVar = "CONCIERGE_SEAL_KEY"

func sealKey() ([]byte, error) {
	raw := os.Getenv(SealKeyEnvVar)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", SealKeyEnvVar)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", SealKeyEnvVar, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%s must decode to %d bytes", SealKeyEnvVar, chacha20poly1305.KeySize)
	}
	return key, nil
}

// SealCredential encrypts value for storage in a roles file.
func SealCredential(value string) (string, error) {
	key, err := sealKey()
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenCredential decrypts a sealed value. Plaintext values pass through
// unchanged so configs without sealing keep working.
func OpenCredential(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}

	key, err := sealKey()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid sealed credential: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("sealed credential too short")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed credential: %w", err)
	}

	return string(plain), nil
}

// OpenHeaders returns a copy of headers with any sealed values opened.
func OpenHeaders(headers map[string]string) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(headers))
	for k, v := range headers {
		opened, err := OpenCredential(v)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", k, err)
		}
		out[k] = opened
	}
	return out, nil
}
