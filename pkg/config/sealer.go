package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// sealedPrefix marks values encrypted at rest so reads can distinguish them
// from plaintext entries written before a master key existed.
const sealedPrefix = "enc:"

// Sealer encrypts sensitive config values with AES-256-GCM. Each config key
// gets its own derived key via HKDF-SHA256 so a leaked value ciphertext is
// bound to the key it was stored under.
type Sealer struct {
	master []byte
}

// NewSealer creates a Sealer from the process master key. The master key may
// be any non-trivial string; derivation stretches it to cipher size.
func NewSealer(masterKey string) (*Sealer, error) {
	if len(masterKey) < 16 {
		return nil, errors.New("config: master key must be at least 16 bytes")
	}
	return &Sealer{master: []byte(masterKey)}, nil
}

// deriveKey produces the 32-byte AES key for one config key.
func (s *Sealer) deriveKey(configKey string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, []byte("gangway-config-seal"), []byte(configKey))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("config: key derivation: %w", err)
	}
	return key, nil
}

// Seal encrypts value under the key derived for configKey.
func (s *Sealer) Seal(configKey, value string) (string, error) {
	if value == "" {
		return "", nil
	}

	key, err := s.deriveKey(configKey)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("config: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("config: nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a sealed value. Plaintext values (no marker) pass through
// unchanged.
func (s *Sealer) Open(configKey, stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("config: decode sealed value: %w", err)
	}

	key, err := s.deriveKey(configKey)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("config: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: gcm: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("config: sealed value too short")
	}
	nonce, cipherBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", fmt.Errorf("config: unseal: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether a stored value carries the encryption marker.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
