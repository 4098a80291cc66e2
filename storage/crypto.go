package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// decodeKey parses a 64-character hex string into a secretbox key.
func decodeKey(hexKey string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// encryptCredentials seals plaintext provider credentials (an API
// key/secret pair serialized as JSON) with a fresh random nonce. When
// no encryption key is configured, credentials are stored as plaintext
// so local/dev setups without a key still function — the same
// degrade-gracefully posture the teacher uses for optional config.
func (s *Store) encryptCredentials(plaintext []byte) (sealed, nonce []byte, err error) {
	if !s.hasKey {
		return plaintext, nil, nil
	}
	var n [24]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, nil, fmt.Errorf("storage: generate nonce: %w", err)
	}
	sealed = secretbox.Seal(nil, plaintext, &n, &s.encryptionKey)
	return sealed, n[:], nil
}

func (s *Store) decryptCredentials(sealed, nonce []byte) ([]byte, error) {
	if !s.hasKey || len(nonce) == 0 {
		return sealed, nil
	}
	var n [24]byte
	copy(n[:], nonce)
	plain, ok := secretbox.Open(nil, sealed, &n, &s.encryptionKey)
	if !ok {
		return nil, fmt.Errorf("storage: credential decryption failed (key mismatch or corrupted data)")
	}
	return plain, nil
}
