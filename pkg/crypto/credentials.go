// Package crypto encrypts the passwords of managed database instances at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
)

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when decryption fails due to invalid ciphertext or wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// CredentialEncryptor seals instance passwords with AES-256-GCM.
// Each stored credential also records KeyID so that a rotated or misconfigured
// key is reported as such instead of as corrupt ciphertext.
type CredentialEncryptor struct {
	gcm   cipher.AEAD
	keyID string
}

// NewCredentialEncryptor accepts a base64-encoded 32-byte key
// (openssl rand -base64 32) or any passphrase, which is hashed with SHA-256.
func NewCredentialEncryptor(keyInput string) (*CredentialEncryptor, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	key, err := base64.StdEncoding.DecodeString(keyInput)
	if err != nil || len(key) != 32 {
		sum := sha256.Sum256([]byte(keyInput))
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	fingerprint := sha256.Sum256(append([]byte("whalefall-key-id:"), key...))
	return &CredentialEncryptor{gcm: gcm, keyID: hex.EncodeToString(fingerprint[:8])}, nil
}

// KeyID identifies the key without revealing it.
func (e *CredentialEncryptor) KeyID() string {
	return e.keyID
}

// Encrypt returns base64(nonce || ciphertext || tag). Empty input stays empty.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *CredentialEncryptor) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// DecryptStored decrypts a password persisted together with the key id that
// sealed it. A different key id yields apperrors.ErrCredentialsKeyMismatch.
func (e *CredentialEncryptor) DecryptStored(encrypted, keyID string) (string, error) {
	if keyID != "" && keyID != e.keyID {
		return "", fmt.Errorf("%w (stored key %s, configured key %s)", apperrors.ErrCredentialsKeyMismatch, keyID, e.keyID)
	}
	return e.Decrypt(encrypted)
}
