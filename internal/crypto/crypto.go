// Package crypto implements the encryption, under one deployment-wide key,
// used to protect tenants' sensitive plugin configuration fields (API keys,
// secrets) at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"mindia/internal/apperror"
)

// sensitiveKeySuffixes names the substrings that mark a plugin config key as
// sensitive and therefore subject to encryption before it reaches the
// catalog.
var sensitiveKeySuffixes = []string{"key", "secret", "token", "password", "credential"}

// IsSensitiveKey reports whether a plugin config field name should be
// encrypted rather than stored as public config.
func IsSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range sensitiveKeySuffixes {
		if strings.Contains(lower, suffix) {
			return true
		}
	}
	return false
}

// Service encrypts and decrypts JSON values with AES-256-GCM under a single
// key derived from the deployment's ENCRYPTION_KEY.
type Service struct {
	gcm cipher.AEAD
}

// NewService builds a Service from a 32-byte key. Returns an error if key is
// not exactly 32 bytes, since AES-256 requires it.
func NewService(key []byte) (*Service, error) {
	if len(key) != 32 {
		return nil, apperror.InvalidInput("encryption key must be exactly 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &Service{gcm: gcm}, nil
}

// EncryptSensitiveJSON splits fields into public and sensitive groups using
// IsSensitiveKey, encrypts the sensitive group as one JSON blob, and returns
// both the public config map and the ciphertext for the sensitive group.
func (s *Service) EncryptSensitiveJSON(fields map[string]any) (public map[string]any, encrypted []byte, err error) {
	public = make(map[string]any)
	sensitive := make(map[string]any)
	for k, v := range fields {
		if IsSensitiveKey(k) {
			sensitive[k] = v
		} else {
			public[k] = v
		}
	}
	if len(sensitive) == 0 {
		return public, nil, nil
	}
	plaintext, err := json.Marshal(sensitive)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	ciphertext, err := s.Encrypt(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return public, ciphertext, nil
}

// DecryptAndMergeJSON decrypts encrypted (if non-empty) and merges its
// fields back into a copy of public, recovering the original config map
// passed to EncryptSensitiveJSON.
func (s *Service) DecryptAndMergeJSON(public map[string]any, encrypted []byte) (map[string]any, error) {
	merged := make(map[string]any, len(public))
	for k, v := range public {
		merged[k] = v
	}
	if len(encrypted) == 0 {
		return merged, nil
	}
	plaintext, err := s.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	var sensitive map[string]any
	if err := json.Unmarshal(plaintext, &sensitive); err != nil {
		return nil, apperror.Internal(err)
	}
	for k, v := range sensitive {
		merged[k] = v
	}
	return merged, nil
}

// Encrypt seals plaintext with a fresh random nonce, prepending the nonce to
// the returned ciphertext.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperror.Internal(err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (s *Service) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, apperror.InvalidInput("ciphertext is shorter than the nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "failed to decrypt value", err)
	}
	return plaintext, nil
}

// KeyFromBase64 decodes a base64-encoded 32-byte key, as stored in the
// ENCRYPTION_KEY environment variable.
func KeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInvalidInput, "ENCRYPTION_KEY is not valid base64", err)
	}
	if len(key) != 32 {
		return nil, errors.New("ENCRYPTION_KEY must decode to exactly 32 bytes")
	}
	return key, nil
}
