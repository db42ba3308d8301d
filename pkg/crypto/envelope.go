// Package crypto provides envelope encryption for secrets at rest
// (tenant OAuth client secrets, user provider tokens, LLM credentials).
//
// Every ciphertext is bound to an Additional Authenticated Data (AAD)
// string at encryption time; decrypting with a different AAD fails.
// This is what makes moving a ciphertext between tenants or users
// undecryptable even if the encryption key is shared process-wide.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/stacklok/fedmcp/pkg/apperr"
)

const encPrefix = "enc:"

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// EnvelopeStore encrypts and decrypts strings under a single process-wide
// key, loaded once at startup from the system-secrets table (spec §9).
type EnvelopeStore struct {
	key []byte
}

// NewEnvelopeStore constructs a store from a 32-byte key.
func NewEnvelopeStore(key []byte) (*EnvelopeStore, error) {
	if len(key) != KeySize {
		return nil, apperr.New(apperr.KindCryptoFailure, fmt.Sprintf("master key must be %d bytes", KeySize))
	}
	return &EnvelopeStore{key: key}, nil
}

// DeriveKey derives a 32-byte AES-256 key from an arbitrary-length
// passphrase by hashing it with SHA-256, for bootstrapping a store from
// an operator-supplied passphrase rather than a raw key file.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, apperr.New(apperr.KindCryptoFailure, "encryption passphrase must not be empty")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:], nil
}

// Encrypt seals plaintext under aad, returning "enc:<base64(nonce+ciphertext)>".
// Empty plaintext passes through unchanged (so absent tokens don't round-trip
// through AES for nothing).
func (s *EnvelopeStore) Encrypt(plaintext, aad string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(aad))
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt, verifying it was sealed
// under the same aad. A mismatched AAD (including a ciphertext moved
// between tenants or users) returns KindCryptoFailure, never a silent
// garbage plaintext.
func (s *EnvelopeStore) Decrypt(ciphertext, aad string) (string, error) {
	if !IsEncrypted(ciphertext) {
		if ciphertext == "" {
			return "", nil
		}
		return "", apperr.New(apperr.KindCryptoFailure, "value is not envelope-encrypted")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encPrefix))
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "decode base64", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", apperr.New(apperr.KindCryptoFailure, "ciphertext too short")
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(aad))
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "AAD mismatch or corrupt ciphertext", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the envelope prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}
