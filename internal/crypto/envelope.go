// Package crypto seals message content so it is unreadable at rest in the
// backing store. The key is derived from one shared secret; this protects
// against the storage provider, not against anyone holding the secret, and
// offers no per-conversation forward secrecy.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// envelopePrefix tags sealed payloads so plaintext history stays
// distinguishable from ciphertext.
const envelopePrefix = "gcm1:"

const (
	keySize    = 32
	iterations = 120_000
)

// Fixed salt: the key must be derivable from the secret alone so every
// server replica opens the same history.
var kdfSalt = []byte("chatcore.envelope.v1")

// Envelope seals and opens message content with a key derived from a shared
// secret. It holds no mutable state and is safe for concurrent use.
type Envelope struct {
	aead cipher.AEAD
}

// New derives the envelope key from secret via PBKDF2-SHA256.
func New(secret string) (*Envelope, error) {
	key := pbkdf2.Key([]byte(secret), kdfSalt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Envelope{aead: aead}, nil
}

// Seal encrypts plaintext into a tagged, self-describing envelope:
// prefix + base64(nonce || ciphertext).
func (e *Envelope) Seal(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It is total: anything that does not decode as a valid
// envelope (missing tag, bad base64, truncated nonce, auth failure) comes
// back unchanged so mixed encrypted/plaintext history never breaks a caller.
func (e *Envelope) Open(content string) string {
	if !strings.HasPrefix(content, envelopePrefix) {
		return content
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(content, envelopePrefix))
	if err != nil {
		return content
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns {
		return content
	}
	plaintext, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return content
	}
	return string(plaintext)
}

// IsSealed reports whether content carries the envelope tag.
func IsSealed(content string) bool {
	return strings.HasPrefix(content, envelopePrefix)
}
