// Package cryptox implements the at-rest protection of mailbox secrets
// (passwords and refresh tokens) and the hashing of user passwords.
//
// Field encryption uses AES-256-GCM with a key derived from the configured
// key string. When no key is configured the codec degrades to an explicit
// passthrough: values are stored in clear. This is a documented mode for
// development setups, not a silent failure.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// envelopePrefix marks a value as produced by this codec. Values without the
// prefix are treated as legacy plaintext (stored before a key was configured).
const envelopePrefix = "enc.v1:"

// ErrCipher is returned when a value carries the encryption envelope but
// cannot be decrypted: wrong key, truncated or corrupted ciphertext. It is
// deliberately distinct from an absent value, which decrypts to "".
var ErrCipher = errors.New("cannot decrypt value")

// Codec encrypts and decrypts secret fields before they reach the document
// store. Implementations must satisfy Decrypt(Encrypt(p)) == p.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)

	// Enabled reports whether values are actually encrypted at rest.
	Enabled() bool
}

// NewCodec selects the codec implementation based on whether an encryption
// key is configured. An empty key yields the passthrough codec.
func NewCodec(key string) (Codec, error) {
	if key == "" {
		return plainCodec{}, nil
	}
	return newAESCodec(key)
}

// plainCodec stores values in clear. It still refuses to "decrypt" a value
// that carries the encryption envelope, because returning ciphertext as if it
// were the secret would poison every downstream upstream call.
type plainCodec struct{}

func (plainCodec) Enabled() bool { return false }

func (plainCodec) Encrypt(plaintext string) (string, error) { return plaintext, nil }

func (plainCodec) Decrypt(value string) (string, error) {
	if strings.HasPrefix(value, envelopePrefix) {
		return "", fmt.Errorf("value is encrypted but no key is configured: %w", ErrCipher)
	}
	return value, nil
}

type aesCodec struct {
	aead cipher.AEAD
}

func newAESCodec(key string) (*aesCodec, error) {
	// Any key string is acceptable; the AES-256 key is its SHA-256 digest.
	sum := sha256.Sum256([]byte(key))

	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &aesCodec{aead: aead}, nil
}

func (c *aesCodec) Enabled() bool { return true }

// Encrypt seals plaintext under a fresh random nonce and returns
// "enc.v1:" + base64(nonce || ciphertext). Empty values stay empty so that
// optional fields remain recognizably absent.
func (c *aesCodec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the envelope prefix are returned
// verbatim: they predate encryption being switched on. A value that carries
// the prefix but does not authenticate yields ErrCipher.
func (c *aesCodec) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !strings.HasPrefix(value, envelopePrefix) {
		return value, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("decode envelope: %w", ErrCipher)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("envelope too short: %w", ErrCipher)
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrCipher
	}
	return string(plaintext), nil
}
