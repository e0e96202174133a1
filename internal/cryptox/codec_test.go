package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESCodec_RoundTrip(t *testing.T) {
	codec, err := NewCodec("test-key")
	require.NoError(t, err)
	require.True(t, codec.Enabled())

	for _, plaintext := range []string{
		"0.AXEAmFblah-refresh-token",
		"p@ssw0rd",
		"с юникодом",
		strings.Repeat("x", 4096),
	} {
		encrypted, err := codec.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)
		assert.True(t, strings.HasPrefix(encrypted, envelopePrefix))

		decrypted, err := codec.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestAESCodec_EmptyValueStaysEmpty(t *testing.T) {
	codec, err := NewCodec("k")
	require.NoError(t, err)

	encrypted, err := codec.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", encrypted)

	decrypted, err := codec.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", decrypted)
}

func TestAESCodec_WrongKey(t *testing.T) {
	c1, err := NewCodec("key-one")
	require.NoError(t, err)
	c2, err := NewCodec("key-two")
	require.NoError(t, err)

	encrypted, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(encrypted)
	assert.ErrorIs(t, err, ErrCipher)
}

func TestAESCodec_CorruptedCiphertext(t *testing.T) {
	codec, err := NewCodec("k")
	require.NoError(t, err)

	encrypted, err := codec.Encrypt("secret")
	require.NoError(t, err)

	corrupted := encrypted[:len(encrypted)-2] + "zz"
	_, err = codec.Decrypt(corrupted)
	assert.ErrorIs(t, err, ErrCipher)

	_, err = codec.Decrypt(envelopePrefix + "!!!not-base64!!!")
	assert.ErrorIs(t, err, ErrCipher)

	_, err = codec.Decrypt(envelopePrefix + "AA")
	assert.ErrorIs(t, err, ErrCipher)
}

func TestAESCodec_LegacyPlaintextPassesThrough(t *testing.T) {
	codec, err := NewCodec("k")
	require.NoError(t, err)

	// Value stored before encryption was enabled.
	got, err := codec.Decrypt("legacy-refresh-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-refresh-token", got)
}

func TestPlainCodec_Passthrough(t *testing.T) {
	codec, err := NewCodec("")
	require.NoError(t, err)
	require.False(t, codec.Enabled())

	encrypted, err := codec.Encrypt("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", encrypted)

	decrypted, err := codec.Decrypt("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", decrypted)
}

func TestPlainCodec_RejectsEnvelope(t *testing.T) {
	codec, err := NewCodec("")
	require.NoError(t, err)

	withKey, err := NewCodec("k")
	require.NoError(t, err)
	encrypted, err := withKey.Encrypt("secret")
	require.NoError(t, err)

	_, err = codec.Decrypt(encrypted)
	assert.ErrorIs(t, err, ErrCipher)
}
