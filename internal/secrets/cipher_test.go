package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipherFromHex(testKey)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"", "hunter2", `{"accessToken":"ya29.a0","expiresAt":1700000000000}`, "päss wörd ✓"} {
		env, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Len(t, strings.Split(env, ":"), 3)

		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptDetectsTampering(t *testing.T) {
	c := newTestCipher(t)
	env, err := c.Encrypt("secret value")
	require.NoError(t, err)

	parts := strings.Split(env, ":")
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	ct[0] ^= 0x01
	parts[2] = base64.StdEncoding.EncodeToString(ct)

	_, err = c.Decrypt(strings.Join(parts, ":"))
	assert.ErrorIs(t, err, ErrDecryption)

	tag, err := base64.StdEncoding.DecodeString(strings.Split(env, ":")[1])
	require.NoError(t, err)
	tag[len(tag)-1] ^= 0x80
	forged := strings.Join([]string{strings.Split(env, ":")[0], base64.StdEncoding.EncodeToString(tag), strings.Split(env, ":")[2]}, ":")
	_, err = c.Decrypt(forged)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptMalformedEnvelope(t *testing.T) {
	c := newTestCipher(t)

	for _, env := range []string{"", "abc", "a:b", "a:b:c:d", "!!:??:##"} {
		_, err := c.Decrypt(env)
		assert.ErrorIs(t, err, ErrDecryption, "envelope %q", env)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	env, err := newTestCipher(t).Encrypt("secret")
	require.NoError(t, err)

	other, err := GenerateKey()
	require.NoError(t, err)
	c2, err := NewCipherFromHex(other)
	require.NoError(t, err)

	_, err = c2.Decrypt(env)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestNewCipherFromHexRejectsBadKeys(t *testing.T) {
	_, err := NewCipherFromHex("")
	assert.ErrorIs(t, err, ErrKeyMissing)

	for _, key := range []string{"abc", testKey[:62], testKey + "00", strings.Repeat("zz", 32)} {
		_, err := NewCipherFromHex(key)
		assert.ErrorIs(t, err, ErrKeyMalformed, "key %q", key)
	}
}

func TestUnavailable(t *testing.T) {
	u := Unavailable{Err: ErrKeyMissing}
	_, err := u.Encrypt("x")
	assert.ErrorIs(t, err, ErrKeyMissing)
	_, err = u.Decrypt("a:b:c")
	assert.ErrorIs(t, err, ErrKeyMissing)
}
