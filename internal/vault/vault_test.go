package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	v := New("sufficiently-long-operator-passphrase")

	blob, err := v.Encrypt("2850590940090418135201")
	require.NoError(t, err)

	parts := strings.Split(blob, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 24) // 96-bit nonce in hex
	assert.Len(t, parts[2], 32) // 128-bit tag in hex

	plain, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "2850590940090418135201", plain)
}

func TestEncryptDrawsFreshNonce(t *testing.T) {
	v := New("sufficiently-long-operator-passphrase")

	first, err := v.Encrypt("0070090920000007658521")
	require.NoError(t, err)
	second, err := v.Encrypt("0070090920000007658521")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	for _, blob := range []string{first, second} {
		plain, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, "0070090920000007658521", plain)
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	v := New("sufficiently-long-operator-passphrase")
	blob, err := v.Encrypt("2850590940090418135201")
	require.NoError(t, err)

	parts := strings.Split(blob, ":")

	tampered := parts[1]
	if tampered[0] == 'a' {
		tampered = "b" + tampered[1:]
	} else {
		tampered = "a" + tampered[1:]
	}

	cases := map[string]string{
		"tampered ciphertext": parts[0] + ":" + tampered + ":" + parts[2],
		"swapped tag":         parts[0] + ":" + parts[1] + ":" + strings.Repeat("00", 16),
		"missing part":        parts[0] + ":" + parts[1],
		"not hex":             "zz:" + parts[1] + ":" + parts[2],
		"short nonce":         "abcd:" + parts[1] + ":" + parts[2],
		"empty":               "",
	}

	for name, input := range cases {
		plain, err := v.Decrypt(input)
		assert.ErrorIs(t, err, ErrDecryptFailed, name)
		assert.Empty(t, plain, name)
	}
}

func TestDecryptRejectsForeignKey(t *testing.T) {
	blob, err := New("operator-passphrase-one").Encrypt("2850590940090418135201")
	require.NoError(t, err)

	_, err = New("operator-passphrase-two").Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestSealedVault(t *testing.T) {
	v := New("   ")
	assert.False(t, v.Ready())

	_, err := v.Encrypt("2850590940090418135201")
	assert.ErrorIs(t, err, ErrKeyMissing)

	_, err = v.Decrypt("aa:bb:cc")
	assert.ErrorIs(t, err, ErrKeyMissing)
}

func TestRawHexKeyMaterial(t *testing.T) {
	key := strings.Repeat("0badc0de", 8) // 64 hex chars
	first := New(key)
	second := New(key)
	require.True(t, first.Ready())

	blob, err := first.Encrypt("0110599520000001234567")
	require.NoError(t, err)

	plain, err := second.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "0110599520000001234567", plain)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("2850590940090418135201")
	b := Fingerprint("2850590940090418135201")
	c := Fingerprint("2850590940090418135202")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
