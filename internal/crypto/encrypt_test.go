package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	key := DeriveKey("super-secret-master-key")
	plaintext := []byte(`{"type":"bearer","token":"sk-abc123"}`)

	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	ciphertext, err := Encrypt([]byte("secret"), DeriveKey("key-one"))
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, DeriveKey("key-two"))

	assert.Error(t, err)
}

func TestDecrypt_TruncatedCiphertextFails(t *testing.T) {
	key := DeriveKey("master")

	_, err := Decrypt([]byte("short"), key)

	assert.Error(t, err)
}

func TestDeriveKey_IsDeterministicAndThirtyTwoBytes(t *testing.T) {
	a := DeriveKey("same-master-key")
	b := DeriveKey("same-master-key")

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestDeriveKey_DifferentMastersProduceDifferentKeys(t *testing.T) {
	assert.NotEqual(t, DeriveKey("one"), DeriveKey("two"))
}
