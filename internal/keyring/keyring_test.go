package keyring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSignVerifyRoundTrip(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)

	data := []byte("tarball bytes")
	sig := Sign(data, key.PrivateSeed, time.Now(), "https://example.com/key.pub")
	assert.Equal(t, "ed25519", sig.Algorithm)
	assert.Equal(t, key.KeyID, sig.KeyID)

	kr := NewKeyring()
	require.NoError(t, kr.Add(key.KeyID, key.PublicPEM))

	assert.NoError(t, Verify(data, sig, kr))
}

func TestVerifyRejectsUnknownKeyID(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)
	sig := Sign([]byte("data"), key.PrivateSeed, time.Now(), "")

	kr := NewKeyring()
	err = Verify([]byte("data"), sig, kr)
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)
	sig := Sign([]byte("original"), key.PrivateSeed, time.Now(), "")

	kr := NewKeyring()
	require.NoError(t, kr.Add(key.KeyID, key.PublicPEM))

	assert.Error(t, Verify([]byte("tampered"), sig, kr))
}

func TestKeyringAddRejectsDuplicate(t *testing.T) {
	kr := NewKeyring()
	require.NoError(t, kr.Add("k1", "pem-1"))
	assert.Error(t, kr.Add("k1", "pem-2"))
}

func TestKeyringRemove(t *testing.T) {
	kr := NewKeyring()
	require.NoError(t, kr.Add("k1", "pem-1"))
	kr.Remove("k1")
	_, ok := kr.Get("k1")
	assert.False(t, ok)
}

func TestDeriveKeyIDIsStableAndSixteenHexChars(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)
	assert.Len(t, key.KeyID, 16)

	pub, err := decodePublicKeyPEM(key.PublicPEM)
	require.NoError(t, err)
	assert.Equal(t, key.KeyID, DeriveKeyID(pub))
}
