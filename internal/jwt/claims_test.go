package jwt

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSegment(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

func TestParseHeader(t *testing.T) {
	raw := encodeSegment(t, Header{Alg: "RS256", Kid: "k1"}) + "." + encodeSegment(t, Claims{}) + ".sig"
	header, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, "RS256", header.Alg)
	assert.Equal(t, "k1", header.Kid)
}

func TestParseHeaderRejectsUnsupportedAlgorithm(t *testing.T) {
	raw := encodeSegment(t, Header{Alg: "HS256"}) + "." + encodeSegment(t, Claims{}) + ".sig"
	_, err := ParseHeader(raw)
	assert.Error(t, err)
}

func TestParseHeaderRejectsMalformedToken(t *testing.T) {
	_, err := ParseHeader("not-a-jwt")
	assert.Error(t, err)
}

// TestDecodeSampleJWT matches the end-to-end scenario in spec.md: given a
// JWT whose payload decodes to a known claim set, decode_unsafe returns
// those exact string and integer values.
func TestDecodeSampleJWT(t *testing.T) {
	claims := Claims{
		Issuer:    "test-issuer",
		Subject:   "test-subject",
		Audience:  "test-audience",
		ExpiresAt: 9999999999,
		IssuedAt:  1700000000,
	}
	raw := encodeSegment(t, Header{Alg: "RS256"}) + "." + encodeSegment(t, claims) + ".sig"

	token, err := DecodeUnsafe(raw)
	require.NoError(t, err)
	assert.Equal(t, "test-issuer", token.Claims.Issuer)
	assert.Equal(t, "test-subject", token.Claims.Subject)
	assert.Equal(t, "test-audience", token.Claims.Audience)
	assert.EqualValues(t, 9999999999, token.Claims.ExpiresAt)
	assert.EqualValues(t, 1700000000, token.Claims.IssuedAt)
}

func TestDecodeUnsafeRejectsIatAfterExp(t *testing.T) {
	raw := encodeSegment(t, Header{Alg: "RS256"}) + "." + encodeSegment(t, Claims{IssuedAt: 100, ExpiresAt: 50}) + ".sig"
	_, err := DecodeUnsafe(raw)
	assert.Error(t, err)
}

func TestDecodeUnsafeRejectsNbfAfterExp(t *testing.T) {
	raw := encodeSegment(t, Header{Alg: "RS256"}) + "." + encodeSegment(t, Claims{IssuedAt: 10, ExpiresAt: 50, NotBefore: 60}) + ".sig"
	_, err := DecodeUnsafe(raw)
	assert.Error(t, err)
}
