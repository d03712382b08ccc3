package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npmcli/oidc-attest/internal/jwks"
)

type fakeFetcher struct {
	set jwks.Set
	err error
}

func (f fakeFetcher) Fetch(ctx context.Context, uri string) (jwks.Set, error) {
	return f.set, f.err
}

func buildRS256Token(t *testing.T, claims Claims) (string, jwks.Set) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	header := encodeSegment(t, Header{Alg: "RS256", Kid: "rsa-1"})
	payload := encodeSegment(t, claims)
	signingInput := header + "." + payload

	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	require.NoError(t, err)

	raw := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)

	set := jwks.Set{Keys: []jwks.Key{{
		Kty: "RSA",
		Kid: "rsa-1",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}}}
	return raw, set
}

func buildES256Token(t *testing.T, claims Claims) (string, jwks.Set) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	header := encodeSegment(t, Header{Alg: "ES256", Kid: "ec-1"})
	payload := encodeSegment(t, claims)
	signingInput := header + "." + payload

	hashed := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, key, hashed[:])
	require.NoError(t, err)

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	raw := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)

	set := jwks.Set{Keys: []jwks.Key{{
		Kty: "EC",
		Kid: "ec-1",
		Alg: "ES256",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(key.PublicKey.X.FillBytes(make([]byte, 32))),
		Y:   base64.RawURLEncoding.EncodeToString(key.PublicKey.Y.FillBytes(make([]byte, 32))),
	}}}
	return raw, set
}

func TestVerifySignatureRS256(t *testing.T) {
	now := time.Now().Unix()
	raw, set := buildRS256Token(t, Claims{Issuer: "iss", Subject: "sub", Audience: "aud", IssuedAt: now, ExpiresAt: now + 3600})
	token, err := DecodeUnsafe(raw)
	require.NoError(t, err)
	assert.NoError(t, VerifySignature(set, token))
}

func TestVerifySignatureES256(t *testing.T) {
	now := time.Now().Unix()
	raw, set := buildES256Token(t, Claims{Issuer: "iss", Subject: "sub", Audience: "aud", IssuedAt: now, ExpiresAt: now + 3600})
	token, err := DecodeUnsafe(raw)
	require.NoError(t, err)
	assert.NoError(t, VerifySignature(set, token))
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	now := time.Now().Unix()
	raw, set := buildRS256Token(t, Claims{Issuer: "iss", ExpiresAt: now + 3600})
	token, err := DecodeUnsafe(raw)
	require.NoError(t, err)
	token.Claims.Issuer = "attacker"
	assert.Error(t, VerifySignature(set, token))
}

func TestValidateExpirationWithSkew(t *testing.T) {
	now := time.Now()
	claims := Claims{ExpiresAt: now.Add(-30 * time.Second).Unix()}
	assert.NoError(t, ValidateExpiration(claims, now, 60*time.Second))
	assert.Error(t, ValidateExpiration(claims, now, 10*time.Second))
}

func TestValidateExpirationNotYetValid(t *testing.T) {
	now := time.Now()
	claims := Claims{NotBefore: now.Add(time.Hour).Unix(), ExpiresAt: now.Add(2 * time.Hour).Unix()}
	err := ValidateExpiration(claims, now, 60*time.Second)
	assert.Error(t, err)
}

func TestValidateCompleteEndToEnd(t *testing.T) {
	now := time.Now()
	raw, set := buildRS256Token(t, Claims{
		Issuer: "https://issuer.example", Subject: "sub", Audience: "npm:registry.npmjs.org",
		IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix(),
	})

	fetcher := fakeFetcher{set: set}
	clock := clockwork.NewFakeClockAt(now)

	token, err := ValidateComplete(context.Background(), raw, fetcher, Issuer{IssuerURL: "https://issuer.example", JWKSURI: "https://issuer.example/jwks"}, "npm:registry.npmjs.org", clock, DefaultSkew)
	require.NoError(t, err)
	assert.Equal(t, "sub", token.Claims.Subject)
}

func TestValidateCompleteRejectsWrongAudience(t *testing.T) {
	now := time.Now()
	raw, set := buildRS256Token(t, Claims{
		Issuer: "https://issuer.example", Audience: "wrong-audience",
		IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix(),
	})

	_, err := ValidateComplete(context.Background(), raw, fakeFetcher{set: set}, Issuer{IssuerURL: "https://issuer.example"}, "npm:registry.npmjs.org", clockwork.NewFakeClockAt(now), DefaultSkew)
	assert.Error(t, err)
}

func TestValidateCompleteRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	raw, set := buildRS256Token(t, Claims{
		Issuer: "https://issuer.example", Audience: "aud",
		IssuedAt: now.Add(-2 * time.Hour).Unix(), ExpiresAt: now.Add(-time.Hour).Unix(),
	})

	_, err := ValidateComplete(context.Background(), raw, fakeFetcher{set: set}, Issuer{IssuerURL: "https://issuer.example"}, "aud", clockwork.NewFakeClockAt(now), DefaultSkew)
	assert.Error(t, err)
}
