package dsse

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPAEMatchesDocumentedFormula(t *testing.T) {
	payloadType := "application/vnd.in-toto+json"
	payload := []byte(`{"a":1}`)

	expected := fmt.Sprintf("DSSEv1 %d %s %d %s", len(payloadType), payloadType, len(payload), payload)
	assert.Equal(t, []byte(expected), PAE(payloadType, payload))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pae := PAE(PayloadType, []byte(`{"hello":"world"}`))
	der, err := Sign(pae, priv)
	require.NoError(t, err)

	sum := sha256.Sum256(pae)
	r, s, err := parseASN1Signature(der)
	require.NoError(t, err)
	assert.True(t, ecdsa.Verify(&priv.PublicKey, sum[:], r, s))
}

func TestBuildEnvelopeIncludesPublicKeyWhenCertGiven(t *testing.T) {
	env := BuildEnvelope([]byte("payload"), []byte("sig-bytes"), "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----\n")
	require.Len(t, env.Signatures, 1)
	assert.NotEmpty(t, env.Signatures[0].PublicKey)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("payload")), env.Payload)
	assert.Equal(t, PayloadType, env.PayloadType)
}

func TestBuildEnvelopeOmitsPublicKeyWhenCertEmpty(t *testing.T) {
	env := BuildEnvelope([]byte("payload"), []byte("sig-bytes"), "")
	require.Len(t, env.Signatures, 1)
	assert.Empty(t, env.Signatures[0].PublicKey)
}

func TestWithoutPublicKeyStripsCertFromCopyOnly(t *testing.T) {
	env := BuildEnvelope([]byte("payload"), []byte("sig-bytes"), "cert-pem")
	stripped := env.WithoutPublicKey()

	assert.Empty(t, stripped.Signatures[0].PublicKey)
	assert.NotEmpty(t, env.Signatures[0].PublicKey, "original envelope must be unmodified")
}

func parseASN1Signature(der []byte) (r, s *big.Int, err error) {
	var sig struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, nil, err
	}
	return sig.R, sig.S, nil
}
