// Package ephemeral generates the one-publish ECDSA-P256 signing keypair
// used to obtain a Fulcio certificate and sign the SLSA statement.
package ephemeral

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

// KeyPair is the ephemeral signing material for a single publish. It is
// never persisted; the caller is responsible for letting it fall out of
// scope once the publish completes or fails.
type KeyPair struct {
	Private   *ecdsa.PrivateKey
	PublicPEM string
}

// Generate creates a fresh ECDSA-P256 keypair and SPKI-PEM-encodes the
// public half.
func Generate() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, pipelineerr.New("ephemeral.Generate", pipelineerr.KindInvalidSignature, err)
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, pipelineerr.New("ephemeral.Generate", pipelineerr.KindInvalidSignature, err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}

	return &KeyPair{
		Private:   priv,
		PublicPEM: string(pem.EncodeToMemory(block)),
	}, nil
}

// Zeroize overwrites the private scalar's byte representation. Go's
// crypto/ecdsa.PrivateKey keeps D as a *big.Int rather than a fixed byte
// array, so this clears the Int's internal word slice directly instead of
// reassigning D (which would just drop the reference, not scrub the bytes).
func (k *KeyPair) Zeroize() {
	if k == nil || k.Private == nil || k.Private.D == nil {
		return
	}
	words := k.Private.D.Bits()
	for i := range words {
		words[i] = 0
	}
}
