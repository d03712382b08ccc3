// Package dsse builds the Dead Simple Signing Envelope around the SLSA
// statement: pre-authentication encoding, ECDSA signing, and the two
// slightly different envelope shapes this pipeline needs (one for Rekor,
// which carries the signing certificate; one for the Sigstore bundle,
// which must not).
package dsse

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	sslibdsse "github.com/secure-systems-lab/go-securesystemslib/dsse"

	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

// PayloadType is the DSSE payload type for an in-toto statement.
const PayloadType = "application/vnd.in-toto+json"

// Signature is a single DSSE signature. PublicKey is only populated when
// the envelope is destined for Rekor's intoto v0.0.2 entry (spec.md §4.6);
// the copy embedded in a Sigstore bundle must omit it (spec.md §4.7).
type Signature struct {
	KeyID     string `json:"keyid"`
	Sig       string `json:"sig"`
	PublicKey string `json:"publicKey,omitempty"`
}

// Envelope is a DSSE envelope carrying a base64 payload and its signatures.
type Envelope struct {
	Payload     string      `json:"payload"`
	PayloadType string      `json:"payloadType"`
	Signatures  []Signature `json:"signatures"`
}

// PAE computes the DSSE pre-authentication encoding for payloadType and
// payload, delegating to the upstream go-securesystemslib implementation so
// this pipeline's signature is byte-for-byte compatible with any other DSSE
// consumer that verifies it.
func PAE(payloadType string, payload []byte) []byte {
	return sslibdsse.PAE(payloadType, payload)
}

// Sign computes raw = ECDSA-P256-SHA256.Sign(PAE) and returns it DER
// encoded. Go's crypto/ecdsa.SignASN1 already emits canonical ASN.1 DER
// (minimal-length integers, single leading zero only when the high bit is
// set), so there is no hand-rolled r||s -> DER conversion here.
func Sign(pae []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	sum := sha256.Sum256(pae)
	der, err := ecdsa.SignASN1(rand.Reader, privateKey, sum[:])
	if err != nil {
		return nil, pipelineerr.New("dsse.Sign", pipelineerr.KindInvalidSignature, err)
	}
	return der, nil
}

// BuildEnvelope assembles a DSSE envelope from a raw (unsigned) statement
// payload and a DER signature. certPEM, when non-empty, is embedded as the
// signature's publicKey field (base64 of the PEM bytes) for submission to
// Rekor; pass "" to build the bundle-bound copy, which must omit it.
func BuildEnvelope(payload []byte, der []byte, certPEM string) Envelope {
	sig := Signature{
		KeyID: "",
		Sig:   base64.StdEncoding.EncodeToString(der),
	}
	if certPEM != "" {
		sig.PublicKey = base64.StdEncoding.EncodeToString([]byte(certPEM))
	}

	return Envelope{
		Payload:     base64.StdEncoding.EncodeToString(payload),
		PayloadType: PayloadType,
		Signatures:  []Signature{sig},
	}
}

// WithoutPublicKey returns a copy of env with PublicKey cleared on every
// signature, for embedding in a Sigstore bundle.
func (env Envelope) WithoutPublicKey() Envelope {
	out := env
	out.Signatures = make([]Signature, len(env.Signatures))
	for i, sig := range env.Signatures {
		sig.PublicKey = ""
		out.Signatures[i] = sig
	}
	return out
}
