// Package keyring implements the Ed25519 package-signing side-channel used
// when no CI OIDC identity is available: generation, PEM encoding, keyed
// storage, and detached sign/verify, grounded in the same crypto/ed25519
// idiom the teacher codebase uses for its own Ed25519SignerVerifier.
package keyring

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

// GeneratedKey is the output of Generate: a PEM-encoded SPKI public key, the
// raw 32-byte private seed, and a derived key ID.
type GeneratedKey struct {
	PublicPEM   string
	PrivateSeed [ed25519.SeedSize]byte
	KeyID       string
}

// Generate creates a new Ed25519 keypair.
func Generate() (*GeneratedKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, pipelineerr.New("keyring.Generate", pipelineerr.KindInvalidSignature, err)
	}

	pemBytes, err := publicKeyToPEM(pub)
	if err != nil {
		return nil, err
	}

	gk := &GeneratedKey{
		PublicPEM: pemBytes,
		KeyID:     DeriveKeyID(pub),
	}
	copy(gk.PrivateSeed[:], priv.Seed())
	return gk, nil
}

// DeriveKeyID returns the upper 64 bits of SHA-256(publicKeyBytes) as 16
// lowercase hex characters.
func DeriveKeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("%x", sum[:8])
}

func publicKeyToPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", pipelineerr.New("keyring.publicKeyToPEM", pipelineerr.KindInvalidSignature, err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// PackageSignature is a detached signature over a package artifact's bytes.
type PackageSignature struct {
	Algorithm string    `json:"algorithm"`
	Signature string    `json:"signature"`
	KeyID     string    `json:"key_id"`
	Timestamp time.Time `json:"timestamp"`
	KeyURL    string    `json:"key_url,omitempty"`
}

// Sign produces a detached signature over data using the given seed.
func Sign(data []byte, seed [ed25519.SeedSize]byte, now time.Time, keyURL string) PackageSignature {
	priv := ed25519.NewKeyFromSeed(seed[:])
	sig := ed25519.Sign(priv, data)
	pub := priv.Public().(ed25519.PublicKey)

	return PackageSignature{
		Algorithm: "ed25519",
		Signature: base64.StdEncoding.EncodeToString(sig),
		KeyID:     DeriveKeyID(pub),
		Timestamp: now,
		KeyURL:    keyURL,
	}
}

// decodePublicKeyPEM parses a PEM block (raw or ASN.1/SPKI-wrapped) and
// returns the last 32 bytes, which are the raw Ed25519 public key in both
// encodings.
func decodePublicKeyPEM(pemText string) (ed25519.PublicKey, error) {
	stripped := stripPEMHeaders(pemText)

	raw, err := base64.StdEncoding.DecodeString(stripped)
	if err != nil {
		return nil, pipelineerr.New("keyring.decodePublicKeyPEM", pipelineerr.KindInvalidSignature, err)
	}
	if len(raw) < ed25519.PublicKeySize {
		return nil, pipelineerr.New("keyring.decodePublicKeyPEM", pipelineerr.KindInvalidSignature, fmt.Errorf("key material too short"))
	}

	return ed25519.PublicKey(raw[len(raw)-ed25519.PublicKeySize:]), nil
}

func stripPEMHeaders(pemText string) string {
	var b strings.Builder
	for _, line := range strings.Split(pemText, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "-----") {
			continue
		}
		b.WriteString(trimmed)
	}
	return b.String()
}

// Verify checks sig.Signature over data using the public key registered in
// kr under sig.KeyID.
func Verify(data []byte, sig PackageSignature, kr *Keyring) error {
	pemText, ok := kr.Get(sig.KeyID)
	if !ok {
		return pipelineerr.New("keyring.Verify", pipelineerr.KindInvalidSignature, fmt.Errorf("unknown key id %q", sig.KeyID))
	}

	pub, err := decodePublicKeyPEM(pemText)
	if err != nil {
		return err
	}

	sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return pipelineerr.New("keyring.Verify", pipelineerr.KindInvalidSignature, err)
	}

	if !ed25519.Verify(pub, data, sigBytes) {
		return pipelineerr.New("keyring.Verify", pipelineerr.KindInvalidSignature, nil)
	}
	return nil
}

// Keyring is a keyID -> PEM mapping of known public keys.
type Keyring struct {
	keys map[string]string
}

// NewKeyring constructs an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: map[string]string{}}
}

// Add registers pemText under keyID, failing if keyID is already present.
func (k *Keyring) Add(keyID, pemText string) error {
	if _, exists := k.keys[keyID]; exists {
		return pipelineerr.New("keyring.Add", pipelineerr.KindInvalidSignature, fmt.Errorf("key id %q already registered", keyID))
	}
	k.keys[keyID] = pemText
	return nil
}

// Get returns the PEM registered under keyID.
func (k *Keyring) Get(keyID string) (string, bool) {
	pemText, ok := k.keys[keyID]
	return pemText, ok
}

// Remove deletes keyID from the keyring.
func (k *Keyring) Remove(keyID string) {
	delete(k.keys, keyID)
}
