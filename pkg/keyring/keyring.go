// Package keyring is the public entry point for the Ed25519 package-signing
// side-channel: generating keypairs, signing package artifacts, and
// verifying signatures against a keyring of known public keys.
package keyring

import (
	"crypto/ed25519"
	"time"

	"github.com/npmcli/oidc-attest/internal/keyring"
)

// GeneratedKey is the output of Generate.
type GeneratedKey = keyring.GeneratedKey

// PackageSignature is a detached signature over a package artifact.
type PackageSignature = keyring.PackageSignature

// Keyring holds known public keys, keyed by their derived key ID.
type Keyring = keyring.Keyring

// NewKeyring constructs an empty Keyring.
func NewKeyring() *Keyring { return keyring.NewKeyring() }

// Generate creates a new Ed25519 keypair for offline package signing.
func Generate() (*GeneratedKey, error) { return keyring.Generate() }

// Sign produces a detached signature over data using the given private seed.
func Sign(data []byte, seed [ed25519.SeedSize]byte, now time.Time, keyURL string) PackageSignature {
	return keyring.Sign(data, seed, now, keyURL)
}

// Verify checks sig over data against the keys registered in kr.
func Verify(data []byte, sig PackageSignature, kr *Keyring) error {
	return keyring.Verify(data, sig, kr)
}
