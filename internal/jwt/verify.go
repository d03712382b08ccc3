package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/npmcli/oidc-attest/internal/jwks"
	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

// DefaultSkew is the default clock-skew tolerance applied to expiry and
// not-before checks.
const DefaultSkew = 60 * time.Second

// JWKSFetcher is satisfied by *jwks.Cache; it is an interface here so
// callers can fake it in tests without spinning up an HTTP server.
type JWKSFetcher interface {
	Fetch(ctx context.Context, uri string) (jwks.Set, error)
}

// VerifySignature checks the JWT's signature against a key selected from
// the given JWKS. It does not check claims or expiry.
func VerifySignature(set jwks.Set, token *Token) error {
	key, err := set.Select(token.Header.Kid, token.Header.Alg)
	if err != nil {
		return err
	}

	signedInputStr, sig, err := signedInput(token.Raw)
	if err != nil {
		return err
	}

	switch token.Header.Alg {
	case "RS256":
		pub, err := key.RSAPublicKey()
		if err != nil {
			return err
		}
		hashed := sha256.Sum256([]byte(signedInputStr))
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig); err != nil {
			return pipelineerr.New("jwt.VerifySignature", pipelineerr.KindInvalidSignature, err)
		}
		return nil
	case "ES256":
		pub, err := key.ECPublicKey()
		if err != nil {
			return err
		}
		if len(sig) != 64 {
			return pipelineerr.New("jwt.VerifySignature", pipelineerr.KindInvalidSignature, nil)
		}
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		hashed := sha256.Sum256([]byte(signedInputStr))
		if !ecdsa.Verify(pub, hashed[:], r, s) {
			return pipelineerr.New("jwt.VerifySignature", pipelineerr.KindInvalidSignature, nil)
		}
		return nil
	default:
		return pipelineerr.New("jwt.VerifySignature", pipelineerr.KindUnsupportedAlgorithm, nil)
	}
}

// ValidateExpiration checks claims.exp (and claims.nbf, if present) against
// now, tolerating skew in both directions.
func ValidateExpiration(claims Claims, now time.Time, skew time.Duration) error {
	exp := time.Unix(claims.ExpiresAt, 0)
	if !now.Before(exp.Add(skew)) {
		return pipelineerr.New("jwt.ValidateExpiration", pipelineerr.KindExpiredToken, nil)
	}
	if claims.NotBefore != 0 {
		nbf := time.Unix(claims.NotBefore, 0)
		if now.Before(nbf.Add(-skew)) {
			return pipelineerr.New("jwt.ValidateExpiration", pipelineerr.KindNotYetValid, nil)
		}
	}
	return nil
}

// Issuer is the subset of a provider descriptor Validate needs: the
// canonical issuer URL the JWT's iss claim must match, and the JWKS URI to
// fetch keys from.
type Issuer struct {
	IssuerURL string
	JWKSURI   string
}

// ValidateComplete runs the full validation pipeline described in
// spec.md §4.1: header, signature, claims decode, issuer, (optional)
// audience, expiration. On any failure the token is not returned.
func ValidateComplete(ctx context.Context, raw string, fetcher JWKSFetcher, issuer Issuer, expectedAudience string, clock clockwork.Clock, skew time.Duration) (*Token, error) {
	if _, err := ParseHeader(raw); err != nil {
		return nil, err
	}

	token, err := DecodeUnsafe(raw)
	if err != nil {
		return nil, err
	}

	set, err := fetcher.Fetch(ctx, issuer.JWKSURI)
	if err != nil {
		return nil, err
	}

	if err := VerifySignature(set, token); err != nil {
		return nil, err
	}

	if token.Claims.Issuer != issuer.IssuerURL {
		return nil, pipelineerr.New("jwt.ValidateComplete", pipelineerr.KindInvalidIssuer, nil)
	}

	if expectedAudience != "" && token.Claims.Audience != expectedAudience {
		return nil, pipelineerr.New("jwt.ValidateComplete", pipelineerr.KindInvalidAudience, nil)
	}

	if err := ValidateExpiration(token.Claims, clock.Now(), skew); err != nil {
		return nil, err
	}

	return token, nil
}
