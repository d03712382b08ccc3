// Package publish orchestrates a single keyless npm publish end to end:
// OIDC token acquisition and validation, the Fulcio proof-of-possession
// exchange, SLSA statement construction and DSSE signing, Rekor
// transparency-log submission, Sigstore bundle assembly, and the final
// registry PUT.
package publish

import (
	"context"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/npmcli/oidc-attest/internal/bundle"
	"github.com/npmcli/oidc-attest/internal/dsse"
	"github.com/npmcli/oidc-attest/internal/ephemeral"
	"github.com/npmcli/oidc-attest/internal/fulcio"
	"github.com/npmcli/oidc-attest/internal/jwks"
	"github.com/npmcli/oidc-attest/internal/jwt"
	"github.com/npmcli/oidc-attest/internal/oidcprovider"
	"github.com/npmcli/oidc-attest/internal/pipelineerr"
	"github.com/npmcli/oidc-attest/internal/policy"
	"github.com/npmcli/oidc-attest/internal/registry"
	"github.com/npmcli/oidc-attest/internal/rekor"
	"github.com/npmcli/oidc-attest/internal/slsa"
)

// Endpoints names the external service base URLs a publish talks to.
type Endpoints struct {
	FulcioURL   string
	RekorURL    string
	RegistryURL string
}

// DefaultEndpoints points at the public Sigstore/npm infrastructure.
var DefaultEndpoints = Endpoints{
	FulcioURL:   "https://fulcio.sigstore.dev",
	RekorURL:    "https://rekor.sigstore.dev",
	RegistryURL: "https://registry.npmjs.org",
}

// Request describes one package publish.
type Request struct {
	PackageName    string
	PackageVersion string
	TarballBytes   []byte
	Basename       string

	// Publisher, if non-nil, is matched against the npm-audience token's
	// claims before anything is signed; a nil Publisher skips trusted-
	// publisher enforcement entirely (the caller is relying on the token
	// itself, e.g. a pre-authorized npm token flow).
	Publisher *policy.TrustedPublisher
}

// Result is what a successful publish produced, returned so callers can
// log or archive the attestation independently of the registry response.
type Result struct {
	CertificatePEM string
	RekorEntryUUID string
	RekorLogIndex  int64
	BundleJSON     []byte
	StatementJSON  []byte

	// PublishResponse is the registry's structured publish result
	// (status code, ErrorDetails, isRetryable); non-nil on success here
	// since a registry error aborts the pipeline with a non-nil err.
	PublishResponse *registry.PublishResponse
}

// Pipeline holds everything a publish needs that is not specific to one
// Request: HTTP transport, clock, environment, and service endpoints.
type Pipeline struct {
	HTTPClient *http.Client
	Env        oidcprovider.Environ
	Clock      clockwork.Clock
	Endpoints  Endpoints
	JWKSCache  *jwks.Cache
}

// NewPipeline constructs a Pipeline with sensible defaults; pass nil for
// any field the caller doesn't want to override.
func NewPipeline(httpClient *http.Client, env oidcprovider.Environ, clock clockwork.Clock) *Pipeline {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if env == nil {
		env = oidcprovider.OSEnviron{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		HTTPClient: httpClient,
		Env:        env,
		Clock:      clock,
		Endpoints:  DefaultEndpoints,
		JWKSCache:  jwks.NewCache(jwks.WithClock(clock), jwks.WithHTTPClient(httpClient)),
	}
}

// Publish runs the full keyless publish pipeline described in spec.md §2
// for req, returning the attestation artifacts on success.
func (p *Pipeline) Publish(ctx context.Context, req Request) (*Result, error) {
	provider, err := oidcprovider.Detect(p.Env)
	if err != nil {
		return nil, err
	}

	npmRaw, err := oidcprovider.AcquireToken(ctx, p.HTTPClient, p.Env, provider, oidcprovider.DefaultAudience)
	if err != nil {
		return nil, err
	}
	issuer := jwt.Issuer{IssuerURL: provider.Issuer, JWKSURI: provider.JWKSURI}
	npmToken, err := jwt.ValidateComplete(ctx, npmRaw, p.JWKSCache, issuer, oidcprovider.DefaultAudience, p.Clock, jwt.DefaultSkew)
	if err != nil {
		return nil, err
	}

	if req.Publisher != nil {
		if !policy.ValidateClaims(*req.Publisher, npmToken.Claims) {
			return nil, pipelineerr.New("publish.Publish", pipelineerr.KindClaimsMismatch, fmt.Errorf("claims do not satisfy trusted publisher rule"))
		}
	}

	sigstoreRaw, err := oidcprovider.AcquireToken(ctx, p.HTTPClient, p.Env, provider, oidcprovider.SigstoreAudience)
	if err != nil {
		return nil, err
	}
	if _, err := jwt.ValidateComplete(ctx, sigstoreRaw, p.JWKSCache, issuer, oidcprovider.SigstoreAudience, p.Clock, jwt.DefaultSkew); err != nil {
		return nil, err
	}

	keyPair, err := ephemeral.Generate()
	if err != nil {
		return nil, err
	}
	defer keyPair.Zeroize()

	cert, err := fulcio.RequestCertificate(ctx, p.HTTPClient, p.Endpoints.FulcioURL, sigstoreRaw, keyPair.PublicPEM, keyPair.Private)
	if err != nil {
		return nil, err
	}

	sha512Hex, sha1Hex, integrity := digestTarball(req.TarballBytes)

	info := slsa.FromClaims(npmToken.Claims, req.PackageName, req.PackageVersion, sha512Hex)
	statement, err := slsa.Build(info)
	if err != nil {
		return nil, err
	}
	statementJSON, err := statement.MarshalCompact()
	if err != nil {
		return nil, err
	}

	pae := dsse.PAE(dsse.PayloadType, statementJSON)
	sig, err := dsse.Sign(pae, keyPair.Private)
	if err != nil {
		return nil, err
	}

	rekorEnvelope := dsse.BuildEnvelope(statementJSON, sig, cert.LeafPEM)

	entry, err := rekor.Submit(ctx, p.HTTPClient, p.Endpoints.RekorURL, statementJSON, sig, cert.LeafPEM)
	if err != nil {
		return nil, err
	}

	b, err := bundle.Assemble(cert.LeafPEM, rekorEnvelope, entry)
	if err != nil {
		return nil, err
	}
	bundleJSON, err := b.MarshalCompact()
	if err != nil {
		return nil, err
	}

	regClient := registry.NewClient(p.HTTPClient, p.Endpoints.RegistryURL)
	publishResp, err := regClient.Publish(ctx, registry.PublishRequest{
		Name:          req.PackageName,
		Version:       req.PackageVersion,
		TarballBytes:  req.TarballBytes,
		TarballShasum: sha1Hex,
		Integrity:     integrity,
		Basename:      req.Basename,
		Bundle:        bundleJSON,
		Token:         npmRaw,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		CertificatePEM:  cert.LeafPEM,
		RekorEntryUUID:  entry.UUID,
		RekorLogIndex:   entry.LogIndex,
		BundleJSON:      bundleJSON,
		StatementJSON:   statementJSON,
		PublishResponse: publishResp,
	}, nil
}

// digestTarball returns the hex SHA-512, hex SHA-1, and npm integrity
// string ("sha512-<base64>") for a tarball's bytes.
func digestTarball(tarball []byte) (sha512Hex, sha1Hex, integrity string) {
	sum512 := sha512.Sum512(tarball)
	sum1 := sha1.Sum(tarball)
	return hex.EncodeToString(sum512[:]), hex.EncodeToString(sum1[:]), "sha512-" + base64.StdEncoding.EncodeToString(sum512[:])
}
