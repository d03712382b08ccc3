// Package tokenmanager owns the lifecycle of a single OIDC token across a
// publish: acquiring it, validating it in full, and deciding when it is
// stale enough to refresh.
package tokenmanager

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/npmcli/oidc-attest/internal/jwt"
	"github.com/npmcli/oidc-attest/internal/oidcprovider"
	tmoptions "github.com/npmcli/oidc-attest/internal/tokenmanager/options/tokenmanager"
)

// Manager holds the current token for one (provider, audience) pair and
// refreshes it on demand.
type Manager struct {
	httpClient *http.Client
	env        oidcprovider.Environ
	fetcher    jwt.JWKSFetcher
	clock      clockwork.Clock
	provider   oidcprovider.Provider
	issuer     jwt.Issuer
	audience   string

	refreshThreshold time.Duration
	skew             time.Duration

	current *jwt.Token
	rawCurrent string
}

// New constructs a Manager for provider/audience, validating tokens against
// issuer using fetcher for JWKS lookups.
func New(httpClient *http.Client, env oidcprovider.Environ, fetcher jwt.JWKSFetcher, clock clockwork.Clock, provider oidcprovider.Provider, audience string, opts ...tmoptions.Option) *Manager {
	o := *tmoptions.DefaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		httpClient:       httpClient,
		env:              env,
		fetcher:          fetcher,
		clock:            clock,
		provider:         provider,
		issuer:           jwt.Issuer{IssuerURL: provider.Issuer, JWKSURI: provider.JWKSURI},
		audience:         audience,
		refreshThreshold: o.RefreshThreshold,
		skew:             o.Skew,
	}
}

// GetValidToken returns the current token if it has more than
// RefreshThreshold left before expiry, otherwise fetches and validates a
// fresh one.
func (m *Manager) GetValidToken(ctx context.Context) (*jwt.Token, string, error) {
	if m.current != nil {
		exp := time.Unix(m.current.Claims.ExpiresAt, 0)
		if m.clock.Now().Before(exp.Add(-m.refreshThreshold)) {
			return m.current, m.rawCurrent, nil
		}
		m.current = nil
		m.rawCurrent = ""
	}
	return m.RefreshToken(ctx)
}

// RefreshToken forces a fresh token acquisition and full validation,
// replacing any currently held token.
func (m *Manager) RefreshToken(ctx context.Context) (*jwt.Token, string, error) {
	raw, err := oidcprovider.AcquireToken(ctx, m.httpClient, m.env, m.provider, m.audience)
	if err != nil {
		return nil, "", err
	}

	token, err := jwt.ValidateComplete(ctx, raw, m.fetcher, m.issuer, m.audience, m.clock, m.skew)
	if err != nil {
		return nil, "", err
	}

	m.current = token
	m.rawCurrent = raw
	return token, raw, nil
}

// GetTokenTTL returns the remaining lifetime of the current token, or zero
// if no token is held.
func (m *Manager) GetTokenTTL() time.Duration {
	if m.current == nil {
		return 0
	}
	ttl := time.Unix(m.current.Claims.ExpiresAt, 0).Sub(m.clock.Now())
	if ttl < 0 {
		return 0
	}
	return ttl
}

// NeedsRefreshForOperation reports whether the current token's TTL is too
// short to safely cover an operation expected to take d, or whether no
// token is held at all.
func (m *Manager) NeedsRefreshForOperation(d time.Duration) bool {
	if m.current == nil {
		return true
	}
	return m.GetTokenTTL() < d+m.refreshThreshold
}

// Current returns the currently held token and its raw form, if any.
func (m *Manager) Current() (*jwt.Token, string, bool) {
	if m.current == nil {
		return nil, "", false
	}
	return m.current, m.rawCurrent, true
}
