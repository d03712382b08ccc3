// Package jwks fetches and caches JSON Web Key Sets, and selects the key a
// JWT header should be verified against.
package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

// Key is a single JWK record. Only the RSA and EC (P-256) fields this
// pipeline needs are modeled; unsupported key types decode successfully
// (so an issuer can rotate in other key types without breaking the fetch)
// but are simply never selected.
type Key struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`

	// RSA.
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC.
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// Set is the decoded `{"keys": [...]}` document.
type Set struct {
	Keys []Key `json:"keys"`
}

func (s Set) validate() error {
	for _, k := range s.Keys {
		if k.Kty == "RSA" && (k.N == "" || k.E == "") {
			return pipelineerr.New("jwks.validate", pipelineerr.KindInvalidJWKS, nil)
		}
	}
	return nil
}

// Select picks the key that should verify a header with the given kid/alg,
// per spec.md §4.1: prefer an exact kid match, fall back to any key whose
// alg matches, and as a last resort for RS256 any RSA key.
func (s Set) Select(kid, alg string) (Key, error) {
	if kid != "" {
		for _, k := range s.Keys {
			if k.Kid == kid {
				return k, nil
			}
		}
	}
	for _, k := range s.Keys {
		if k.Alg == alg {
			return k, nil
		}
	}
	if alg == "RS256" {
		for _, k := range s.Keys {
			if k.Kty == "RSA" {
				return k, nil
			}
		}
	}
	return Key{}, pipelineerr.New("jwks.Select", pipelineerr.KindInvalidJWKS, nil)
}

// RSAPublicKey decodes k's n/e fields into an *rsa.PublicKey.
func (k Key) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" || k.N == "" || k.E == "" {
		return nil, pipelineerr.New("jwks.RSAPublicKey", pipelineerr.KindInvalidJWKS, nil)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, pipelineerr.New("jwks.RSAPublicKey", pipelineerr.KindInvalidJWKS, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, pipelineerr.New("jwks.RSAPublicKey", pipelineerr.KindInvalidJWKS, err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// ECPublicKey decodes k's crv/x/y fields into an *ecdsa.PublicKey. Only
// P-256 is supported, matching the ES256-only scope of this pipeline.
func (k Key) ECPublicKey() (*ecdsa.PublicKey, error) {
	if k.Kty != "EC" || k.Crv != "P-256" {
		return nil, pipelineerr.New("jwks.ECPublicKey", pipelineerr.KindInvalidJWKS, nil)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, pipelineerr.New("jwks.ECPublicKey", pipelineerr.KindInvalidJWKS, err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, pipelineerr.New("jwks.ECPublicKey", pipelineerr.KindInvalidJWKS, err)
	}
	if len(xBytes) != 32 || len(yBytes) != 32 {
		return nil, pipelineerr.New("jwks.ECPublicKey", pipelineerr.KindInvalidJWKS, nil)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// RetryPolicy configures the backoff used by Cache.Fetch.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy matches spec.md §4.1: 3 attempts, 100ms initial delay
// doubling up to 5s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// DefaultTTL is the default cache lifetime for a fetched JWKS.
const DefaultTTL = 1 * time.Hour

type entry struct {
	uri       string
	set       Set
	fetchedAt time.Time
}

// Cache is a single-slot JWKS cache keyed by URI. It is safe for concurrent
// use: a goroutine that wants an isolated cache (the "thread-local" model in
// spec.md §5) should simply construct its own *Cache rather than share one.
type Cache struct {
	mu     sync.Mutex
	slot   *entry
	ttl    time.Duration
	retry  RetryPolicy
	clock  clockwork.Clock
	client *http.Client
}

// Option configures a Cache.
type Option func(*Cache)

func WithTTL(ttl time.Duration) Option { return func(c *Cache) { c.ttl = ttl } }

func WithRetryPolicy(p RetryPolicy) Option { return func(c *Cache) { c.retry = p } }

func WithClock(clock clockwork.Clock) Option { return func(c *Cache) { c.clock = clock } }

func WithHTTPClient(client *http.Client) Option { return func(c *Cache) { c.client = client } }

// NewCache constructs a Cache with the given options applied over sensible
// defaults.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		ttl:    DefaultTTL,
		retry:  DefaultRetryPolicy,
		clock:  clockwork.NewRealClock(),
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the JWKS for uri, using the cached copy if it is for the
// same uri and not older than the configured TTL. A different uri evicts
// the existing slot.
func (c *Cache) Fetch(ctx context.Context, uri string) (Set, error) {
	c.mu.Lock()
	if c.slot != nil && c.slot.uri == uri && c.clock.Now().Sub(c.slot.fetchedAt) < c.ttl {
		set := c.slot.set
		c.mu.Unlock()
		return set, nil
	}
	c.mu.Unlock()

	set, err := c.fetchWithRetry(ctx, uri)
	if err != nil {
		return Set{}, err
	}

	c.mu.Lock()
	c.slot = &entry{uri: uri, set: set, fetchedAt: c.clock.Now()}
	c.mu.Unlock()

	return set, nil
}

func (c *Cache) fetchWithRetry(ctx context.Context, uri string) (Set, error) {
	delay := c.retry.InitialDelay
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := c.clock.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Set{}, pipelineerr.New("jwks.fetchWithRetry", pipelineerr.KindNetworkError, ctx.Err())
			case <-timer.Chan():
			}
			delay *= 2
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}

		set, err, retryable := c.fetchOnce(ctx, uri)
		if err == nil {
			return set, nil
		}
		lastErr = err
		if !retryable {
			return Set{}, err
		}
	}
	return Set{}, pipelineerr.New("jwks.fetchWithRetry", pipelineerr.KindNetworkError, lastErr)
}

func (c *Cache) fetchOnce(ctx context.Context, uri string) (Set, error, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Set{}, pipelineerr.New("jwks.fetchOnce", pipelineerr.KindNetworkError, err), false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Set{}, pipelineerr.New("jwks.fetchOnce", pipelineerr.KindNetworkError, err), true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Set{}, pipelineerr.New("jwks.fetchOnce", pipelineerr.KindNetworkError, fmt.Errorf("unexpected status %d", resp.StatusCode)), true
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Set{}, pipelineerr.New("jwks.fetchOnce", pipelineerr.KindNetworkError, err), true
	}

	var set Set
	if err := json.Unmarshal(body, &set); err != nil {
		// Parse errors are not retried: a different attempt will not parse
		// the same malformed body any differently.
		return Set{}, pipelineerr.New("jwks.fetchOnce", pipelineerr.KindInvalidJWKS, err), false
	}

	if err := set.validate(); err != nil {
		return Set{}, err, false
	}

	return set, nil, false
}
