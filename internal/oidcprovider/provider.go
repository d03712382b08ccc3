// Package oidcprovider enumerates the built-in CI identity providers,
// detects which one the pipeline is currently running under, and retrieves
// (or exchanges for) an OIDC token with a chosen audience.
package oidcprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

// DefaultAudience is used when publishing to the npm registry.
const DefaultAudience = "npm:registry.npmjs.org"

// SigstoreAudience is the audience Fulcio expects on the credential used for
// the proof-of-possession exchange.
const SigstoreAudience = "sigstore"

// Provider describes a single CI identity provider.
type Provider struct {
	Name    string
	Issuer  string
	JWKSURI string

	// DetectEnvVar, when set in the environment (to any non-empty value),
	// identifies this provider as active.
	DetectEnvVar string

	// TokenEnvVar, if non-empty, names an environment variable that holds
	// the raw token directly (no exchange required).
	TokenEnvVar string

	// RequestURLEnvVar/RequestTokenEnvVar, if both non-empty, name the
	// environment variables used to mint a token with a caller-chosen
	// audience via an HTTP exchange.
	RequestURLEnvVar   string
	RequestTokenEnvVar string
}

// Registry lists the built-in providers in the fixed detection order given
// by spec.md §4.2.
var Registry = []Provider{
	{
		Name:               "GitHub Actions",
		Issuer:             "https://token.actions.githubusercontent.com",
		JWKSURI:            "https://token.actions.githubusercontent.com/.well-known/jwks",
		DetectEnvVar:       "GITHUB_ACTIONS",
		RequestURLEnvVar:   "ACTIONS_ID_TOKEN_REQUEST_URL",
		RequestTokenEnvVar: "ACTIONS_ID_TOKEN_REQUEST_TOKEN",
	},
	{
		Name:         "GitLab CI",
		Issuer:       "https://gitlab.com",
		JWKSURI:      "https://gitlab.com/oauth/discovery/keys",
		DetectEnvVar: "GITLAB_CI",
		TokenEnvVar:  "CI_JOB_JWT_V2",
	},
	{
		Name:               "Azure Pipelines",
		Issuer:             "https://vstoken.dev.azure.com",
		JWKSURI:            "https://vstoken.dev.azure.com/.well-known/jwks",
		DetectEnvVar:       "AZURE_PIPELINES",
		RequestURLEnvVar:   "SYSTEM_OIDCREQUESTURI",
		RequestTokenEnvVar: "SYSTEM_ACCESSTOKEN",
	},
	{
		Name:         "Bitbucket Pipelines",
		Issuer:       "https://api.bitbucket.org/2.0/workspaces",
		JWKSURI:      "https://api.bitbucket.org/2.0/workspaces/.well-known/jwks",
		DetectEnvVar: "BITBUCKET_BUILD_NUMBER",
		TokenEnvVar:  "BITBUCKET_STEP_OIDC_TOKEN",
	},
	{
		Name:         "CircleCI",
		Issuer:       "https://oidc.circleci.com/org",
		JWKSURI:      "https://oidc.circleci.com/org/.well-known/jwks",
		DetectEnvVar: "CIRCLECI",
		TokenEnvVar:  "CIRCLE_OIDC_TOKEN",
	},
	{
		Name:         "Jenkins",
		Issuer:       "https://jenkins.local",
		JWKSURI:      "https://jenkins.local/.well-known/jwks",
		DetectEnvVar: "JENKINS_HOME",
		TokenEnvVar:  "JENKINS_ID_TOKEN",
	},
	{
		Name:         "Travis CI",
		Issuer:       "https://travis-ci.com",
		JWKSURI:      "https://travis-ci.com/.well-known/jwks",
		DetectEnvVar: "TRAVIS",
		TokenEnvVar:  "TRAVIS_ID_TOKEN",
	},
}

// Environ abstracts environment-variable lookup so tests can inject a fixed
// map instead of mutating process-global state.
type Environ interface {
	Getenv(key string) string
}

// OSEnviron reads from the real process environment.
type OSEnviron struct{}

func (OSEnviron) Getenv(key string) string { return os.Getenv(key) }

// MapEnviron is an Environ backed by a map, for tests.
type MapEnviron map[string]string

func (m MapEnviron) Getenv(key string) string { return m[key] }

// Detect probes the environment variables in the fixed order given by
// spec.md §4.2 and returns the first provider found.
func Detect(env Environ) (Provider, error) {
	for _, p := range Registry {
		if env.Getenv(p.DetectEnvVar) != "" {
			return p, nil
		}
	}
	return Provider{}, pipelineerr.New("oidcprovider.Detect", pipelineerr.KindInvalidToken, fmt.Errorf("no supported CI provider detected"))
}

// AcquireToken retrieves a raw OIDC token for the given audience, either by
// reading it directly from the environment or by performing the HTTP
// exchange described in spec.md §4.2.
func AcquireToken(ctx context.Context, client *http.Client, env Environ, p Provider, audience string) (string, error) {
	if p.TokenEnvVar != "" {
		token := env.Getenv(p.TokenEnvVar)
		if token == "" {
			return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindInvalidToken, fmt.Errorf("%s not set", p.TokenEnvVar))
		}
		return token, nil
	}

	if p.RequestURLEnvVar == "" || p.RequestTokenEnvVar == "" {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindInvalidToken, fmt.Errorf("provider %s has no token source configured", p.Name))
	}

	requestURL := env.Getenv(p.RequestURLEnvVar)
	requestToken := env.Getenv(p.RequestTokenEnvVar)
	if requestURL == "" || requestToken == "" {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindInvalidToken, fmt.Errorf("%s/%s not set", p.RequestURLEnvVar, p.RequestTokenEnvVar))
	}

	sep := "?"
	if strings.Contains(requestURL, "?") {
		sep = "&"
	}
	fullURL := requestURL + sep + "audience=" + audience

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindNetworkError, err)
	}
	req.Header.Set("Authorization", "Bearer "+requestToken)

	resp, err := client.Do(req)
	if err != nil {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindNetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindNetworkError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindNetworkError, fmt.Errorf("token exchange returned status %d", resp.StatusCode))
	}

	var decoded struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindInvalidToken, err)
	}
	if decoded.Value == "" {
		return "", pipelineerr.New("oidcprovider.AcquireToken", pipelineerr.KindInvalidToken, fmt.Errorf("token exchange response missing value"))
	}

	return decoded.Value, nil
}

