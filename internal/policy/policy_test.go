package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npmcli/oidc-attest/internal/jwt"
)

func TestValidateClaimsTrustedGitHubPublisherMainBranch(t *testing.T) {
	publisher := TrustedPublisher{
		Type:       PublisherGitHubAction,
		Owner:      "npm",
		Repository: "cli",
	}
	claims := jwt.Claims{
		RepositoryOwner: "npm",
		Repository:      "npm/cli",
		Ref:             "refs/heads/main",
		JobWorkflowRef:  "npm/cli/.github/workflows/publish.yml@refs/heads/main",
	}
	assert.True(t, ValidateClaims(publisher, claims))
}

func TestValidateClaimsWrongOwner(t *testing.T) {
	publisher := TrustedPublisher{Type: PublisherGitHubAction, Owner: "npm", Repository: "cli"}
	claims := jwt.Claims{RepositoryOwner: "attacker", Repository: "npm/cli"}
	assert.False(t, ValidateClaims(publisher, claims))
}

func TestValidateClaimsAllowedRefsExactMatchOnly(t *testing.T) {
	publisher := TrustedPublisher{
		Type:        PublisherGitHubAction,
		Owner:       "npm",
		Repository:  "cli",
		AllowedRefs: []string{"refs/tags/v1.0.0"},
	}
	claims := jwt.Claims{
		RepositoryOwner: "npm",
		Repository:      "npm/cli",
		Ref:             "refs/tags/v1.0.1",
	}
	assert.False(t, ValidateClaims(publisher, claims), "allowed refs must be exact-match, not glob")

	claimsExact := claims
	claimsExact.Ref = "refs/tags/v1.0.0"
	assert.True(t, ValidateClaims(publisher, claimsExact))
}

func TestValidateClaimsWorkflowSubstringMatch(t *testing.T) {
	publisher := TrustedPublisher{
		Type:       PublisherGitHubAction,
		Owner:      "npm",
		Repository: "cli",
		Workflow:   "publish.yml",
	}
	claims := jwt.Claims{
		RepositoryOwner: "npm",
		Repository:      "npm/cli",
		JobWorkflowRef:  "npm/cli/.github/workflows/other.yml@refs/heads/main",
	}
	assert.False(t, ValidateClaims(publisher, claims))
}

func TestValidateClaimsGitLabCI(t *testing.T) {
	publisher := TrustedPublisher{Type: PublisherGitLabCI, Owner: "group", Repository: "project"}
	claims := jwt.Claims{NamespacePath: "group", ProjectPath: "group/project"}
	assert.True(t, ValidateClaims(publisher, claims))
}

func TestValidateClaimsUnknownPublisherType(t *testing.T) {
	assert.False(t, ValidateClaims(TrustedPublisher{Type: "unknown"}, jwt.Claims{}))
}

func TestMatchPackageNameWildcard(t *testing.T) {
	assert.True(t, MatchPackageName("anything", "*"))
}

func TestMatchPackageNameScoped(t *testing.T) {
	assert.True(t, MatchPackageName("@myorg/widget", "@myorg/*"))
	assert.False(t, MatchPackageName("@otherorg/widget", "@myorg/*"))
}

func TestMatchPackageNamePrefix(t *testing.T) {
	assert.True(t, MatchPackageName("widget-core", "widget-*"))
}

func TestMatchPackageNameExact(t *testing.T) {
	assert.True(t, MatchPackageName("exact-name", "exact-name"))
	assert.False(t, MatchPackageName("exact-name-extra", "exact-name"))
}
