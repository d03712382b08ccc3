// Package policy implements the trusted-publisher claim matching described
// in spec.md §4.3: owner-declared rules evaluated against OIDC claims, and
// the package-name glob and signature-policy enforcement that sit alongside
// it.
package policy

import (
	"strings"

	"github.com/danwakefield/fnmatch"

	"github.com/npmcli/oidc-attest/internal/jwt"
)

// PublisherType is the kind of trusted-publisher rule.
type PublisherType string

const (
	PublisherGitHubAction PublisherType = "github-action"
	PublisherGitLabCI     PublisherType = "gitlab-ci"
)

// TrustedPublisher is an owner-declared rule permitting a CI identity to
// publish without a long-lived token.
type TrustedPublisher struct {
	Type         PublisherType
	Owner        string
	Repository   string
	Workflow     string
	Environment  string
	AllowedRefs  []string
}

// maxIdentityLength bounds the "owner/repository" string this package will
// build before comparing it against a claim, mirroring the stack-buffer
// sizing the original implementation used; anything longer simply fails
// closed rather than growing unbounded.
const maxIdentityLength = 512

// ValidateClaims reports whether claims satisfy publisher's rule, per
// spec.md §4.3.
func ValidateClaims(publisher TrustedPublisher, claims jwt.Claims) bool {
	switch publisher.Type {
	case PublisherGitHubAction:
		return validateGitHubAction(publisher, claims)
	case PublisherGitLabCI:
		return validateGitLabCI(publisher, claims)
	default:
		return false
	}
}

func validateGitHubAction(publisher TrustedPublisher, claims jwt.Claims) bool {
	if claims.RepositoryOwner != publisher.Owner {
		return false
	}

	identity := publisher.Owner + "/" + publisher.Repository
	if len(identity) > maxIdentityLength {
		return false
	}
	if claims.Repository != identity {
		return false
	}

	if publisher.Workflow != "" {
		if !strings.Contains(claims.JobWorkflowRef, publisher.Workflow) {
			return false
		}
	}

	if len(publisher.AllowedRefs) > 0 {
		if !refAllowed(publisher.AllowedRefs, claims.Ref) {
			return false
		}
	}

	return true
}

func validateGitLabCI(publisher TrustedPublisher, claims jwt.Claims) bool {
	if claims.NamespacePath != publisher.Owner {
		return false
	}

	identity := publisher.Owner + "/" + publisher.Repository
	if len(identity) > maxIdentityLength {
		return false
	}
	if claims.ProjectPath != identity {
		return false
	}

	if len(publisher.AllowedRefs) > 0 {
		if !refAllowed(publisher.AllowedRefs, claims.Ref) {
			return false
		}
	}

	return true
}

// refAllowed requires an exact match against one of the allowed refs — not
// a glob match, even though entries like "refs/tags/v*" look glob-shaped.
// spec.md's end-to-end scenario #3 is explicit that this is exact-match
// only.
func refAllowed(allowedRefs []string, ref string) bool {
	for _, allowed := range allowedRefs {
		if allowed == ref {
			return true
		}
	}
	return false
}

// MatchPackageName implements the glob syntax in spec.md §4.3: `*` matches
// anything, `@scope/*` matches exactly that scope with any suffix,
// `prefix*` matches as a prefix, and anything else is an exact match. All
// three wildcard shapes reduce to the same shell-glob semantics, so this
// defers to fnmatch.Match rather than hand-rolling three special cases.
func MatchPackageName(name, pattern string) bool {
	return fnmatch.Match(pattern, name, 0)
}
