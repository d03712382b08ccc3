// Package slsa builds the in-toto/SLSA v1 provenance statement that is
// signed, logged, and bundled for a single npm publish.
package slsa

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/npmcli/oidc-attest/internal/jwt"
	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

const (
	statementType   = "https://in-toto.io/Statement/v1"
	predicateType   = "https://slsa.dev/provenance/v1"
	buildType       = "https://github.com/npm/cli/gha/v2"
	builderID       = "https://github.com/actions/runner"
	defaultWorkflow = ".github/workflows/publish.yml"
)

// BuildInfo is the set of OIDC-claim-derived facts needed to build a
// statement, separated from jwt.Claims so callers can supply synthetic
// values in tests without constructing a full token.
type BuildInfo struct {
	PackageName    string
	PackageVersion string
	TarballSHA512  string // hex

	Repository       string // "owner/repo"
	Ref              string
	SHA              string
	EventName        string
	RepositoryID     string
	RepositoryOwnID  string
	JobWorkflowRef   string
	RunID            string
	RunAttempt       string
}

// FromClaims extracts a BuildInfo from a set of validated GitHub Actions
// OIDC claims, pairing them with the package identity being published.
func FromClaims(claims jwt.Claims, packageName, packageVersion, tarballSHA512 string) BuildInfo {
	return BuildInfo{
		PackageName:     packageName,
		PackageVersion:  packageVersion,
		TarballSHA512:   tarballSHA512,
		Repository:      claims.Repository,
		Ref:             claims.Ref,
		SHA:             claims.SHA,
		EventName:       claims.EventName,
		RepositoryID:    claims.RepositoryID,
		RepositoryOwnID: claims.RepositoryOwnerID,
		JobWorkflowRef:  claims.JobWorkflowRef,
		RunID:           claims.RunID,
		RunAttempt:      claims.RunAttempt,
	}
}

// PURL returns the package URL for name@version, percent-encoding the "@"
// separating a scope from its package name as "%40".
func PURL(name, version string) string {
	encoded := strings.Replace(name, "@", "%40", 1)
	return "pkg:npm/" + encoded + "@" + version
}

// WorkflowPath extracts the workflow file path from a job_workflow_ref
// claim of the form "owner/repo/.github/workflows/file.yml@refs/heads/main",
// falling back to a conventional publish workflow name when the claim is
// absent or doesn't contain the expected marker.
func WorkflowPath(jobWorkflowRef string) string {
	const marker = ".github/workflows/"
	idx := strings.Index(jobWorkflowRef, marker)
	if idx == -1 {
		return defaultWorkflow
	}
	rest := jobWorkflowRef[idx:]
	if at := strings.Index(rest, "@"); at != -1 {
		rest = rest[:at]
	}
	return rest
}

type subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

type resolvedDependency struct {
	URI    string            `json:"uri"`
	Digest map[string]string `json:"digest"`
}

type externalParameters struct {
	Workflow workflowRef `json:"workflow"`
}

type workflowRef struct {
	Ref        string `json:"ref"`
	Repository string `json:"repository"`
	Path       string `json:"path"`
}

type internalParameters struct {
	EventName          string `json:"event_name,omitempty"`
	RepositoryID       string `json:"repository_id,omitempty"`
	RepositoryOwnerID  string `json:"repository_owner_id,omitempty"`
}

type buildDefinition struct {
	BuildType            string                `json:"buildType"`
	ExternalParameters    externalParameters    `json:"externalParameters"`
	InternalParameters    internalParameters    `json:"internalParameters"`
	ResolvedDependencies  []resolvedDependency  `json:"resolvedDependencies"`
}

type builder struct {
	ID string `json:"id"`
}

type metadata struct {
	InvocationID string `json:"invocationId"`
}

type runDetails struct {
	Builder  builder  `json:"builder"`
	Metadata metadata `json:"metadata"`
}

type predicate struct {
	BuildDefinition buildDefinition `json:"buildDefinition"`
	RunDetails      runDetails      `json:"runDetails"`
}

// Statement is the in-toto Statement v1 envelope carrying a SLSA v1
// provenance predicate.
type Statement struct {
	Type          string    `json:"_type"`
	Subject       []subject `json:"subject"`
	PredicateType string    `json:"predicateType"`
	Predicate     predicate `json:"predicate"`
}

// Build constructs the statement described in spec.md §4.7 from info.
func Build(info BuildInfo) (*Statement, error) {
	if info.PackageName == "" || info.PackageVersion == "" || info.TarballSHA512 == "" {
		return nil, pipelineerr.New("slsa.Build", pipelineerr.KindMissingClaims, errMissingArtifact)
	}

	path := WorkflowPath(info.JobWorkflowRef)

	stmt := &Statement{
		Type:          statementType,
		PredicateType: predicateType,
		Subject: []subject{{
			Name:   PURL(info.PackageName, info.PackageVersion),
			Digest: map[string]string{"sha512": info.TarballSHA512},
		}},
		Predicate: predicate{
			BuildDefinition: buildDefinition{
				BuildType: buildType,
				ExternalParameters: externalParameters{
					Workflow: workflowRef{
						Ref:        info.Ref,
						Repository: info.Repository,
						Path:       path,
					},
				},
				InternalParameters: internalParameters{
					EventName:         info.EventName,
					RepositoryID:      info.RepositoryID,
					RepositoryOwnerID: info.RepositoryOwnID,
				},
				ResolvedDependencies: []resolvedDependency{{
					URI:    "git+https://github.com/" + info.Repository + "@" + info.Ref,
					Digest: map[string]string{"gitCommit": info.SHA},
				}},
			},
			RunDetails: runDetails{
				Builder: builder{ID: builderID},
				Metadata: metadata{
					InvocationID: "https://github.com/" + info.Repository + "/actions/runs/" + info.RunID + "/attempts/" + info.RunAttempt,
				},
			},
		},
	}
	return stmt, nil
}

// MarshalCompact renders the statement as compact (no-whitespace) JSON, the
// exact byte form that is DSSE-signed and embedded in the Rekor entry.
func (s *Statement) MarshalCompact() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, pipelineerr.New("slsa.MarshalCompact", pipelineerr.KindMissingClaims, err)
	}
	return b, nil
}

var errMissingArtifact = errors.New("package name, version and tarball digest are required")
