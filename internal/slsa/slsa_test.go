package slsa

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPURLScopedPackage(t *testing.T) {
	assert.Equal(t, "pkg:npm/%40scope/name@1.0.0", PURL("@scope/name", "1.0.0"))
}

func TestPURLUnscopedPackage(t *testing.T) {
	assert.Equal(t, "pkg:npm/widget@2.3.4", PURL("widget", "2.3.4"))
}

func TestWorkflowPathExtractsFromJobWorkflowRef(t *testing.T) {
	ref := "npm/cli/.github/workflows/publish.yml@refs/heads/main"
	assert.Equal(t, ".github/workflows/publish.yml", WorkflowPath(ref))
}

func TestWorkflowPathFallsBackWhenMarkerAbsent(t *testing.T) {
	assert.Equal(t, defaultWorkflow, WorkflowPath("something-unexpected"))
}

func TestBuildRejectsMissingArtifactFields(t *testing.T) {
	_, err := Build(BuildInfo{PackageName: "pkg"})
	assert.Error(t, err)
}

func TestBuildProducesExpectedShape(t *testing.T) {
	info := BuildInfo{
		PackageName:     "@scope/widget",
		PackageVersion:  "1.2.3",
		TarballSHA512:   "deadbeef",
		Repository:      "npm/cli",
		Ref:             "refs/heads/main",
		SHA:             "abc123",
		EventName:       "push",
		RepositoryID:    "111",
		RepositoryOwnID: "222",
		JobWorkflowRef:  "npm/cli/.github/workflows/publish.yml@refs/heads/main",
		RunID:           "999",
		RunAttempt:      "1",
	}

	stmt, err := Build(info)
	require.NoError(t, err)

	assert.Equal(t, statementType, stmt.Type)
	assert.Equal(t, predicateType, stmt.PredicateType)
	require.Len(t, stmt.Subject, 1)
	assert.Equal(t, "pkg:npm/%40scope/widget@1.2.3", stmt.Subject[0].Name)
	assert.Equal(t, "deadbeef", stmt.Subject[0].Digest["sha512"])
	assert.Equal(t, buildType, stmt.Predicate.BuildDefinition.BuildType)
	assert.Equal(t, ".github/workflows/publish.yml", stmt.Predicate.BuildDefinition.ExternalParameters.Workflow.Path)
	assert.Equal(t, "npm/cli", stmt.Predicate.BuildDefinition.ExternalParameters.Workflow.Repository)
	assert.Equal(t, builderID, stmt.Predicate.RunDetails.Builder.ID)
	assert.Contains(t, stmt.Predicate.RunDetails.Metadata.InvocationID, "999")
	assert.Contains(t, stmt.Predicate.RunDetails.Metadata.InvocationID, "attempts/1")
}

func TestMarshalCompactIsValidJSONAndNoWhitespace(t *testing.T) {
	stmt, err := Build(BuildInfo{PackageName: "pkg", PackageVersion: "1.0.0", TarballSHA512: "aa"})
	require.NoError(t, err)

	b, err := stmt.MarshalCompact()
	require.NoError(t, err)

	for _, c := range b {
		assert.NotEqual(t, byte('\n'), c)
	}

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
}
