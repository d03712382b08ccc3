// Package jwt implements JWT header/claims decoding and RS256/ES256
// signature verification against a JWKS, without delegating to a general
// purpose JWT library: the byte-exact padding and key-selection rules this
// pipeline is held to (see VerifySignature) are part of the wire contract with
// Fulcio/Rekor/the registry, not an implementation detail a library should
// paper over.
package jwt

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

// Header is the decoded JWT header. Only RS256 and ES256 are accepted by
// VerifySignature; Alg is still decoded for any value so ParseHeader can distinguish
// "absent" from "unsupported".
type Header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
}

// Claims is the decoded JWT payload. Every optional claim is a plain value
// field (a string, or an int64 for nbf) defaulting to its zero value rather
// than a pointer: the pipeline
// owns a single short-lived copy of the token per request, so there is no
// lifetime bookkeeping to avoid by indirecting through pointers or arenas.
type Claims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	NotBefore int64  `json:"nbf,omitempty"`
	JTI       string `json:"jti,omitempty"`

	// GitHub Actions.
	Repository           string `json:"repository,omitempty"`
	RepositoryOwner      string `json:"repository_owner,omitempty"`
	RepositoryID         string `json:"repository_id,omitempty"`
	RepositoryOwnerID    string `json:"repository_owner_id,omitempty"`
	WorkflowRef          string `json:"workflow_ref,omitempty"`
	JobWorkflowRef       string `json:"job_workflow_ref,omitempty"`
	Actor                string `json:"actor,omitempty"`
	EventName            string `json:"event_name,omitempty"`
	Ref                  string `json:"ref,omitempty"`
	RefType              string `json:"ref_type,omitempty"`
	SHA                  string `json:"sha,omitempty"`
	RunID                string `json:"run_id,omitempty"`
	RunAttempt           string `json:"run_attempt,omitempty"`
	RunnerEnvironment    string `json:"runner_environment,omitempty"`

	// GitLab CI.
	NamespacePath  string `json:"namespace_path,omitempty"`
	NamespaceID    string `json:"namespace_id,omitempty"`
	ProjectPath    string `json:"project_path,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	PipelineID     string `json:"pipeline_id,omitempty"`
	PipelineSource string `json:"pipeline_source,omitempty"`
}

// Token is the decoded, immutable view of a JWT: the raw wire string plus
// its parsed Claims. Raw is kept around because several downstream steps
// need the original compact serialization (Fulcio's credential exchange,
// the Authorization header on the registry PUT) and re-encoding Claims
// would not byte-for-byte reproduce it.
type Token struct {
	Raw    string
	Header Header
	Claims Claims
}

func splitSegments(raw string) ([]string, error) {
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, pipelineerr.New("jwt.splitSegments", pipelineerr.KindInvalidToken, nil)
	}
	return segments, nil
}

func decodeSegment(segment string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, pipelineerr.New("jwt.decodeSegment", pipelineerr.KindInvalidToken, err)
	}
	return b, nil
}

// ParseHeader decodes and validates the JWT header. It does not verify the
// signature.
func ParseHeader(raw string) (Header, error) {
	segments, err := splitSegments(raw)
	if err != nil {
		return Header{}, err
	}

	headerBytes, err := decodeSegment(segments[0])
	if err != nil {
		return Header{}, err
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return Header{}, pipelineerr.New("jwt.ParseHeader", pipelineerr.KindInvalidToken, err)
	}

	if header.Alg == "" {
		return Header{}, pipelineerr.New("jwt.ParseHeader", pipelineerr.KindInvalidToken, nil)
	}
	if header.Alg != "RS256" && header.Alg != "ES256" {
		return Header{}, pipelineerr.New("jwt.ParseHeader", pipelineerr.KindUnsupportedAlgorithm, nil)
	}

	return header, nil
}

// DecodeUnsafe decodes the structural contents of a JWT (header + claims)
// without verifying its signature or checking expiry. It is used to peek at
// claims before full validation is possible, e.g. extracting `sub` for the
// Fulcio proof-of-possession before the sigstore-audience token has been
// fully validated against a JWKS.
func DecodeUnsafe(raw string) (*Token, error) {
	segments, err := splitSegments(raw)
	if err != nil {
		return nil, err
	}

	headerBytes, err := decodeSegment(segments[0])
	if err != nil {
		return nil, err
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, pipelineerr.New("jwt.DecodeUnsafe", pipelineerr.KindInvalidToken, err)
	}

	payloadBytes, err := decodeSegment(segments[1])
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, pipelineerr.New("jwt.DecodeUnsafe", pipelineerr.KindInvalidToken, err)
	}

	if claims.IssuedAt > claims.ExpiresAt {
		return nil, pipelineerr.New("jwt.DecodeUnsafe", pipelineerr.KindInvalidToken, nil)
	}
	if claims.NotBefore != 0 && claims.NotBefore > claims.ExpiresAt {
		return nil, pipelineerr.New("jwt.DecodeUnsafe", pipelineerr.KindInvalidToken, nil)
	}

	return &Token{Raw: raw, Header: header, Claims: claims}, nil
}

// signedInput returns the exact byte range that is signed: header_b64 + "."
// + payload_b64.
func signedInput(raw string) (string, []byte, error) {
	segments, err := splitSegments(raw)
	if err != nil {
		return "", nil, err
	}
	sig, err := decodeSegment(segments[2])
	if err != nil {
		return "", nil, err
	}
	return segments[0] + "." + segments[1], sig, nil
}
