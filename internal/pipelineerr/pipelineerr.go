// Package pipelineerr defines the error taxonomy shared across every
// component of the keyless publishing pipeline. Components never return bare
// errors across their package boundary; they wrap the underlying cause in an
// *Error carrying one of the Kind values below so callers can dispatch on
// the kind without string matching.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of pipeline failure. These are the "kinds, not
// types" enumerated for the error taxonomy.
type Kind string

const (
	KindInvalidToken                 Kind = "invalid_token"
	KindExpiredToken                 Kind = "expired_token"
	KindNotYetValid                  Kind = "not_yet_valid"
	KindInvalidIssuer                Kind = "invalid_issuer"
	KindInvalidAudience               Kind = "invalid_audience"
	KindMissingClaims                Kind = "missing_claims"
	KindInvalidSignature             Kind = "invalid_signature"
	KindUnsupportedAlgorithm         Kind = "unsupported_algorithm"
	KindInvalidJWKS                  Kind = "invalid_jwks"
	KindNetworkError                 Kind = "network_error"
	KindFulcioCertificateRequestFailed Kind = "fulcio_certificate_request_failed"
	KindRekorSubmissionFailed        Kind = "rekor_submission_failed"
	KindRekorFetchFailed             Kind = "rekor_fetch_failed"
	KindClaimsMismatch               Kind = "claims_mismatch"
	KindRegistryError                Kind = "registry_error"
)

// Error is the concrete error type returned across every component
// boundary in this module.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "jwt.ValidateComplete".
	Op string
	// Err is the underlying cause, if any. It is never a raw secret (token
	// bytes, private key material) — callers must not format %+v over
	// request bodies that might carry one.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind wrapping err (which may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
