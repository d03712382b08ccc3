package policy

// SignatureLevel is the enforcement level for a SignaturePolicy.
type SignatureLevel string

const (
	LevelNone   SignatureLevel = "none"
	LevelWarn   SignatureLevel = "warn"
	LevelStrict SignatureLevel = "strict"
)

// SignaturePolicy configures how Ed25519 package signatures are enforced.
type SignaturePolicy struct {
	Level            SignatureLevel
	RequiredFor      []string
	Exempt           []string
	TrustedKeys      []string
	AllowSelfSigned  bool
}

// ViolationKind identifies why EvaluateSignaturePolicy flagged a package.
type ViolationKind string

const (
	ViolationMissingSignature ViolationKind = "missing_signature"
	ViolationUntrustedKey     ViolationKind = "untrusted_key"
)

// Violation describes a single signature-policy infraction.
type Violation struct {
	Kind    ViolationKind
	Package string
	KeyID   string
}

// Decision is the outcome of evaluating a SignaturePolicy for a package and
// (optionally) the key ID that signed it.
type Decision struct {
	Allowed    bool
	Violations []Violation
}

// EvaluateSignaturePolicy implements the level dispatch and trusted-key
// restriction described in spec.md §4.3's final paragraph. hasSignature
// indicates whether the package being published carries any signature at
// all; keyID is the empty string when hasSignature is false.
func EvaluateSignaturePolicy(pol SignaturePolicy, pkg string, hasSignature bool, keyID string) Decision {
	if pol.Level == LevelNone {
		return Decision{Allowed: true}
	}

	for _, exempt := range pol.Exempt {
		if MatchPackageName(pkg, exempt) {
			return Decision{Allowed: true}
		}
	}

	required := len(pol.RequiredFor) == 0
	for _, pattern := range pol.RequiredFor {
		if MatchPackageName(pkg, pattern) {
			required = true
			break
		}
	}
	if !required {
		return Decision{Allowed: true}
	}

	var violations []Violation
	if !hasSignature {
		violations = append(violations, Violation{Kind: ViolationMissingSignature, Package: pkg})
	} else if len(pol.TrustedKeys) > 0 && !keyTrusted(pol.TrustedKeys, keyID) {
		violations = append(violations, Violation{Kind: ViolationUntrustedKey, Package: pkg, KeyID: keyID})
	}

	if len(violations) == 0 {
		return Decision{Allowed: true}
	}

	allowed := pol.Level != LevelStrict
	return Decision{Allowed: allowed, Violations: violations}
}

func keyTrusted(trustedKeys []string, keyID string) bool {
	for _, pattern := range trustedKeys {
		if MatchPackageName(keyID, pattern) {
			return true
		}
	}
	return false
}
