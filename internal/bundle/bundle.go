// Package bundle assembles a Sigstore bundle (v0.2) from a signing
// certificate, a DSSE envelope, and a completed Rekor log entry. Every field
// here is a byte-exact contract with the registry's Sigstore verification
// library: numeric fields are quoted JSON strings, hashes cross hex/base64,
// and the embedded envelope must not carry the publicKey signature field.
package bundle

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/sigstore/sigstore/pkg/cryptoutils"

	"github.com/npmcli/oidc-attest/internal/dsse"
	"github.com/npmcli/oidc-attest/internal/pipelineerr"
	"github.com/npmcli/oidc-attest/internal/rekor"
)

const mediaTypeBundle = "application/vnd.dev.sigstore.bundle+json;version=0.2"

type kindVersion struct {
	Kind    string `json:"kind"`
	Version string `json:"version"`
}

type x509Certificate struct {
	RawBytes string `json:"rawBytes"`
}

type x509CertificateChain struct {
	Certificates []x509Certificate `json:"certificates"`
}

type logID struct {
	KeyID string `json:"keyId"`
}

type checkpoint struct {
	Envelope string `json:"envelope"`
}

type inclusionProof struct {
	LogIndex   string     `json:"logIndex"`
	RootHash   string     `json:"rootHash"`
	TreeSize   string     `json:"treeSize"`
	Hashes     []string   `json:"hashes"`
	Checkpoint checkpoint `json:"checkpoint"`
}

type inclusionPromise struct {
	SignedEntryTimestamp string `json:"signedEntryTimestamp"`
}

type tlogEntry struct {
	LogIndex         string          `json:"logIndex"`
	LogID            logID           `json:"logId"`
	KindVersion      kindVersion     `json:"kindVersion"`
	IntegratedTime   string          `json:"integratedTime"`
	InclusionPromise inclusionPromise `json:"inclusionPromise"`
	InclusionProof   *inclusionProof `json:"inclusionProof,omitempty"`
	CanonicalizedBody string         `json:"canonicalizedBody"`
}

type verificationMaterial struct {
	X509CertificateChain x509CertificateChain `json:"x509CertificateChain"`
	TlogEntries          []tlogEntry          `json:"tlogEntries"`
	TimestampVerificationData timestampVerificationData `json:"timestampVerificationData"`
}

type timestampVerificationData struct {
	Rfc3161Timestamps []string `json:"rfc3161Timestamps"`
}

type dsseEnvelopeJSON struct {
	Payload     string                 `json:"payload"`
	PayloadType string                 `json:"payloadType"`
	Signatures  []dsseSignatureNoKey   `json:"signatures"`
}

type dsseSignatureNoKey struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// Bundle is the JSON document published alongside a package as its
// provenance attestation.
type Bundle struct {
	MediaType             string                `json:"mediaType"`
	VerificationMaterial  verificationMaterial  `json:"verificationMaterial"`
	DSSEEnvelope          dsseEnvelopeJSON      `json:"dsseEnvelope"`
}

// Assemble builds a v0.2 bundle from a leaf certificate PEM, the DSSE
// envelope used for signing (publicKey is stripped before embedding), and
// the Rekor entry obtained for that envelope.
func Assemble(leafCertPEM string, envelope dsse.Envelope, entry *rekor.Entry) (*Bundle, error) {
	certDER, err := pemToDER(leafCertPEM)
	if err != nil {
		return nil, err
	}

	logIDBytes, err := hex.DecodeString(entry.LogIDHex)
	if err != nil {
		return nil, pipelineerr.New("bundle.Assemble", pipelineerr.KindRekorFetchFailed, err)
	}

	tlog := tlogEntry{
		LogIndex:       strconv.FormatInt(entry.LogIndex, 10),
		LogID:          logID{KeyID: base64.StdEncoding.EncodeToString(logIDBytes)},
		KindVersion:    kindVersion{Kind: "intoto", Version: "0.0.2"},
		IntegratedTime: strconv.FormatInt(entry.IntegratedTime, 10),
		InclusionPromise: inclusionPromise{
			SignedEntryTimestamp: entry.SignedEntryTimestamp,
		},
		CanonicalizedBody: entry.CanonicalizedBody,
	}

	if entry.InclusionProof != nil {
		rootHash, err := hexToBase64(entry.InclusionProof.RootHash)
		if err != nil {
			return nil, pipelineerr.New("bundle.Assemble", pipelineerr.KindRekorFetchFailed, err)
		}
		hashes := make([]string, len(entry.InclusionProof.Hashes))
		for i, h := range entry.InclusionProof.Hashes {
			b64, err := hexToBase64(h)
			if err != nil {
				return nil, pipelineerr.New("bundle.Assemble", pipelineerr.KindRekorFetchFailed, err)
			}
			hashes[i] = b64
		}
		tlog.InclusionProof = &inclusionProof{
			LogIndex: strconv.FormatInt(entry.InclusionProof.LogIndex, 10),
			RootHash: rootHash,
			TreeSize: strconv.FormatInt(entry.InclusionProof.TreeSize, 10),
			Hashes:   hashes,
			Checkpoint: checkpoint{
				Envelope: entry.InclusionProof.Checkpoint.Envelope,
			},
		}
	}

	withoutKey := envelope.WithoutPublicKey()
	sigs := make([]dsseSignatureNoKey, len(withoutKey.Signatures))
	for i, s := range withoutKey.Signatures {
		sigs[i] = dsseSignatureNoKey{KeyID: s.KeyID, Sig: s.Sig}
	}

	b := &Bundle{
		MediaType: mediaTypeBundle,
		VerificationMaterial: verificationMaterial{
			X509CertificateChain: x509CertificateChain{
				Certificates: []x509Certificate{{RawBytes: base64.StdEncoding.EncodeToString(certDER)}},
			},
			TlogEntries:                []tlogEntry{tlog},
			TimestampVerificationData: timestampVerificationData{Rfc3161Timestamps: []string{}},
		},
		DSSEEnvelope: dsseEnvelopeJSON{
			Payload:     withoutKey.Payload,
			PayloadType: withoutKey.PayloadType,
			Signatures:  sigs,
		},
	}
	return b, nil
}

// MarshalCompact renders b as compact JSON, the literal form embedded in
// the registry's _attestations.provenance.bundle field.
func (b *Bundle) MarshalCompact() ([]byte, error) {
	out, err := json.Marshal(b)
	if err != nil {
		return nil, pipelineerr.New("bundle.MarshalCompact", pipelineerr.KindRegistryError, err)
	}
	return out, nil
}

// pemToDER parses the leaf certificate's PEM form and returns its raw DER
// bytes, delegating the PEM parsing to sigstore's own certificate-loading
// helper rather than hand-stripping armor.
func pemToDER(pemText string) ([]byte, error) {
	certs, err := cryptoutils.UnmarshalCertificatesFromPEM([]byte(pemText))
	if err != nil {
		return nil, pipelineerr.New("bundle.pemToDER", pipelineerr.KindInvalidSignature, err)
	}
	if len(certs) == 0 {
		return nil, pipelineerr.New("bundle.pemToDER", pipelineerr.KindInvalidSignature, nil)
	}
	return certs[0].Raw, nil
}

func hexToBase64(hexStr string) (string, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

