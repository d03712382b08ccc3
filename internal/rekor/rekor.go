// Package rekor submits a signed DSSE envelope to the Sigstore transparency
// log and retrieves the inclusion proof needed to assemble a verifiable
// bundle. This is the pipeline's hardest wire-compatibility surface: every
// field's encoding (single vs. double base64, hex vs. base64) is part of a
// contract with Rekor's own verification code, not a detail this package is
// free to choose.
package rekor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/npmcli/oidc-attest/internal/dsse"
	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

const entriesPath = "/api/v1/log/entries"

const (
	entryKind       = "intoto"
	entryAPIVersion = "0.0.2"
)

type hashValue struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type intotoSignature struct {
	PublicKey string `json:"publicKey"`
	Sig       string `json:"sig"`
}

type intotoContent struct {
	Hash        hashValue         `json:"hash"`
	PayloadHash hashValue         `json:"payloadHash"`
	Envelope    intotoEnvelopeRaw `json:"envelope"`
}

type intotoEnvelopeRaw struct {
	Payload     string            `json:"payload"`
	PayloadType string            `json:"payloadType"`
	Signatures  []intotoSignature `json:"signatures"`
}

type intotoSpec struct {
	Content intotoContent `json:"content"`
}

type entryBody struct {
	APIVersion string     `json:"apiVersion"`
	Kind       string     `json:"kind"`
	Spec       intotoSpec `json:"spec"`
}

type submitRequest struct {
	Kind       string     `json:"kind"`
	APIVersion string     `json:"apiVersion"`
	Spec       intotoSpec `json:"spec"`
}

// Checkpoint is the signed tree-head checkpoint accompanying an inclusion
// proof. Envelope contains embedded newlines and must be preserved verbatim.
type Checkpoint struct {
	Envelope string `json:"envelope"`
}

// InclusionProof is the Merkle inclusion proof for an entry in the log.
type InclusionProof struct {
	LogIndex   int64      `json:"logIndex"`
	RootHash   string     `json:"rootHash"`
	TreeSize   int64      `json:"treeSize"`
	Hashes     []string   `json:"hashes"`
	Checkpoint Checkpoint `json:"checkpoint"`
}

type verification struct {
	SignedEntryTimestamp string          `json:"signedEntryTimestamp"`
	InclusionProof       *InclusionProof `json:"inclusionProof,omitempty"`
}

type rawEntry struct {
	LogIndex      int64        `json:"logIndex"`
	IntegratedTime int64       `json:"integratedTime"`
	LogID         string       `json:"logID"`
	Verification  verification `json:"verification"`
	Body          string       `json:"body"`
}

// Entry is the parsed, possibly proof-completed Rekor log entry for a single
// publish.
type Entry struct {
	UUID                 string
	LogIndex             int64
	IntegratedTime       int64
	LogIDHex             string
	SignedEntryTimestamp string
	InclusionProof       *InclusionProof // nil if unavailable even after the follow-up GET
	CanonicalizedBody    string          // the opaque base64 body Rekor returned, re-emitted verbatim
	Warning              string          // non-empty if the inclusion-proof follow-up failed
}

// Submit builds the canonical intoto v0.0.2 entry from the exact signed
// payload bytes, the DER signature, and certPEM. hash.value is the SHA-256
// of the compact JSON of the Rekor-bound DSSE envelope (the one carrying
// publicKey) built from those same inputs. Submit then POSTs the entry to
// Rekor and performs the inclusion-proof follow-up GET described in
// spec.md §4.6.
func Submit(ctx context.Context, client *http.Client, baseURL string, payload, rawSignatureDER []byte, certPEM string) (*Entry, error) {
	envelope := intotoEnvelopeRaw{
		PayloadType: "application/vnd.in-toto+json",
		Payload:     doubleBase64(payload),
		Signatures: []intotoSignature{{
			PublicKey: base64.StdEncoding.EncodeToString([]byte(certPEM)),
			Sig:       doubleBase64(rawSignatureDER),
		}},
	}

	dsseJSON, err := json.Marshal(dsse.BuildEnvelope(payload, rawSignatureDER, certPEM))
	if err != nil {
		return nil, pipelineerr.New("rekor.Submit", pipelineerr.KindRekorSubmissionFailed, err)
	}

	body := entryBody{
		APIVersion: entryAPIVersion,
		Kind:       entryKind,
		Spec: intotoSpec{Content: intotoContent{
			Hash:        hashValue{Algorithm: "sha256", Value: hexSHA256(dsseJSON)},
			PayloadHash: hashValue{Algorithm: "sha256", Value: hexSHA256(payload)},
			Envelope:    envelope,
		}},
	}

	req := submitRequest{Kind: body.Kind, APIVersion: body.APIVersion, Spec: body.Spec}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, pipelineerr.New("rekor.Submit", pipelineerr.KindRekorSubmissionFailed, err)
	}

	uuid, entry, err := post(ctx, client, baseURL, reqJSON)
	if err != nil {
		return nil, err
	}

	result := toEntry(uuid, entry)

	if result.InclusionProof == nil {
		fetched, getErr := Get(ctx, client, baseURL, uuid)
		if getErr != nil {
			result.Warning = fmt.Sprintf("inclusion proof unavailable after follow-up GET: %v", getErr)
		} else if fetched.InclusionProof != nil {
			result.InclusionProof = fetched.InclusionProof
			result.SignedEntryTimestamp = fetched.SignedEntryTimestamp
			result.CanonicalizedBody = fetched.CanonicalizedBody
		} else {
			result.Warning = "inclusion proof still unavailable after follow-up GET"
		}
	}

	return result, nil
}

// Get retrieves the full entry for uuid, used both for the inclusion-proof
// follow-up inside Submit and for standalone lookups.
func Get(ctx context.Context, client *http.Client, baseURL, uuid string) (*Entry, error) {
	url := strings.TrimRight(baseURL, "/") + entriesPath + "/" + uuid
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipelineerr.New("rekor.Get", pipelineerr.KindRekorFetchFailed, err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, pipelineerr.New("rekor.Get", pipelineerr.KindRekorFetchFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.New("rekor.Get", pipelineerr.KindRekorFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pipelineerr.New("rekor.Get", pipelineerr.KindRekorFetchFailed, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	respUUID, entry, err := parseEntriesResponse(respBody)
	if err != nil {
		return nil, pipelineerr.New("rekor.Get", pipelineerr.KindRekorFetchFailed, err)
	}

	return toEntry(respUUID, entry), nil
}

func post(ctx context.Context, client *http.Client, baseURL string, reqJSON []byte) (string, rawEntry, error) {
	url := strings.TrimRight(baseURL, "/") + entriesPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", rawEntry{}, pipelineerr.New("rekor.Submit", pipelineerr.KindRekorSubmissionFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", rawEntry{}, pipelineerr.New("rekor.Submit", pipelineerr.KindNetworkError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", rawEntry{}, pipelineerr.New("rekor.Submit", pipelineerr.KindNetworkError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", rawEntry{}, pipelineerr.New("rekor.Submit", pipelineerr.KindRekorSubmissionFailed, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	uuid, entry, err := parseEntriesResponse(respBody)
	if err != nil {
		return "", rawEntry{}, pipelineerr.New("rekor.Submit", pipelineerr.KindRekorSubmissionFailed, err)
	}
	return uuid, entry, nil
}

// parseEntriesResponse parses the `{"<uuid>": {...}}` shape Rekor returns
// from both the POST and the GET, and returns its single entry.
func parseEntriesResponse(body []byte) (string, rawEntry, error) {
	var m map[string]rawEntry
	if err := json.Unmarshal(body, &m); err != nil {
		return "", rawEntry{}, fmt.Errorf("decoding log entries response: %w", err)
	}
	for uuid, entry := range m {
		return uuid, entry, nil
	}
	return "", rawEntry{}, fmt.Errorf("log entries response contained no entries")
}

func toEntry(uuid string, re rawEntry) *Entry {
	return &Entry{
		UUID:                  uuid,
		LogIndex:              re.LogIndex,
		IntegratedTime:        re.IntegratedTime,
		LogIDHex:              re.LogID,
		SignedEntryTimestamp:  re.Verification.SignedEntryTimestamp,
		InclusionProof:        re.Verification.InclusionProof,
		CanonicalizedBody:     re.Body,
	}
}

func doubleBase64(raw []byte) string {
	once := base64.StdEncoding.EncodeToString(raw)
	return base64.StdEncoding.EncodeToString([]byte(once))
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
