package rekor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEntryResponse(uuid string, withProof bool) []byte {
	verif := map[string]any{"signedEntryTimestamp": "c2V0"}
	if withProof {
		verif["inclusionProof"] = map[string]any{
			"logIndex": 42,
			"rootHash": "aabbcc",
			"treeSize": 100,
			"hashes":   []string{"aabbcc"},
			"checkpoint": map[string]any{
				"envelope": "rekor.sigstore.dev - checkpoint",
			},
		}
	}
	doc := map[string]any{
		uuid: map[string]any{
			"logIndex":       42,
			"integratedTime": 1700000000,
			"logID":          "deadbeef",
			"verification":   verif,
			"body":           "eyJvcGFxdWUiOnRydWV9",
		},
	}
	b, _ := json.Marshal(doc)
	return b
}

func TestSubmitDoubleBase64EncodesPayloadAndSig(t *testing.T) {
	var captured submitRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(fixedEntryResponse("uuid-1", true))
	}))
	defer server.Close()

	payload := []byte(`{"statement":true}`)
	sig := []byte("raw-signature-bytes")
	certPEM := "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----\n"

	entry, err := Submit(context.Background(), server.Client(), server.URL, payload, sig, certPEM)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", entry.UUID)
	require.NotNil(t, entry.InclusionProof)
	assert.Empty(t, entry.Warning)

	gotEnvelope := captured.Spec.Content.Envelope
	decodedOnce, err := base64.StdEncoding.DecodeString(gotEnvelope.Payload)
	require.NoError(t, err)
	decodedTwice, err := base64.StdEncoding.DecodeString(string(decodedOnce))
	require.NoError(t, err)
	assert.Equal(t, payload, decodedTwice)

	sigOnce, err := base64.StdEncoding.DecodeString(gotEnvelope.Signatures[0].Sig)
	require.NoError(t, err)
	sigTwice, err := base64.StdEncoding.DecodeString(string(sigOnce))
	require.NoError(t, err)
	assert.Equal(t, sig, sigTwice)

	pubKeyOnce, err := base64.StdEncoding.DecodeString(gotEnvelope.Signatures[0].PublicKey)
	require.NoError(t, err)
	assert.Equal(t, certPEM, string(pubKeyOnce))
}

func TestSubmitFollowsUpWhenInclusionProofMissing(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(fixedEntryResponse("uuid-2", false))
			return
		}
		_, _ = w.Write(fixedEntryResponse("uuid-2", true))
	}))
	defer server.Close()

	entry, err := Submit(context.Background(), server.Client(), server.URL, []byte("p"), []byte("s"), "cert")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NotNil(t, entry.InclusionProof)
	assert.Empty(t, entry.Warning)
}

func TestSubmitSetsWarningWhenFollowUpGetFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(fixedEntryResponse("uuid-3", false))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	entry, err := Submit(context.Background(), server.Client(), server.URL, []byte("p"), []byte("s"), "cert")
	require.NoError(t, err)
	assert.Nil(t, entry.InclusionProof)
	assert.NotEmpty(t, entry.Warning, "must not fabricate a proof; must record why it's missing")
}

func TestSubmitRejectsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer server.Close()

	_, err := Submit(context.Background(), server.Client(), server.URL, []byte("p"), []byte("s"), "cert")
	assert.Error(t, err)
}

func TestGetParsesSingleEntryMap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("%s/uuid-4", entriesPath), r.URL.Path)
		_, _ = w.Write(fixedEntryResponse("uuid-4", true))
	}))
	defer server.Close()

	entry, err := Get(context.Background(), server.Client(), server.URL, "uuid-4")
	require.NoError(t, err)
	assert.Equal(t, "uuid-4", entry.UUID)
	assert.Equal(t, "deadbeef", entry.LogIDHex)
	assert.EqualValues(t, 42, entry.LogIndex)
}
