// Package fulcio implements the proof-of-possession exchange described in
// spec.md §4.5: binding an ephemeral ECDSA-P256 keypair to an OIDC identity
// by requesting a short-lived X.509 certificate from Fulcio.
package fulcio

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/npmcli/oidc-attest/internal/jwt"
	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

const certRequestPath = "/api/v2/signingCert"

type credentials struct {
	OIDCIdentityToken string `json:"oidcIdentityToken"`
}

type publicKey struct {
	Algorithm string `json:"algorithm"`
	Content   string `json:"content"`
}

type publicKeyRequest struct {
	PublicKey         publicKey `json:"publicKey"`
	ProofOfPossession string    `json:"proofOfPossession"`
}

type signingCertRequest struct {
	Credentials      credentials      `json:"credentials"`
	PublicKeyRequest publicKeyRequest `json:"publicKeyRequest"`
}

// Certificate is the result of a successful Fulcio request: the full PEM
// chain Fulcio returned, plus the leaf certificate extracted from it.
type Certificate struct {
	ChainPEM string
	LeafPEM  string
}

// RequestCertificate exchanges a sigstore-audience OIDC token and an
// ephemeral ECDSA-P256 keypair for a short-lived signing certificate.
func RequestCertificate(ctx context.Context, client *http.Client, baseURL, oidcToken, publicKeyPEM string, privateKey *ecdsa.PrivateKey) (*Certificate, error) {
	token, err := jwt.DecodeUnsafe(oidcToken)
	if err != nil {
		return nil, err
	}
	sub := token.Claims.Subject

	sig, err := ecdsa.SignASN1(rand.Reader, privateKey, []byte(sub))
	if err != nil {
		return nil, pipelineerr.New("fulcio.RequestCertificate", pipelineerr.KindFulcioCertificateRequestFailed, err)
	}

	reqBody := signingCertRequest{
		Credentials: credentials{OIDCIdentityToken: oidcToken},
		PublicKeyRequest: publicKeyRequest{
			PublicKey: publicKey{
				Algorithm: "ECDSA",
				Content:   publicKeyPEM,
			},
			ProofOfPossession: base64.StdEncoding.EncodeToString(sig),
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, pipelineerr.New("fulcio.RequestCertificate", pipelineerr.KindFulcioCertificateRequestFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+certRequestPath, strings.NewReader(string(payload)))
	if err != nil {
		return nil, pipelineerr.New("fulcio.RequestCertificate", pipelineerr.KindFulcioCertificateRequestFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/pem-certificate-chain")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, pipelineerr.New("fulcio.RequestCertificate", pipelineerr.KindNetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.New("fulcio.RequestCertificate", pipelineerr.KindNetworkError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pipelineerr.New("fulcio.RequestCertificate", pipelineerr.KindFulcioCertificateRequestFailed, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	chain := unescapeLiteralNewlines(string(body))

	leaf, err := extractFirstCertificate(chain)
	if err != nil {
		return nil, err
	}

	return &Certificate{ChainPEM: chain, LeafPEM: leaf}, nil
}

// unescapeLiteralNewlines undoes re-escaping some gateways perform on a
// PEM response, turning literal two-character "\n"/"\r" sequences back into
// real newlines.
func unescapeLiteralNewlines(s string) string {
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\r`, "\n")
	return s
}

const (
	certBegin = "-----BEGIN CERTIFICATE-----"
	certEnd   = "-----END CERTIFICATE-----"
)

func extractFirstCertificate(chain string) (string, error) {
	start := strings.Index(chain, certBegin)
	if start == -1 {
		return "", pipelineerr.New("fulcio.extractFirstCertificate", pipelineerr.KindFulcioCertificateRequestFailed, fmt.Errorf("no certificate found in response"))
	}
	end := strings.Index(chain[start:], certEnd)
	if end == -1 {
		return "", pipelineerr.New("fulcio.extractFirstCertificate", pipelineerr.KindFulcioCertificateRequestFailed, fmt.Errorf("unterminated certificate in response"))
	}
	end += start + len(certEnd)
	return chain[start:end] + "\n", nil
}
