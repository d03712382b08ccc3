// Package registry publishes a tarball plus its provenance attestation to
// an npm-compatible registry under OIDC auth, and administers the
// trusted-publisher configuration for a package.
package registry

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/npmcli/oidc-attest/internal/pipelineerr"
)

const (
	headerAuthType = "npm-auth-type"
	headerCommand  = "npm-command"
	userAgent      = "oidc-attest/1"
)

// Client publishes packages to a single registry base URL.
type Client struct {
	HTTP      *http.Client
	BaseURL   string
	UserAgent string
}

// NewClient constructs a Client. If httpClient is nil, http.DefaultClient
// is used.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient, BaseURL: strings.TrimRight(baseURL, "/"), UserAgent: userAgent}
}

// EncodeName URL-encodes a package name for use in a registry path,
// lowercasing the one escape this contract cares about: '/' -> "%2f".
func EncodeName(name string) string {
	return strings.ReplaceAll(name, "/", "%2f")
}

// Dist is the distribution metadata for one published version.
type Dist struct {
	Integrity string `json:"integrity"`
	Shasum    string `json:"shasum"`
	Tarball   string `json:"tarball"`
}

// VersionMetadata is the per-version entry in a publish payload.
type VersionMetadata struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Dist    Dist   `json:"dist"`
}

// Attachment is an inlined tarball attachment.
type Attachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int    `json:"length"`
}

// Provenance is the attestation payload attached to a publish.
type Provenance struct {
	PredicateType string `json:"predicateType"`
	Bundle        json.RawMessage `json:"bundle"`
}

// Attestations is the sibling object added to the publish payload when a
// Sigstore bundle accompanies the package.
type Attestations struct {
	URL        string     `json:"url"`
	Provenance Provenance `json:"provenance"`
}

// PublishRequest describes a single package version publish.
type PublishRequest struct {
	Name           string
	Version        string
	TarballBytes   []byte
	TarballShasum  string // hex sha1, npm legacy integrity field
	Integrity      string // "sha512-<base64>"
	Basename       string // tarball filename stem, e.g. "pkg-1.0.0"
	Bundle         []byte // compact JSON Sigstore bundle, nil if unsigned
	Token          string // raw bearer token
}

type publishBody struct {
	ID           string                     `json:"_id"`
	Name         string                     `json:"name"`
	DistTags     map[string]string          `json:"dist-tags"`
	Versions     map[string]VersionMetadata `json:"versions"`
	Access       string                     `json:"access"`
	Attachments  map[string]Attachment      `json:"_attachments"`
	Attestations *Attestations              `json:"_attestations,omitempty"`
}

// ErrorDetails is the parsed failure detail from a registry error body:
// code comes from the body's "error" field, summary from "reason".
type ErrorDetails struct {
	Code    string `json:"error"`
	Summary string `json:"reason"`
}

// rawErrorBody is the wire shape of a registry error response, parsed
// wholesale before being split across PublishResponse.Message and
// PublishResponse.ErrorDetails.
type rawErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// PublishResponse is the structured result of a publish attempt, successful
// or not, so callers can branch on status code and retryability without
// parsing an error string.
type PublishResponse struct {
	Success      bool
	StatusCode   int
	Message      string
	ErrorDetails ErrorDetails
	IsRetryable  bool
}

// Publish PUTs req to the registry under an OIDC bearer token. Whenever the
// registry answers, it returns a non-nil *PublishResponse, and err is
// non-nil whenever !response.Success. If the request cannot be built or
// sent, the response is nil and err is set.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (*PublishResponse, error) {
	encodedName := EncodeName(req.Name)
	tarballName := fmt.Sprintf("%s-%s.tgz", req.Basename, req.Version)
	tarballURL := fmt.Sprintf("%s/%s/-/%s", c.BaseURL, encodedName, tarballName)

	body := publishBody{
		ID:       req.Name,
		Name:     req.Name,
		DistTags: map[string]string{"latest": req.Version},
		Versions: map[string]VersionMetadata{
			req.Version: {
				ID:      req.Name + "@" + req.Version,
				Name:    req.Name,
				Version: req.Version,
				Dist: Dist{
					Integrity: req.Integrity,
					Shasum:    req.TarballShasum,
					Tarball:   tarballURL,
				},
			},
		},
		Access: "public",
		Attachments: map[string]Attachment{
			tarballName: {
				ContentType: "application/octet-stream",
				Data:        base64.StdEncoding.EncodeToString(req.TarballBytes),
				Length:      len(req.TarballBytes),
			},
		},
	}

	if len(req.Bundle) > 0 {
		body.Attestations = &Attestations{
			URL: fmt.Sprintf("/.well-known/npm/attestation/%s@%s", req.Name, req.Version),
			Provenance: Provenance{
				PredicateType: "https://slsa.dev/provenance/v1",
				Bundle:        json.RawMessage(req.Bundle),
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pipelineerr.New("registry.Publish", pipelineerr.KindRegistryError, err)
	}

	url := c.BaseURL + "/" + encodedName
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return nil, pipelineerr.New("registry.Publish", pipelineerr.KindRegistryError, err)
	}
	c.setCommonHeaders(httpReq, req.Token, "publish")

	return c.doPublish(httpReq, "registry.Publish")
}

// PublisherPayload is the body of a trusted-publisher create request.
type PublisherPayload struct {
	Type        string   `json:"type"`
	Owner       string   `json:"owner"`
	Repository  string   `json:"repository"`
	Workflow    string   `json:"workflow,omitempty"`
	Environment string   `json:"environment,omitempty"`
	AllowedRefs []string `json:"allowed_refs,omitempty"`
}

// CreatePublisher registers a trusted-publisher rule for pkg.
func (c *Client) CreatePublisher(ctx context.Context, token, pkg string, p PublisherPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return pipelineerr.New("registry.CreatePublisher", pipelineerr.KindRegistryError, err)
	}
	url := c.BaseURL + "/" + EncodeName(pkg) + "/-/oidc/publishers"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pipelineerr.New("registry.CreatePublisher", pipelineerr.KindRegistryError, err)
	}
	c.setCommonHeaders(httpReq, token, "publishers-create")
	return c.do(httpReq, "registry.CreatePublisher")
}

// ListPublishers lists the trusted-publisher rules registered for pkg.
func (c *Client) ListPublishers(ctx context.Context, token, pkg string) ([]byte, error) {
	url := c.BaseURL + "/" + EncodeName(pkg) + "/-/oidc/publishers"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipelineerr.New("registry.ListPublishers", pipelineerr.KindRegistryError, err)
	}
	c.setCommonHeaders(httpReq, token, "publishers-list")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, pipelineerr.New("registry.ListPublishers", pipelineerr.KindNetworkError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.New("registry.ListPublishers", pipelineerr.KindNetworkError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, registryError("registry.ListPublishers", resp.StatusCode, respBody)
	}
	return respBody, nil
}

// DeletePublisher removes the trusted-publisher rule id from pkg.
func (c *Client) DeletePublisher(ctx context.Context, token, pkg, id string) error {
	url := c.BaseURL + "/" + EncodeName(pkg) + "/-/oidc/publishers/" + id
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return pipelineerr.New("registry.DeletePublisher", pipelineerr.KindRegistryError, err)
	}
	c.setCommonHeaders(httpReq, token, "publishers-delete")
	return c.do(httpReq, "registry.DeletePublisher")
}

func (c *Client) setCommonHeaders(req *http.Request, token, command string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set(headerCommand, command)
	req.Header.Set(headerAuthType, "oidc")
}

func (c *Client) do(req *http.Request, op string) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return pipelineerr.New(op, pipelineerr.KindNetworkError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipelineerr.New(op, pipelineerr.KindNetworkError, err)
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	return registryError(op, resp.StatusCode, respBody)
}

// doPublish is like do, but surfaces a structured PublishResponse alongside
// the error so callers can read status_code, ErrorDetails, and
// isRetryable without parsing the error string.
func (c *Client) doPublish(req *http.Request, op string) (*PublishResponse, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, pipelineerr.New(op, pipelineerr.KindNetworkError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.New(op, pipelineerr.KindNetworkError, err)
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return &PublishResponse{Success: true, StatusCode: resp.StatusCode}, nil
	}

	var raw rawErrorBody
	_ = json.Unmarshal(respBody, &raw)
	publishResp := &PublishResponse{
		Success:      false,
		StatusCode:   resp.StatusCode,
		Message:      raw.Message,
		ErrorDetails: ErrorDetails{Code: raw.Error, Summary: raw.Reason},
		IsRetryable:  IsRetryable(resp.StatusCode),
	}
	err = pipelineerr.New(op, pipelineerr.KindRegistryError, fmt.Errorf("%s (status %d): %s", describeStatus(resp.StatusCode), resp.StatusCode, describeErrorBody(raw, respBody)))
	return publishResp, err
}

func registryError(op string, status int, body []byte) error {
	var raw rawErrorBody
	_ = json.Unmarshal(body, &raw)
	return pipelineerr.New(op, pipelineerr.KindRegistryError, fmt.Errorf("%s (status %d): %s", describeStatus(status), status, describeErrorBody(raw, body)))
}

func describeErrorBody(d rawErrorBody, raw []byte) string {
	if d.Message != "" {
		return d.Message
	}
	if d.Error != "" {
		return d.Error
	}
	if d.Reason != "" {
		return d.Reason
	}
	return string(raw)
}

// describeStatus returns a short human description for a registry HTTP
// status code.
func describeStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "version conflict"
	case http.StatusTooManyRequests:
		return "rate limited"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "registry unavailable"
	default:
		return "registry error"
	}
}

// IsRetryable reports whether a failed publish attempt is worth retrying.
func IsRetryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
