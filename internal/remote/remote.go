// Package remote fetches the authoritative catalog of a field from the
// backend.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/shelfcast/internal/ir"
)

// ErrIdentityRejected is returned when the backend does not recognize the
// field identifier. The caller should re-acquire an identity; the local
// catalog must not be cleared.
var ErrIdentityRejected = errors.New("remote: field identifier rejected")

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap classifies "not found / invalid" responses as identity
// rejections so callers can test with errors.Is(err, ErrIdentityRejected).
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return ErrIdentityRejected
	}
	return nil
}

// CatalogResponse is the body of a catalog fetch.
type CatalogResponse struct {
	Products []ir.Product `json:"products"`
	// FieldName is set when the backend reassigned the device to another
	// field. The new identifier must be adopted and persisted.
	FieldName string `json:"fieldName,omitempty"`
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL. A zero timeout
// means no client-side timeout beyond the request context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// FetchCatalog fetches the current catalog of field.
//
// A missing or null product list decodes as an empty list. Identity
// rejections are returned as a *StatusError wrapping ErrIdentityRejected.
func (c *Client) FetchCatalog(ctx context.Context, field string) (CatalogResponse, error) {
	u := c.baseURL + "/commercials/fieldProducts?" + url.Values{"fieldName": {field}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return CatalogResponse{}, fmt.Errorf("fetch catalog: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return CatalogResponse{}, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CatalogResponse{}, newStatusError("fetch catalog", resp)
	}

	var out CatalogResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return CatalogResponse{}, fmt.Errorf("fetch catalog: decode: %w", err)
	}
	if out.Products == nil {
		out.Products = []ir.Product{}
	}
	out.FieldName = strings.TrimSpace(out.FieldName)
	return out, nil
}

// FetchImage downloads an image and returns its bytes and content type.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", newStatusError("fetch image", resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: read: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func newStatusError(op string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
