// Package transport implements the REST client the cache layer reconciles
// against. It decodes JSON payloads and raises a typed APIError on failure so
// callers can tell retryable from non-retryable outcomes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/javi11/plansync/internal/httpclient"
	"github.com/javi11/plansync/internal/slogutil"
)

// Config holds transport configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// Client performs JSON requests against the backend REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

// New creates a transport client. If cfg.Client is nil a default client with
// the standard timeout is used.
func New(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = httpclient.NewDefault()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    client,
		log:     slog.Default().With("component", "transport"),
	}
}

// Fetch performs a GET request and decodes the response into out.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

// Send performs a POST request with body and optionally decodes the response
// into out (out may be nil when no response body is expected).
func (c *Client) Send(ctx context.Context, path string, params url.Values, body, out any) error {
	return c.do(ctx, http.MethodPost, path, params, body, out)
}

// Update performs a PUT request with body and decodes the response into out.
func (c *Client) Update(ctx context.Context, path string, params url.Values, body, out any) error {
	return c.do(ctx, http.MethodPut, path, params, body, out)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, params url.Values) error {
	return c.do(ctx, http.MethodDelete, path, params, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	requestID := uuid.NewString()
	ctx = slogutil.With(ctx, "request_id", requestID)
	req = req.WithContext(ctx)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.DebugContext(ctx, "API request", "method", method, "url", reqURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a bounded snippet of the body for diagnostics
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
