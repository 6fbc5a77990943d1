// Package client provides thin Go SDKs for talking to a file repository
// node: an HTTP client for FileStore's convenience API
// (internal/api) and, in wireclient.go, a TCP client for
// ActiveCluster's wire protocol (internal/wire). Each wraps the
// network/encoding details so callers write client.Put(ctx, name,
// data) instead of assembling requests by hand — the same shape as
// the teacher's internal/client/client.go, reworked from a single KV
// value per key to raw file bytes per name.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kduvra/filerepo/internal/filestore"
)

// Client talks to one FileStore node's HTTP API. It does not implement
// any distributed logic itself — if that node happens to be an
// ActiveCluster coordinator or a ReplicationEngine master, the
// coordination happens server-side.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client pointed at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PutResponse is returned after a successful write.
type PutResponse struct {
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

// WriteMode mirrors filestore.WriteMode for the query-string encoding
// the HTTP API expects.
type WriteMode = filestore.WriteMode

// Put uploads data under name using mode (default Overwrite).
func (c *Client) Put(ctx context.Context, name string, data []byte, mode WriteMode) (*PutResponse, error) {
	url := fmt.Sprintf("%s/files/%s?mode=%s", c.baseURL, name, modeQuery(mode))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result PutResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Get retrieves the raw content of name. A missing file becomes
// ErrNotFound so callers can branch without inspecting *APIError.
func (c *Client) Get(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/files/%s", c.baseURL, name), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Delete removes name from the repository.
func (c *Client) Delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/files/%s", c.baseURL, name), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return checkStatus(resp)
}

func modeQuery(mode WriteMode) string {
	switch mode {
	case filestore.Append:
		return "append"
	case filestore.CreateNew:
		return "create_new"
	default:
		return "overwrite"
	}
}

// ─── Errors ────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a file does not exist in the store.
var ErrNotFound = fmt.Errorf("file not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts a non-2xx HTTP response into an *APIError,
// preferring the server's {"error": "..."} JSON body when present.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
