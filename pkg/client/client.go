// Package client provides a Go HTTP client for the agentdata API.
//
// The request and response types in this package are shared with the server,
// so the two sides cannot drift apart.
//
//	c := client.NewClient("http://localhost:8080")
//	resp, err := c.Submit(ctx, &client.SubmitRequest{
//		AgentID:     "agent-1",
//		UserID:      "user-1",
//		DataPayload: json.RawMessage(`{"step": 1}`),
//	})
//
//	page, err := c.Query(ctx, &client.QueryRequest{
//		AgentID: "agent-1",
//		UserID:  "user-1",
//		Limit:   client.Int(20),
//	})
//
// Errors returned for non-2xx responses are *APIError values carrying the
// status code and the server's error message.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/torusai/agentdata/pkg/models"
)

// APIError is returned when the server answers with a status of 400 or above.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d, message=%s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of err if it is an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client provides typed access to the agentdata REST API.
//
// Client instances are safe for concurrent use once configured.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080", without a trailing slash.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetAuthToken sets the bearer token sent with every request.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// doRequest performs an HTTP request with proper headers
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	return c.httpClient.Do(req)
}

// decodeResponse decodes the JSON response into target, or returns an
// *APIError for error statuses.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			errResp.Error = string(body)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}

// Health checks the health status of the server
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.call(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ready checks that the server can reach its record store. An unreachable
// store yields an *APIError with status 503.
func (c *Client) Ready(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.call(ctx, http.MethodGet, "/ready", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Submit stores one agent submission.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	var result SubmitResponse
	if err := c.call(ctx, http.MethodPost, "/data", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Query returns one page of an owner's records, newest first.
func (c *Client) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	var result QueryResponse
	if err := c.call(ctx, http.MethodPost, "/data/query", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRecord retrieves a record by ID
func (c *Client) GetRecord(ctx context.Context, id models.RecordID) (*models.Record, error) {
	var result models.Record
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/data/%s", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Administration

// Sync runs one sync cycle on the server.
func (c *Client) Sync(ctx context.Context) (*models.CycleResult, error) {
	var result models.CycleResult
	if err := c.call(ctx, http.MethodPost, "/sync", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats returns record counts by sync status.
func (c *Client) Stats(ctx context.Context) (models.StatusCounts, error) {
	var result models.StatusCounts
	if err := c.call(ctx, http.MethodGet, "/admin/stats", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Requeue moves a failed record back to pending.
func (c *Client) Requeue(ctx context.Context, id models.RecordID) (*RequeueResponse, error) {
	var result RequeueResponse
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/admin/records/%s/requeue", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadOnly reports whether the server is in maintenance mode.
func (c *Client) ReadOnly(ctx context.Context) (bool, error) {
	var result ReadOnlyResponse
	if err := c.call(ctx, http.MethodGet, "/admin/read-only", nil, &result); err != nil {
		return false, err
	}
	return result.ReadOnly, nil
}

// SetReadOnly switches maintenance mode.
func (c *Client) SetReadOnly(ctx context.Context, readOnly bool) error {
	return c.call(ctx, http.MethodPost, "/admin/read-only", &ReadOnlyRequest{ReadOnly: readOnly}, nil)
}
