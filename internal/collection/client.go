package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrUnexpectedStatus = errors.New("unexpected status from collection service")

// Client is the HTTP Executor and EnvironmentProvider.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{}, // no global timeout, the collection service owns that policy
	}
}

type runRequest struct {
	EnvironmentID string            `json:"environmentId,omitempty"`
	ExecutionID   string            `json:"executionId,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
}

type runResponse struct {
	TotalRequests  int      `json:"totalRequests"`
	PassedRequests int      `json:"passedRequests"`
	FailedRequests int      `json:"failedRequests"`
	ErrorCount     int      `json:"errorCount"`
	Logs           []string `json:"logs"`
	DurationMS     int64    `json:"durationMs"`
}

func (c *Client) ExecuteCollection(ctx context.Context, collectionID, environmentID string, opts Options) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(runRequest{
		EnvironmentID: environmentID,
		ExecutionID:   opts.ExecutionID,
		Variables:     opts.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	endpoint := c.baseURL + "/collections/" + url.PathEscape(collectionID) + "/run"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out runResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("run collection %s: %w", collectionID, err)
	}

	d := time.Duration(out.DurationMS) * time.Millisecond
	if d == 0 {
		d = time.Since(start)
	}
	return &Result{
		TotalRequests:  out.TotalRequests,
		PassedRequests: out.PassedRequests,
		FailedRequests: out.FailedRequests,
		ErrorCount:     out.ErrorCount,
		Logs:           out.Logs,
		Duration:       d,
	}, nil
}

func (c *Client) GetEnvironment(ctx context.Context, environmentID string) (map[string]string, error) {
	endpoint := c.baseURL + "/environments/" + url.PathEscape(environmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var out struct {
		Variables map[string]string `json:"variables"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("get environment %s: %w", environmentID, err)
	}
	return out.Variables, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
