// Package remote speaks to the spreadsheet-backed RPC endpoint. The whole
// backend is one GET endpoint that takes the operation in query parameters
// and answers {ok, data, message} JSON in a single round trip.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/errs"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Request is one logical operation against the backend. Immutable once
// issued.
type Request struct {
	Table     string
	Operation string // list, get, create, update, delete
	ID        string
	Data      map[string]interface{}
	Filters   map[string]string
	Page      int
	Limit     int
}

type Response struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Call performs the round trip. Transport problems and non-2xx statuses come
// back as raw errors for the classifier; an ok:false payload becomes a
// RemoteFailure.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	q := url.Values{}
	q.Set("table", req.Table)
	q.Set("operation", req.Operation)
	if c.token != "" {
		q.Set("token", c.token)
	}
	if req.ID != "" {
		q.Set("id", req.ID)
	}
	if req.Data != nil {
		data, err := json.Marshal(req.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode data: %w", err)
		}
		q.Set("data", string(data))
	}
	if len(req.Filters) > 0 {
		filters, err := json.Marshal(req.Filters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filters: %w", err)
		}
		q.Set("filters", string(filters))
	}
	if req.Page > 0 {
		q.Set("page", strconv.Itoa(req.Page))
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &errs.HTTPError{
			StatusCode: httpResp.StatusCode,
			Body:       truncate(string(body), 512),
			RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		}
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !resp.OK {
		return nil, &errs.RemoteFailure{Message: resp.Message}
	}

	return &resp, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
