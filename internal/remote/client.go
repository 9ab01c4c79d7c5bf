// Package remote provides the client used to deliver session summaries to
// the ingest service.
package remote

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

	"github.com/autisense/autisense/internal/model"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20 // 1 MB
	userAgent      = "autisense-sync/1.0"
)

var (
	// ErrRejected indicates the ingest service refused the payload (HTTP 400):
	// malformed body, missing required fields, or an identifying field.
	ErrRejected = errors.New("remote: payload rejected")
)

// StatusError is returned for non-2xx responses other than 400.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("remote: unexpected status %d: %s", e.Code, e.Message)
}

// Client posts SyncRequests to a single ingest endpoint.
type Client struct {
	endpoint string
	healthz  string
	timeout  time.Duration
	http     *http.Client
}

// NewClient creates a client for the ingest endpoint URL, e.g.
// "https://ingest.example/api/sync". A zero timeout uses the default.
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("remote: parsing endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: endpoint %q must be http or https", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote: endpoint %q has no host", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	health := *u
	health.Path = "/healthz"
	health.RawQuery = ""

	return &Client{
		endpoint: u.String(),
		healthz:  health.String(),
		timeout:  timeout,
		http:     &http.Client{},
	}, nil
}

// Endpoint returns the ingest URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Push delivers one session summary. Any 2xx response is success,
// including an idempotent replay.
func (c *Client) Push(ctx context.Context, req model.SyncRequest) (model.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return model.SyncResponse{}, fmt.Errorf("remote: encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.SyncResponse{}, fmt.Errorf("remote: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return model.SyncResponse{}, fmt.Errorf("remote: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return model.SyncResponse{}, fmt.Errorf("remote: reading response: %w", err)
	}

	var out model.SyncResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return out, fmt.Errorf("%w: %s", ErrRejected, out.Error)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return out, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return out, nil
}

// Ping checks that the ingest host answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthz, nil)
	if err != nil {
		return fmt.Errorf("remote: creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: ping failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
