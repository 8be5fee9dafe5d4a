package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClientOptions configure HTTPClient.
type HTTPClientOptions struct {
	Client  *http.Client
	Headers map[string]string
}

// HTTPClient is a RemoteClient posting JSON encoded RemoteRequests to an
// endpoint and decoding a JSON RemoteResponse.
type HTTPClient struct {
	endpoint string
	opts     HTTPClientOptions
}

// NewHTTPClient creates an HTTPClient for endpoint.
func NewHTTPClient(endpoint string, optFns ...func(o *HTTPClientOptions)) *HTTPClient {
	opts := HTTPClientOptions{
		Client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPClient{endpoint: endpoint, opts: opts}
}

// Invoke implements RemoteClient.
func (c *HTTPClient) Invoke(ctx context.Context, req RemoteRequest) (*RemoteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode remote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build remote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.opts.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.opts.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read remote response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("remote capability returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var out RemoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode remote response: %w", err)
	}

	return &out, nil
}
