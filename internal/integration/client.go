// Package integration provides a thin HTTP client for driving a running
// service from end-to-end tests.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type prefixRoundTripper struct {
	addr string
	rt   http.RoundTripper
}

func (p *prefixRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	u := r.URL
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Host == "" {
		u.Host = p.addr
	}

	return p.rt.RoundTrip(r)
}

func NewClient(addr string) *Client {
	return &Client{client: &http.Client{Transport: &prefixRoundTripper{addr: addr, rt: http.DefaultTransport}}}
}

type Client struct {
	client *http.Client
}

func (c *Client) post(path string, in interface{}) (*http.Response, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("unable marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error with sending request: %w", err)
	}
	return resp, nil
}

// decode drains the response into out, failing on any non-200 status.
func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("response was not 200 OK: %s: %s", resp.Status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Collect posts entries to the ingestion endpoint. The response body is
// drained, callers check the status code.
func (c *Client) Collect(r CollectRequest) (*http.Response, error) {
	resp, err := c.post("/collect", &r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp, nil
}

func (c *Client) Search(r QueryRequest) (*SearchResponse, error) {
	resp, err := c.post("/search", &r)
	if err != nil {
		return nil, err
	}
	var out SearchResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Nearest(r QueryRequest) (*NearestResponse, error) {
	resp, err := c.post("/nearest", &r)
	if err != nil {
		return nil, err
	}
	var out NearestResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RangeQuery(r RangeRequest) (*RangeResponse, error) {
	resp, err := c.post("/range", &r)
	if err != nil {
		return nil, err
	}
	var out RangeResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Namespaces() (*NamespacesResponse, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/namespaces", nil)
	if err != nil {
		return nil, fmt.Errorf("create new request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	var out NamespacesResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health() (*http.Response, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create new request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}
