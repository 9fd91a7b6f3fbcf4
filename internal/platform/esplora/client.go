// Package esplora is a minimal client for the Esplora block explorer API.
package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxBodySize = 1 << 20

// Client resolves block heights to block times.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
	}
}

type block struct {
	ID        string `json:"id"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// BlockHash returns the hash of the block at height.
func (c *Client) BlockHash(ctx context.Context, height int64) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return "", err
	}
	hash := strings.TrimSpace(string(body))
	if len(hash) != 64 {
		return "", fmt.Errorf("unexpected block hash %q", hash)
	}
	return hash, nil
}

// BlockTime returns the header time of the block at height, in UTC.
func (c *Client) BlockTime(ctx context.Context, height int64) (time.Time, error) {
	hash, err := c.BlockHash(ctx, height)
	if err != nil {
		return time.Time{}, err
	}

	body, err := c.get(ctx, "/block/"+hash)
	if err != nil {
		return time.Time{}, err
	}
	var b block
	if err := json.Unmarshal(body, &b); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode block: %w", err)
	}
	if b.Timestamp <= 0 {
		return time.Time{}, fmt.Errorf("block %s has no timestamp", hash)
	}
	return time.Unix(b.Timestamp, 0).UTC(), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("esplora request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("esplora %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
