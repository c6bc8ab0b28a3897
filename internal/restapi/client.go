// Package restapi is the client for the upstream notification REST surface:
// fetch-all, fetch-unread, unread-count, mark-one-read, mark-all-read,
// delete-one. The sync core consumes it; it never calls back into the core.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/huyndo/notisync/internal/notify"
)

// Config holds the upstream API settings.
type Config struct {
	// BaseURL is the upstream API root, e.g. https://api.example.com.
	BaseURL string

	// Timeout bounds each round-trip. Zero means 15s.
	Timeout time.Duration
}

// Client calls the upstream notification endpoints with the recipient's
// bearer credential.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewClient creates an upstream API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

// FetchAll returns every notification for the credential's recipient,
// normalized to the canonical shape. Entries that fail normalization are
// skipped with a log line rather than failing the whole fetch.
func (c *Client) FetchAll(ctx context.Context, credential string) ([]*notify.Notification, error) {
	return c.fetchList(ctx, credential, "/v1/notifications")
}

// FetchUnread returns only unread notifications.
func (c *Client) FetchUnread(ctx context.Context, credential string) ([]*notify.Notification, error) {
	return c.fetchList(ctx, credential, "/v1/notifications/unread")
}

func (c *Client) fetchList(ctx context.Context, credential, path string) ([]*notify.Notification, error) {
	body, err := c.do(ctx, http.MethodGet, path, credential)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	out := make([]*notify.Notification, 0, len(items))
	for _, item := range items {
		n, err := notify.Normalize(item)
		if err != nil {
			c.logger.Warn("skipping malformed fetched notification", zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// UnreadCount returns the server-side unread counter.
func (c *Client) UnreadCount(ctx context.Context, credential string) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/notifications/unread-count", credential)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode unread-count: %w", err)
	}
	return resp.Count, nil
}

// MarkRead persists a single read transition upstream.
func (c *Client) MarkRead(ctx context.Context, credential string, id int64) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/notifications/%d/read", id), credential)
	return err
}

// MarkAllRead persists the read-all transition upstream.
func (c *Client) MarkAllRead(ctx context.Context, credential string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/notifications/read-all", credential)
	return err
}

// Delete removes one notification upstream.
func (c *Client) Delete(ctx context.Context, credential string, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/notifications/%d", id), credential)
	return err
}

func (c *Client) do(ctx context.Context, method, path, credential string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("User-Agent", "notisync/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: upstream status %d", method, path, resp.StatusCode)
	}
	return body, nil
}
