// Package webhook posts rendered payloads to a chat incoming-webhook URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"procnotify/internal/format"
	"procnotify/internal/transport"
)

// DefaultSuccessMarker is the body an incoming webhook answers with on success.
const DefaultSuccessMarker = "ok"

// Config controls the HTTP client.
type Config struct {
	Timeout time.Duration
	// RatePerSec caps outbound posts; burst equals the rate.
	RatePerSec int
	// SuccessMarker must equal the trimmed response body. Empty accepts any 2xx.
	SuccessMarker string
}

// StatusError is returned when the destination answered but did not
// acknowledge the payload.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: not acknowledged (status %d, body %q)", e.Code, e.Body)
}

// Client implements transport.Sender. It is safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	http    *http.Client
}

var _ transport.Sender = (*Client)(nil)

func New(cfg Config) *Client {
	c := &Client{}
	c.Apply(cfg)
	return c
}

// Apply swaps client settings at runtime. Unchanged settings keep the current
// limiter and its pooled connections.
func (c *Client) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limiter != nil && c.cfg == cfg {
		return
	}
	c.cfg = cfg
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.http = &http.Client{Timeout: cfg.Timeout}
}

func (c *Client) Send(ctx context.Context, url string, p format.Payload) error {
	if strings.TrimSpace(url) == "" {
		return transport.ErrNoDestination
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	cfg := c.cfg
	lim := c.limiter
	hc := c.http
	c.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("webhook: rate limit wait: %w", err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "procnotify")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	// Acknowledgements are tiny; read at most 4KiB.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("webhook: read response (status %d): %w", resp.StatusCode, err)
	}
	got := strings.TrimSpace(string(raw))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: got}
	}
	if cfg.SuccessMarker != "" && got != cfg.SuccessMarker {
		return &StatusError{Code: resp.StatusCode, Body: got}
	}
	return nil
}
