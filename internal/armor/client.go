// Package armor screens prompts and model responses through a sanitization
// service before they reach or leave the inference endpoint.
package armor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/verifyd/screening-worker/internal/logger"
)

const defaultTimeout = 10 * time.Second

// SanitizeResult is the verdict for a single sanitization check.
type SanitizeResult struct {
	Blocked  bool   `json:"blocked"`
	Category string `json:"category,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Client calls the sanitization service. The client fails open: if the
// service is unreachable or errors, the original text passes through
// unmodified. Disabled clients short-circuit without any network call.
type Client struct {
	endpoint   string
	enabled    bool
	httpClient *http.Client
	logger     logger.Logger
}

// Config holds sanitization client configuration.
type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

// NewClient creates a sanitization client.
func NewClient(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		enabled:    cfg.Enabled && cfg.Endpoint != "",
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Enabled reports whether sanitization is active.
func (c *Client) Enabled() bool {
	return c.enabled
}

// SanitizePrompt screens an outbound prompt. Returns the text to send,
// which is the original text unless the service rewrote it.
func (c *Client) SanitizePrompt(ctx context.Context, text string) (string, error) {
	return c.sanitize(ctx, "/v1/sanitize/prompt", text)
}

// SanitizeResponse screens an inbound model response.
func (c *Client) SanitizeResponse(ctx context.Context, text string) (string, error) {
	return c.sanitize(ctx, "/v1/sanitize/response", text)
}

func (c *Client) sanitize(ctx context.Context, path, text string) (string, error) {
	if !c.enabled {
		return text, nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return text, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return text, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Fail open: sanitization outages must not stall screening
		c.logger.Warn("sanitization call failed", logger.Error(err))
		return text, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("sanitization returned non-OK status",
			logger.Int("status", resp.StatusCode))
		return text, nil
	}

	var result SanitizeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Warn("failed to decode sanitization response", logger.Error(err))
		return text, nil
	}

	if result.Blocked {
		return "", fmt.Errorf("content blocked by sanitization policy: %s", result.Category)
	}
	if result.Text != "" {
		return result.Text, nil
	}
	return text, nil
}
