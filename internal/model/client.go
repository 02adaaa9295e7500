// Package model provides the inference API client and per-call retry
// policy used by the screening processors.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/verifyd/screening-worker/internal/logger"
)

const (
	defaultTimeout = 120 * time.Second

	// Cap on the error body carried into logs and CallError messages.
	maxErrorBodyBytes = 2048
)

// Client issues chat completion requests against the inference endpoint.
type Client interface {
	ChatCompletion(ctx context.Context, req *Request) (*Response, error)
}

// Request is a chat completion request.
type Request struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatMessage is a single chat turn. Content is either a plain string or a
// list of ContentPart for multimodal requests.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// TextMessage builds a plain text chat message.
func TextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: text}
}

// Usage reports token consumption for a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a successful chat completion.
type Response struct {
	Content      string
	Model        string
	StatusCode   int
	ResponseTime time.Duration
	Usage        Usage
	Sources      []string
}

// HTTPClient is the HTTP implementation of Client, speaking the
// chat-completions wire format.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

// HTTPClientConfig holds configuration for the HTTP client.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPClient creates an inference client.
func NewHTTPClient(cfg HTTPClientConfig, log logger.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}, nil
}

// wire types for the chat completions endpoint.
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage     Usage    `json:"usage"`
	Citations []string `json:"citations,omitempty"`
	Sources   []any    `json:"sources,omitempty"`
}

// ChatCompletion sends a request and returns the first choice's content.
// Failures are returned as *CallError with a classification kind.
func (c *HTTPClient) ChatCompletion(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &CallError{Kind: KindClient, Message: "failed to encode request", Err: err}
	}

	url := c.baseURL + "/api/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: KindClient, Message: "failed to build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	elapsed := time.Since(start)

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.classifyStatusError(httpResp)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &CallError{Kind: KindConnection, StatusCode: httpResp.StatusCode,
			Message: "failed to read response body", Err: err}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &CallError{Kind: KindMalformedResponse, StatusCode: httpResp.StatusCode,
			Message: "failed to decode response", Err: err}
	}

	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, &CallError{Kind: KindEmptyResponse, StatusCode: httpResp.StatusCode,
			Message: "response contained no content"}
	}

	resp := &Response{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		StatusCode:   httpResp.StatusCode,
		ResponseTime: elapsed,
		Usage:        parsed.Usage,
		Sources:      extractSources(&parsed),
	}

	c.logger.Debug("model call completed",
		logger.String("model", resp.Model),
		logger.Duration("response_time", elapsed),
		logger.Int("total_tokens", resp.Usage.TotalTokens))

	return resp, nil
}

func (c *HTTPClient) classifyStatusError(httpResp *http.Response) error {
	snippet := readBodySnippet(httpResp.Body)

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return &CallError{Kind: KindRateLimited, StatusCode: httpResp.StatusCode, Message: snippet}
	case httpResp.StatusCode >= 500:
		return &CallError{Kind: KindServer, StatusCode: httpResp.StatusCode, Message: snippet}
	default:
		return &CallError{Kind: KindClient, StatusCode: httpResp.StatusCode, Message: snippet}
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Message: "request deadline exceeded", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &CallError{Kind: KindClient, Message: "request cancelled", Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return &CallError{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &CallError{Kind: KindConnection, Message: "request failed", Err: err}
}

func readBodySnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}
	return strings.TrimSpace(string(data))
}

// extractSources collects citation URLs from the response. OpenWebUI-style
// backends return either a citations list or structured source objects.
func extractSources(parsed *chatCompletionResponse) []string {
	if len(parsed.Citations) > 0 {
		return parsed.Citations
	}

	var sources []string
	for _, s := range parsed.Sources {
		switch v := s.(type) {
		case string:
			sources = append(sources, v)
		case map[string]any:
			if u, ok := v["url"].(string); ok && u != "" {
				sources = append(sources, u)
			}
		}
	}
	return sources
}

// String renders usage for logs.
func (u Usage) String() string {
	return fmt.Sprintf("prompt=%d completion=%d total=%d",
		u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}
