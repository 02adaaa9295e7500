// Package source resolves job source locators to raw document bytes.
package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultFetchTimeout = 30 * time.Second

	// Cap on a single fetched document.
	maxDocumentBytes = 32 << 20
)

// ErrUnsupportedLocator indicates a locator scheme the resolver cannot handle.
var ErrUnsupportedLocator = errors.New("unsupported source locator")

// Blob is resolved source content.
type Blob struct {
	Data []byte
	MIME string
}

// Resolver fetches the content behind a job source locator. Resolution
// failure is fatal for the job; it is never retried at the job level.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (*Blob, error)
}

// MultiResolver handles https URLs, data URLs, and local file paths.
type MultiResolver struct {
	httpClient *http.Client
}

// NewResolver creates a resolver with the given fetch timeout.
func NewResolver(timeout time.Duration) *MultiResolver {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &MultiResolver{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Resolve fetches the content behind a locator.
func (r *MultiResolver) Resolve(ctx context.Context, locator string) (*Blob, error) {
	switch {
	case strings.HasPrefix(locator, "data:"):
		return resolveDataURL(locator)
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return r.resolveHTTP(ctx, locator)
	case strings.HasPrefix(locator, "file://"):
		return resolveFile(strings.TrimPrefix(locator, "file://"))
	case strings.Contains(locator, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocator, locator)
	default:
		return resolveFile(locator)
	}
}

func (r *MultiResolver) resolveHTTP(ctx context.Context, url string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read source body: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = mimeFromPath(url)
	}
	return &Blob{Data: data, MIME: mime}, nil
}

// resolveDataURL decodes an inline data URL (base64 or percent-plain).
func resolveDataURL(locator string) (*Blob, error) {
	rest := strings.TrimPrefix(locator, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return nil, errors.New("malformed data URL")
	}

	mime := "application/octet-stream"
	if m, _, _ := strings.Cut(meta, ";"); m != "" {
		mime = m
	}

	if strings.Contains(meta, "base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode data URL: %w", err)
		}
		return &Blob{Data: data, MIME: mime}, nil
	}
	return &Blob{Data: []byte(payload), MIME: mime}, nil
}

func resolveFile(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	return &Blob{Data: data, MIME: mimeFromPath(path)}, nil
}

func mimeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
