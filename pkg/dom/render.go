package dom

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Renderer produces a document tree for a live page URL.
type Renderer interface {
	Render(ctx context.Context, url string) (Node, error)
}

// HTTPRenderer fetches a page with a plain GET and parses the response body.
// It runs no JavaScript, so it only helps for pages served fully rendered
// (mirrors, static snapshots).
type HTTPRenderer struct {
	client    *http.Client
	userAgent string
}

// NewHTTPRenderer creates a renderer with the given request timeout.
func NewHTTPRenderer(timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRenderer{
		client:    &http.Client{Timeout: timeout},
		userAgent: "xfavo/1.0",
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, url string) (Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create render request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s status %d", url, resp.StatusCode)
	}

	return Parse(resp.Body)
}
