package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/Neno73/promidata-sync/pkg/errors"
	"github.com/Neno73/promidata-sync/pkg/httpclient"
)

// maxDocumentSize caps product JSON documents at 32 MB; image downloads are
// capped at 64 MB.
const (
	maxDocumentSize = 32 << 20
	maxImageSize    = 64 << 20
)

// getter abstracts the transport under the feed client so the circuit
// breaker can sit between this layer and the retrying HTTP client.
type getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Client fetches manifests, product documents, and images from the Promidata
// feed. Retry and backoff live in the underlying HTTP client, a circuit
// breaker sheds load while the feed is down, and this layer translates
// terminal failures into UpstreamError.
type Client struct {
	http    getter
	retries int
	baseURL string
}

// New creates a feed client rooted at baseURL.
func New(baseURL string, httpCfg httpclient.Config, logger *slog.Logger) *Client {
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultCircuitBreakerConfig("promidata-feed"),
		logger,
	)
	return &Client{
		http:    breaker,
		retries: httpCfg.MaxRetries,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Resolve turns a manifest-relative URL into an absolute one. Absolute URLs
// pass through untouched.
func (c *Client) Resolve(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return c.baseURL + "/" + strings.TrimLeft(url, "/")
}

// FetchText fetches a text resource (the manifest).
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	body, err := c.fetch(ctx, url, maxDocumentSize, 0)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchJSON fetches and decodes a product document into target.
func (c *Client) FetchJSON(ctx context.Context, url string, target any) error {
	body, err := c.fetch(ctx, url, maxDocumentSize, 0)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &pkgerrors.ValidationError{Reason: fmt.Sprintf("malformed JSON at %s: %v", url, err)}
	}
	return nil
}

// FetchBytes fetches a binary resource (an image) with an optional per-call
// timeout override.
func (c *Client) FetchBytes(ctx context.Context, url string, timeout time.Duration) ([]byte, string, error) {
	body, contentType, err := c.fetchWithType(ctx, url, maxImageSize, timeout)
	if err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

func (c *Client) fetch(ctx context.Context, url string, limit int64, timeout time.Duration) ([]byte, error) {
	body, _, err := c.fetchWithType(ctx, url, limit, timeout)
	return body, err
}

func (c *Client) fetchWithType(ctx context.Context, url string, limit int64, timeout time.Duration) ([]byte, string, error) {
	url = c.Resolve(url)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, "", &pkgerrors.UpstreamError{
			URL:      url,
			Attempts: c.retries + 1,
			Cause:    err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		attempts := 1
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			attempts = c.retries + 1
		}
		return nil, "", &pkgerrors.UpstreamError{
			URL:        url,
			Attempts:   attempts,
			LastStatus: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", &pkgerrors.UpstreamError{
			URL:      url,
			Attempts: 1,
			Cause:    fmt.Errorf("read body: %w", err),
		}
	}

	return body, resp.Header.Get("Content-Type"), nil
}
