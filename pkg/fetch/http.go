package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	zerrors "github.com/zipline/zipline-go/pkg/errors"
)

// ErrNetwork reports a failed blob or manifest fetch: transport error,
// non-2xx status, or truncated body.
var ErrNetwork = errors.New("network error")

// BlobDownloader fetches the raw bytes behind a URL.
type BlobDownloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// HTTPDownloader fetches blobs over HTTP(S).
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader wraps an HTTP client as a BlobDownloader.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	return &HTTPDownloader{client: client}
}

// Download GETs url and returns the response body.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, zerrors.Wrapf(err, "invalid url %s", url)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrNetwork, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	return body, nil
}
