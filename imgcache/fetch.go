package imgcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
)

// maxImageBytes caps how much of a remote body the fetcher will read.
// Inlining anything larger as a data URI would bloat rendered pages past
// the point where the cache helps.
const maxImageBytes = 10 << 20

var (
	// ErrFetch marks transport-level failures: the bytes never arrived.
	ErrFetch = errors.New("image fetch failed")

	// ErrEncode marks conversion failures: the bytes arrived but could
	// not be turned into an embeddable representation.
	ErrEncode = errors.New("image encode failed")
)

// Fetcher retrieves the raw bytes of a remote resource. Implementations
// report any failure as an error; the cache treats all failures
// uniformly and never retries.
type Fetcher interface {
	Fetch(ctx context.Context, src string) (data []byte, contentType string, err error)
}

// HTTPFetcher fetches images over HTTP. Construct with NewHTTPFetcher.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client for image retrieval. A nil client gets a
// memory caching transport, so re-fetches of swept entries can
// revalidate instead of re-downloading.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   30 * time.Second,
		}
	}
	return &HTTPFetcher{client: client}
}

// Fetch performs a GET for src and returns the body with its content
// type, sniffing the type when the server does not declare one.
func (f *HTTPFetcher) Fetch(ctx context.Context, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("%w: body exceeds %d bytes", ErrEncode, maxImageBytes)
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	return data, ctype, nil
}
