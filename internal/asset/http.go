package asset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPFetcher downloads http(s) locators.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// Compile-time interface check.
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher with the given per-request timeout and
// body size cap.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (*Encoded, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET returned status %d", ErrFetch, resp.StatusCode)
	}

	body, err := readCapped(resp.Body, f.maxBytes)
	if err != nil {
		return nil, err
	}

	enc, err := encode(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	log.Debug().
		Int("bytes", enc.Size).
		Str("mediaType", enc.MediaType).
		Dur("elapsed", time.Since(start)).
		Msg("Asset downloaded")
	return enc, nil
}

// readCapped reads at most maxBytes, failing if the body is larger or empty.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: %w (limit %d bytes)", ErrFetch, ErrTooLarge, maxBytes)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrFetch)
	}
	return body, nil
}
