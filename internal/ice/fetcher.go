package ice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "rtcdoctor/pkg/errors"
)

// maxListSize bounds the server list body; real lists are a few hundred bytes.
const maxListSize = 1 << 20

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RetryDelay grows linearly: the nth retry waits n*RetryDelay.
	RetryDelay time.Duration
}

// DefaultFetcherConfig returns default fetcher configuration
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:  "rtcdoctor/1.0",
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Second,
	}
}

// Fetcher downloads ICE server lists.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

// HTTPError is a non-200 answer from the list endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s for %s", e.Status, e.URL)
}

// retryable reports whether another attempt could succeed. Client errors
// (4xx) are final.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode < 400 || httpErr.StatusCode >= 500
	}
	return true
}

// Fetch returns the list body at url. Failures are wrapped in a
// ServerError carrying ErrServerFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxRetries+1; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(f.cfg.RetryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		body, err := f.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, &pkgerrors.ServerError{
		URL: url,
		Err: fmt.Errorf("%w: %w", pkgerrors.ErrServerFetchFailed, lastErr),
	}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxListSize {
		return nil, fmt.Errorf("server list larger than %d bytes", maxListSize)
	}
	return body, nil
}
