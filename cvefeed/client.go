package cvefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultURL       = "https://cvefeed.io/api/v1/latest/%d"
	DefaultBatchSize = 100
	DefaultTimeout   = 30 * time.Second

	// maxBodyBytes caps how much of a feed response is read.
	maxBodyBytes = 32 << 20
)

// FetchError reports an unreachable feed, a non-success status or an
// undecodable body. No records are returned alongside it.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("CVE feed API error: %d", e.StatusCode)
	}
	return fmt.Sprintf("CVE feed request to %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	// URL may contain a single %d verb which is replaced by BatchSize.
	URL       string
	BatchSize int
	Timeout   time.Duration
	UserAgent string
}

// Client fetches the latest batch of advisories from one feed endpoint.
type Client struct {
	client    *http.Client
	cb        *gobreaker.CircuitBreaker
	url       string
	userAgent string
}

// NewClient creates a feed client guarded by a circuit breaker.
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	url := opts.URL
	if strings.Contains(url, "%d") {
		url = fmt.Sprintf(url, opts.BatchSize)
	}

	cbSettings := gobreaker.Settings{
		Name:        "cvefeed",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cb:        gobreaker.NewCircuitBreaker(cbSettings),
		url:       url,
		userAgent: opts.UserAgent,
	}
}

// URL returns the resolved endpoint the client reads from.
func (c *Client) URL() string {
	return c.url
}

// FetchLatest retrieves the latest batch of raw advisories. The call either
// returns the whole decoded body or a *FetchError.
func (c *Client) FetchLatest(ctx context.Context) ([]Item, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}
		// gobreaker.ErrOpenState / ErrTooManyRequests
		return nil, &FetchError{URL: c.url, Err: err}
	}

	items, ok := result.([]Item)
	if !ok {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("unexpected response type %T", result)}
	}
	return items, nil
}

func (c *Client) fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("request error: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			URL:        c.url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("received status code %d from CVE feed", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	items, err := DecodeItems(body)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}

	slog.Debug("Fetched advisories from CVE feed", "url", c.url, "count", len(items))
	return items, nil
}

// DecodeItems accepts either a bare JSON array of items or an NVD 2.0
// envelope.
func DecodeItems(body []byte) ([]Item, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	switch trimmed[0] {
	case '[':
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		return items, nil
	case '{':
		var envelope NVDResponse
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		items := make([]Item, 0, len(envelope.Vulnerabilities))
		for _, v := range envelope.Vulnerabilities {
			items = append(items, v.CVE)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected JSON document starting with %q", trimmed[0])
	}
}
