package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/pdfcrawl/internal/config"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// Fetcher downloads HTML pages and extracts their links.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	timeout     time.Duration
	limiter     *rate.Limiter
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherUserAgent sets the User-Agent header.
func WithFetcherUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBodySize limits how many bytes of a page are read.
func WithMaxBodySize(size int64) FetcherOption {
	return func(f *Fetcher) {
		if size > 0 {
			f.maxBodySize = size
		}
	}
}

// WithPageTimeout sets the per-page request timeout.
func WithPageTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithFetcherLimiter paces page requests. A nil limiter disables pacing.
func WithFetcherLimiter(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// NewFetcher creates a Fetcher using client for all requests.
// The client carries proxy, cookie and header configuration.
func NewFetcher(client *http.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      client,
		userAgent:   config.DefaultUserAgent,
		maxBodySize: config.DefaultMaxBodySize,
		timeout:     config.DefaultPageTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs pageURL and returns its anchors and embedded resources.
// Non-2xx responses and network failures are reported as ErrFetchFailed.
// Responses that are not markup yield an empty result.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*ParseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := waitTurn(ctx, f.limiter); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetchFailed, pageURL, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isMarkup(contentType) {
		return &ParseResult{Anchors: []string{}, Resources: []string{}}, nil
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBodySize), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	// Relative links resolve against the final URL after redirects.
	base := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}
	parser, err := NewParser(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	result, err := parser.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return result, nil
}

// isMarkup reports whether a Content-Type may contain HTML links.
// A missing Content-Type is treated as HTML.
func isMarkup(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "xml")
}

// waitTurn blocks until the limiter allows one more request.
func waitTurn(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
