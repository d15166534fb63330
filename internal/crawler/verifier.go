package crawler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/model"
	"golang.org/x/time/rate"
)

// Verifier confirms PDF candidates with a HEAD probe.
type Verifier struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	limiter   *rate.Limiter
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierUserAgent sets the User-Agent header of probes.
func WithVerifierUserAgent(ua string) VerifierOption {
	return func(v *Verifier) {
		if ua != "" {
			v.userAgent = ua
		}
	}
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithVerifierLimiter paces probes. A nil limiter disables pacing.
func WithVerifierLimiter(l *rate.Limiter) VerifierOption {
	return func(v *Verifier) {
		v.limiter = l
	}
}

// NewVerifier creates a Verifier using client for all probes.
func NewVerifier(client *http.Client, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		client:    client,
		userAgent: config.DefaultUserAgent,
		timeout:   config.DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify probes candidate and builds its record.
//
//   - 2xx with a PDF content type, or a URL ending in .pdf: status found,
//     with the reported content type and length.
//   - network error, timeout or non-2xx: status unverified with an unknown
//     content type and size. The candidate is kept.
//   - 2xx with another content type and no .pdf suffix: not a PDF, ok is false.
func (v *Verifier) Verify(ctx context.Context, candidate, sourceURL string) (model.PDFRecord, bool) {
	rec := model.PDFRecord{
		URL:       candidate,
		Filename:  FilenameFromURL(candidate),
		SourceURL: sourceURL,
		FoundAt:   time.Now(),
	}

	resp, err := v.probe(ctx, candidate)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		rec.Status = model.StatusUnverified
		rec.ContentType = model.UnknownContentType
		return rec, true
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "pdf") && !hasPDFSuffix(candidate) {
		return model.PDFRecord{}, false
	}

	rec.Status = model.StatusFound
	rec.ContentType = contentType
	if rec.ContentType == "" {
		rec.ContentType = model.UnknownContentType
	}
	if resp.ContentLength >= 0 {
		rec.Size = model.Int64Ptr(resp.ContentLength)
	}
	return rec, true
}

// probe issues the HEAD request. Redirects are followed by the client.
func (v *Verifier) probe(ctx context.Context, target string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if err := waitTurn(ctx, v.limiter); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", v.userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}
