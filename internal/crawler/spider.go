package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/model"
	"golang.org/x/sync/errgroup"
)

// PageFetcher fetches a page and returns its links. *Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*ParseResult, error)
}

// PDFVerifier turns a PDF candidate into a record. *Verifier implements it.
type PDFVerifier interface {
	Verify(ctx context.Context, candidate, sourceURL string) (model.PDFRecord, bool)
}

// Downloader stores a PDF locally and returns the updated record.
// *download.Downloader implements it.
type Downloader interface {
	Download(ctx context.Context, rec model.PDFRecord, destDir string) model.PDFRecord
}

// Spider runs the layered crawl of one run.
//
// Design decision: the frontier is consumed in batches of at most maxWorkers
// targets. A batch is processed concurrently and links discovered by it are
// only dispatched in a later batch, so depth grows layer by layer without a
// strict per-depth barrier.
type Spider struct {
	fetcher    PageFetcher
	verifier   PDFVerifier
	downloader Downloader
	state      *runState
	logger     *slog.Logger

	maxDepth       int
	maxWorkers     int
	autoDownload   bool
	downloadDir    string
	ignorePatterns []string
	followPatterns []string
	sameDomainPDFs bool

	// base is the scope domain, set before the first batch is dispatched.
	base string
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithMaxDepth sets the maximum crawl depth. The seed is depth 0.
func WithMaxDepth(depth int) SpiderOption {
	return func(s *Spider) {
		s.maxDepth = depth
	}
}

// WithMaxWorkers sets how many pages of a batch are processed at once.
func WithMaxWorkers(n int) SpiderOption {
	return func(s *Spider) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// WithAutoDownload downloads each record into dir as soon as it is found.
func WithAutoDownload(d Downloader, dir string) SpiderOption {
	return func(s *Spider) {
		s.downloader = d
		s.downloadDir = dir
		s.autoDownload = d != nil && dir != ""
	}
}

// WithIgnorePatterns sets URL path patterns that are never crawled as pages.
func WithIgnorePatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.ignorePatterns = patterns
	}
}

// WithFollowPatterns restricts crawled pages to paths matching one of patterns.
func WithFollowPatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.followPatterns = patterns
	}
}

// WithSameDomainPDFs only records PDFs hosted in the crawl scope.
// By default PDFs linked from in-scope pages are recorded wherever they are hosted.
func WithSameDomainPDFs(on bool) SpiderOption {
	return func(s *Spider) {
		s.sameDomainPDFs = on
	}
}

// WithSpiderLogger sets the logger.
func WithSpiderLogger(l *slog.Logger) SpiderOption {
	return func(s *Spider) {
		if l != nil {
			s.logger = l
		}
	}
}

func newSpider(fetcher PageFetcher, verifier PDFVerifier, state *runState, opts ...SpiderOption) *Spider {
	s := &Spider{
		fetcher:    fetcher,
		verifier:   verifier,
		state:      state,
		logger:     slog.Default(),
		maxDepth:   config.DefaultMaxDepth,
		maxWorkers: config.DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// discovered is what one processed page hands back to the scheduler.
type discovered struct {
	depth int
	links []string
}

// run crawls from seed until the frontier is empty, a stop is requested,
// or ctx is cancelled. It returns an error only for an unusable seed or a
// worker panic.
func (s *Spider) run(ctx context.Context, seed string) error {
	base, err := BaseDomain(seed)
	if err != nil {
		return err
	}
	s.base = base

	f := newFrontier()
	f.push(model.Target{URL: seed, Depth: 0})

	for f.len() > 0 && !s.state.stopRequested() && ctx.Err() == nil {
		batch := f.popBatch(s.maxWorkers)
		s.logger.Debug("processing batch", "size", len(batch), "queued", f.len())

		found, err := s.processBatch(ctx, batch)
		if err != nil {
			return err
		}
		for _, d := range found {
			if s.state.stopRequested() {
				break
			}
			for _, link := range d.links {
				s.enqueue(f, link, d.depth+1, base)
			}
		}
	}
	return nil
}

// processBatch crawls every target of batch concurrently and returns the
// discovered links in completion order. Page failures are contained in
// crawlPage; the only error is a recovered worker panic.
func (s *Spider) processBatch(ctx context.Context, batch []model.Target) ([]discovered, error) {
	results := make(chan discovered, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for _, target := range batch {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("crawling %s panicked: %v", target.URL, p)
				}
			}()
			links := s.crawlPage(gctx, target)
			results <- discovered{depth: target.Depth, links: links}
			return nil
		})
	}
	err := g.Wait()
	close(results)

	out := make([]discovered, 0, len(batch))
	for d := range results {
		out = append(out, d)
	}
	return out, err
}

// enqueue adds link at depth when it is in scope, not a PDF, allowed by the
// site patterns, not yet visited and within the depth bound.
func (s *Spider) enqueue(f *frontier, link string, depth int, base string) {
	if depth > s.maxDepth {
		return
	}
	if !InScope(link, base) || LooksLikePDF(link) {
		return
	}
	if !shouldCrawl(link, s.ignorePatterns, s.followPatterns) {
		return
	}
	if s.state.isVisited(link) {
		return
	}
	if f.push(model.Target{URL: link, Depth: depth}) {
		s.logger.Debug("queued", "url", link, "depth", depth)
	}
}

// crawlPage processes one target. It harvests PDFs from the page and returns
// its anchors when they should be followed.
func (s *Spider) crawlPage(ctx context.Context, t model.Target) []string {
	if t.Depth > s.maxDepth {
		return nil
	}
	if !s.state.markVisited(t.URL, t.Depth) {
		return nil
	}

	s.logger.Info("crawling", "url", t.URL, "depth", t.Depth)

	page, err := s.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		s.logger.Warn("page skipped", "url", t.URL, "error", err)
		return nil
	}

	for _, ref := range page.Anchors {
		s.harvest(ctx, ref, t.URL)
	}
	for _, ref := range page.Resources {
		s.harvest(ctx, ref, t.URL)
	}

	if t.Depth < s.maxDepth {
		return page.Anchors
	}
	return nil
}

// harvest records ref as a PDF when it passes the prefilter and has not been
// seen in this run. With auto-download on, the file is fetched right away.
func (s *Spider) harvest(ctx context.Context, ref, sourceURL string) {
	if !LooksLikePDF(ref) {
		return
	}
	candidate := stripFragment(ref)
	if s.sameDomainPDFs && !InScope(candidate, s.base) {
		return
	}
	if !s.state.reservePDF(candidate) {
		return
	}

	rec, ok := s.verifier.Verify(ctx, candidate, sourceURL)
	if !ok {
		s.logger.Debug("not a pdf", "url", candidate)
		return
	}
	idx := s.state.addRecord(rec)
	s.logger.Info("pdf found", "url", rec.URL, "status", rec.Status, "source", sourceURL)

	if !s.autoDownload || s.state.stopRequested() {
		return
	}
	updated := s.downloader.Download(ctx, rec, s.downloadDir)
	s.state.updateRecord(idx, updated)
	if updated.Status == model.StatusDownloadFailed {
		s.logger.Warn("download failed", "url", rec.URL, "error", updated.Error)
	}
}

func stripFragment(rawURL string) string {
	if !strings.Contains(rawURL, "#") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
