package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/model"
)

const (
	// eventBuffer is the capacity of the queue between runs and the publisher.
	eventBuffer = 1024

	publishTimeout = 5 * time.Second
	recordTimeout  = 10 * time.Second
)

// Publisher receives every status and record change of a run.
// sink.Sink implementations satisfy it.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Recorder persists a finished run. *database.CrawlDB satisfies it.
type Recorder interface {
	SaveRun(ctx context.Context, status model.CrawlStatus, results model.Results) error
}

// StartOptions are the parameters of one crawl run.
type StartOptions struct {
	// SeedURL is the start page. It is normalized before use.
	SeedURL string

	// MaxDepth bounds link following. The seed is depth 0.
	MaxDepth int

	// DownloadDir is where PDFs are stored when AutoDownload is set.
	DownloadDir string

	// AutoDownload downloads every PDF as soon as it is recorded.
	AutoDownload bool
}

// Controller owns the lifecycle of crawl runs. At most one run is active at a time.
//
// Design decision: runs are handed out as *Run values rather than kept in
// package state. The controller only remembers the latest run so that Status
// and Results have something to report between runs.
type Controller struct {
	fetcher    PageFetcher
	verifier   PDFVerifier
	downloader Downloader
	logger     *slog.Logger

	baseCtx        context.Context //nolint:containedctx // parent of every run
	maxWorkers     int
	joinTimeout    time.Duration
	sites          *config.File
	sameDomainPDFs bool
	recorder       Recorder
	newID          func() string

	publisher Publisher
	events    chan model.Event
	pumpDone  chan struct{}
	pumpMu    sync.RWMutex
	closed    bool

	// startMu serializes Start so two callers cannot both replace the run.
	startMu sync.Mutex
	mu      sync.RWMutex
	current *Run
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger used by the controller and its runs.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBaseContext sets the parent context of every run.
// Cancelling it stops the active run and aborts its in-flight requests.
func WithBaseContext(ctx context.Context) ControllerOption {
	return func(c *Controller) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// WithWorkers sets the per-batch concurrency of every run.
func WithWorkers(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithJoinTimeout sets how long Start waits for a previous run to finish.
func WithJoinTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// WithSiteConfigs applies per-site ignore and follow patterns to runs whose
// seed host has an entry in f.
func WithSiteConfigs(f *config.File) ControllerOption {
	return func(c *Controller) {
		c.sites = f
	}
}

// WithScopedPDFs only records PDFs hosted in the crawl scope.
func WithScopedPDFs(on bool) ControllerOption {
	return func(c *Controller) {
		c.sameDomainPDFs = on
	}
}

// WithPublisher sends every run event to p.
func WithPublisher(p Publisher) ControllerOption {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithRecorder persists every finished run with r.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(fn func() string) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewController creates a controller. downloader may be nil when no run
// downloads anything.
func NewController(fetcher PageFetcher, verifier PDFVerifier, downloader Downloader, opts ...ControllerOption) *Controller {
	c := &Controller{
		fetcher:     fetcher,
		verifier:    verifier,
		downloader:  downloader,
		logger:      slog.Default(),
		baseCtx:     context.Background(),
		maxWorkers:  config.DefaultMaxWorkers,
		joinTimeout: config.DefaultStopJoinTimeout,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.publisher != nil {
		c.events = make(chan model.Event, eventBuffer)
		c.pumpDone = make(chan struct{})
		go c.pump()
	}
	return c
}

// Run is the handle of one crawl run.
type Run struct {
	id     string
	state  *runState
	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Done is closed once the run has finished and been recorded.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its final status.
func (r *Run) Wait() model.CrawlStatus {
	<-r.done
	return r.state.snapshotStatus()
}

// Status returns a snapshot of the run status.
func (r *Run) Status() model.CrawlStatus { return r.state.snapshotStatus() }

// Results returns a snapshot of the records found so far.
func (r *Run) Results() model.Results { return r.state.snapshotResults() }

// Stop requests a cooperative stop. In-flight pages finish; no new batch starts.
func (r *Run) Stop() { r.state.requestStop() }

// Start launches a new run and returns immediately. An active run is stopped
// first and awaited for at most the join timeout; a run that does not finish
// in time is cancelled and left to wind down on its own.
//
// Only invalid options are returned as errors. A seed that cannot be crawled
// produces a run that ends in the errored state.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (*Run, error) {
	if opts.MaxDepth < 0 {
		return nil, ErrInvalidDepth
	}
	if opts.AutoDownload {
		if opts.DownloadDir == "" {
			return nil, ErrNoDownloadDir
		}
		if c.downloader == nil {
			return nil, ErrNoDownloader
		}
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if prev := c.latest(); prev != nil {
		prev.Stop()
		c.join(ctx, prev)
	}

	seed := Normalize(opts.SeedURL)
	id := c.newID()
	runCtx, cancel := context.WithCancel(c.baseCtx)
	r := &Run{
		id:     id,
		state:  newRunState(id, seed, opts.MaxDepth, c.emit),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.current = r
	c.mu.Unlock()

	c.logger.Info("crawl started", "run_id", id, "seed", seed, "max_depth", opts.MaxDepth,
		"auto_download", opts.AutoDownload)
	r.state.emitStatus(r.state.snapshotStatus())

	go c.execute(runCtx, r, seed, opts)
	return r, nil
}

// join waits for r to finish, up to the join timeout or until ctx is done.
func (c *Controller) join(ctx context.Context, r *Run) {
	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		c.logger.Warn("previous run still busy, cancelling it", "run_id", r.id)
		r.cancel()
	case <-ctx.Done():
		r.cancel()
	}
}

// execute runs the crawl and records the outcome. It always closes r.done.
func (c *Controller) execute(ctx context.Context, r *Run, seed string, opts StartOptions) {
	defer close(r.done)
	defer r.cancel()

	fatal := c.crawl(ctx, r.state, seed, opts)
	if fatal == nil && ctx.Err() != nil {
		r.state.requestStop()
	}
	final := r.state.finish(fatal)

	if fatal != nil {
		c.logger.Error("crawl failed", "run_id", r.id, "error", fatal)
	} else {
		c.logger.Info("crawl finished", "run_id", r.id, "state", final.State,
			"urls_processed", final.URLsProcessed, "pdfs_found", final.PDFsFound,
			"duration", final.Duration().Round(time.Millisecond))
	}

	if c.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.recorder.SaveRun(recCtx, final, r.state.snapshotResults()); err != nil {
		c.logger.Error("failed to record run", "run_id", r.id, "error", err)
	}
}

// crawl builds the spider for one run and drives it. Panics are turned into
// a fatal error so a broken page cannot take the process down.
func (c *Controller) crawl(ctx context.Context, state *runState, seed string, opts StartOptions) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("crawl panicked: %v", p)
		}
	}()

	spiderOpts := []SpiderOption{
		WithMaxDepth(opts.MaxDepth),
		WithMaxWorkers(c.maxWorkers),
		WithSameDomainPDFs(c.sameDomainPDFs),
		WithSpiderLogger(c.logger.With("run_id", state.id)),
	}

	if opts.AutoDownload {
		dir, err := filepath.Abs(opts.DownloadDir)
		if err != nil {
			return fmt.Errorf("failed to resolve download directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create download directory: %w", err)
		}
		spiderOpts = append(spiderOpts, WithAutoDownload(c.downloader, dir))
	}

	if site, ok := c.siteConfig(seed); ok {
		spiderOpts = append(spiderOpts,
			WithIgnorePatterns(site.IgnorePatterns),
			WithFollowPatterns(site.FollowPatterns),
		)
	}

	return newSpider(c.fetcher, c.verifier, state, spiderOpts...).run(ctx, seed)
}

// siteConfig looks up the per-site settings of the seed host.
func (c *Controller) siteConfig(seed string) (config.SiteConfig, bool) {
	if c.sites == nil {
		return config.SiteConfig{}, false
	}
	host, err := BaseDomain(seed)
	if err != nil {
		return config.SiteConfig{}, false
	}
	return c.sites.GetSiteConfig(host), true
}

func (c *Controller) latest() *Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Stop requests the active run to stop. It is safe to call at any time.
func (c *Controller) Stop() {
	r := c.latest()
	if r == nil {
		return
	}
	if r.state.requestStop() {
		c.logger.Info("stop requested", "run_id", r.id)
	}
}

// Status returns a snapshot of the latest run, or an idle status.
func (c *Controller) Status() model.CrawlStatus {
	r := c.latest()
	if r == nil {
		return model.CrawlStatus{State: model.StateIdle}
	}
	return r.Status()
}

// Results returns a snapshot of the latest run's records. Partial results
// are visible while the run is in progress.
func (c *Controller) Results() model.Results {
	r := c.latest()
	if r == nil {
		return model.Results{PDFs: []model.PDFRecord{}}
	}
	return r.Results()
}

// DownloadAll downloads every found or unverified record of the latest run
// into dir, one at a time, and returns the updated records.
func (c *Controller) DownloadAll(ctx context.Context, dir string) ([]model.PDFRecord, error) {
	if c.downloader == nil {
		return nil, ErrNoDownloader
	}
	r := c.latest()
	if r == nil {
		return nil, ErrNoRun
	}

	idxs, recs := r.state.downloadable()
	out := make([]model.PDFRecord, 0, len(recs))
	for i, rec := range recs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		updated := c.downloader.Download(ctx, rec, dir)
		r.state.updateRecord(idxs[i], updated)
		out = append(out, updated)
	}
	return out, nil
}

// DownloadURL downloads a single PDF into dir. When the latest run has a
// record for pdfURL, that record is updated too.
func (c *Controller) DownloadURL(ctx context.Context, pdfURL, dir string) (model.PDFRecord, error) {
	if c.downloader == nil {
		return model.PDFRecord{}, ErrNoDownloader
	}

	rec := model.PDFRecord{
		URL:         pdfURL,
		Filename:    FilenameFromURL(pdfURL),
		ContentType: model.UnknownContentType,
		Status:      model.StatusUnverified,
		FoundAt:     time.Now(),
	}

	r := c.latest()
	idx := -1
	if r != nil {
		idx = r.state.indexOf(pdfURL)
		if idx >= 0 {
			rec = r.state.snapshotResults().PDFs[idx]
		}
	}

	updated := c.downloader.Download(ctx, rec, dir)
	if idx >= 0 {
		r.state.updateRecord(idx, updated)
	}
	return updated, nil
}

// Close stops the active run, waits for it within the join timeout and
// drains pending events to the publisher.
func (c *Controller) Close() {
	if r := c.latest(); r != nil {
		r.Stop()
		c.join(context.Background(), r)
	}

	c.pumpMu.Lock()
	if c.closed || c.events == nil {
		c.closed = true
		c.pumpMu.Unlock()
		return
	}
	c.closed = true
	close(c.events)
	c.pumpMu.Unlock()

	<-c.pumpDone
}

// emit queues ev for the publisher. It never blocks a worker: when the
// queue is full the event is dropped.
func (c *Controller) emit(ev model.Event) {
	c.pumpMu.RLock()
	defer c.pumpMu.RUnlock()
	if c.closed || c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event dropped", "kind", ev.Kind, "run_id", ev.RunID)
	}
}

// pump forwards queued events to the publisher until Close.
func (c *Controller) pump() {
	defer close(c.pumpDone)
	parent := context.WithoutCancel(c.baseCtx)
	for ev := range c.events {
		ctx, cancel := context.WithTimeout(parent, publishTimeout)
		if err := c.publisher.Publish(ctx, ev); err != nil {
			c.logger.Warn("failed to publish event", "kind", ev.Kind, "run_id", ev.RunID, "error", err)
		}
		cancel()
	}
}
