package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/model"
)

var testPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Title (Test) >>\nendobj\ntrailer\n%%EOF\n")

// newTestSite serves a small site:
//
//	/       -> /about, /report.pdf, an external page, a stylesheet
//	/about  -> /other.pdf, /deep, /
//	/deep   -> /deep.pdf
//
// Every page handler sleeps for delay before answering.
func newTestSite(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()

	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, "<html><body>%s</body></html>", body)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", page(`
		<a href="/about">About</a>
		<a href="/report.pdf">Report</a>
		<a href="https://external.invalid/page">External</a>
		<a href="/style.css">Style</a>`))
	mux.HandleFunc("/about", page(`
		<a href="/other.pdf">Other</a>
		<a href="/deep">Deep</a>
		<a href="/">Home</a>`))
	mux.HandleFunc("/deep", page(`<a href="/deep.pdf">Deep</a>`))

	servePDF := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", strconv.Itoa(len(testPDF)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(testPDF)
		}
	}
	mux.HandleFunc("/report.pdf", servePDF)
	mux.HandleFunc("/other.pdf", servePDF)
	mux.HandleFunc("/deep.pdf", servePDF)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newSlowSite serves a seed page linking to n slow pages.
func newSlowSite(t *testing.T, n int, delay time.Duration) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "text/html")
		var b strings.Builder
		for i := range n {
			fmt.Fprintf(&b, `<a href="/p%d">p%d</a>`, i, i)
		}
		fmt.Fprint(w, b.String())
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// fakeDownloader marks records as downloaded without touching the network.
type fakeDownloader struct {
	mu      sync.Mutex
	calls   []string
	running []bool

	// status, when set, is sampled on every call.
	status func() model.CrawlStatus
}

func (d *fakeDownloader) Download(_ context.Context, rec model.PDFRecord, dir string) model.PDFRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, rec.URL)
	if d.status != nil {
		d.running = append(d.running, d.status().IsRunning)
	}

	out := rec.Clone()
	out.Status = model.StatusDownloaded
	out.LocalPath = filepath.Join(dir, rec.Filename)
	return out
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type recordedRun struct {
	status  model.CrawlStatus
	results model.Results
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (r *fakeRecorder) SaveRun(_ context.Context, status model.CrawlStatus, results model.Results) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{status: status, results: results})
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *fakePublisher) Publish(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// panicFetcher fails every fetch with a panic.
type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, string) (*ParseResult, error) {
	panic("parser exploded")
}

func newTestController(srv *httptest.Server, d Downloader, opts ...ControllerOption) *Controller {
	return NewController(
		NewFetcher(srv.Client()),
		NewVerifier(srv.Client()),
		d,
		opts...,
	)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pdfNames(results model.Results) map[string]bool {
	names := make(map[string]bool, len(results.PDFs))
	for _, rec := range results.PDFs {
		names[rec.Filename] = true
	}
	return names
}

// TestControllerCrawl tests complete runs against a local site.
func TestControllerCrawl(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t, 0)

	t.Run("max depth 1", func(t *testing.T) {
		t.Parallel()

		ctrl := newTestController(srv, nil)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		final := run.Wait()
		if final.IsRunning || final.State != model.StateCompleted {
			t.Errorf("unexpected final status: %+v", final)
		}
		if final.URLsProcessed != 2 || final.PDFsFound != 2 || final.CurrentDepth != 1 {
			t.Errorf("unexpected counters: %+v", final)
		}

		results := ctrl.Results()
		if results.TotalURLsVisited != 2 {
			t.Errorf("expected 2 visited URLs, got %d", results.TotalURLsVisited)
		}
		names := pdfNames(results)
		if len(names) != 2 || !names["report.pdf"] || !names["other.pdf"] {
			t.Errorf("expected report.pdf and other.pdf, got %v", names)
		}
		for _, rec := range results.PDFs {
			if rec.Status != model.StatusFound {
				t.Errorf("expected found, got %s for %s", rec.Status, rec.URL)
			}
			if rec.SizeOrZero() != int64(len(testPDF)) {
				t.Errorf("unexpected size %d for %s", rec.SizeOrZero(), rec.URL)
			}
		}
	})

	t.Run("max depth 0 scans only the seed", func(t *testing.T) {
		t.Parallel()

		ctrl := newTestController(srv, nil)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 0})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		final := run.Wait()
		if final.URLsProcessed != 1 || final.PDFsFound != 1 {
			t.Errorf("unexpected counters: %+v", final)
		}
		if names := pdfNames(run.Results()); !names["report.pdf"] {
			t.Errorf("expected report.pdf, got %v", names)
		}
	})

	t.Run("max depth 2 reaches every page", func(t *testing.T) {
		t.Parallel()

		ctrl := newTestController(srv, nil)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		final := run.Wait()
		if final.URLsProcessed != 3 || final.PDFsFound != 3 || final.CurrentDepth != 2 {
			t.Errorf("unexpected counters: %+v", final)
		}
	})

	t.Run("one record per url", func(t *testing.T) {
		t.Parallel()

		ctrl := newTestController(srv, nil, WithWorkers(1))
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		run.Wait()

		seen := make(map[string]bool)
		for _, rec := range run.Results().PDFs {
			if seen[rec.URL] {
				t.Errorf("duplicate record for %s", rec.URL)
			}
			seen[rec.URL] = true
		}
	})

	t.Run("site ignore patterns", func(t *testing.T) {
		t.Parallel()

		host := strings.TrimPrefix(srv.URL, "http://")
		sites := &config.File{Sites: map[string]config.SiteConfig{
			host: {IgnorePatterns: []string{"/about"}},
		}}

		ctrl := newTestController(srv, nil, WithSiteConfigs(sites))
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		final := run.Wait()
		if final.URLsProcessed != 1 || final.PDFsFound != 1 {
			t.Errorf("expected only the seed to be crawled, got %+v", final)
		}
	})
}

// TestControllerAutoDownload tests downloads during a run.
func TestControllerAutoDownload(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t, 0)
	d := &fakeDownloader{}
	ctrl := newTestController(srv, d)
	d.status = ctrl.Status

	dir := t.TempDir()
	run, err := ctrl.Start(t.Context(), StartOptions{
		SeedURL:      srv.URL,
		MaxDepth:     1,
		DownloadDir:  dir,
		AutoDownload: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run.Wait()

	if d.callCount() != 2 {
		t.Fatalf("expected 2 downloads, got %d", d.callCount())
	}
	d.mu.Lock()
	for i, running := range d.running {
		if !running {
			t.Errorf("download %d happened after the run stopped", i)
		}
	}
	d.mu.Unlock()

	for _, rec := range run.Results().PDFs {
		if rec.Status != model.StatusDownloaded {
			t.Errorf("expected downloaded, got %s for %s", rec.Status, rec.URL)
		}
		if filepath.Dir(rec.LocalPath) != dir {
			t.Errorf("unexpected local path %q", rec.LocalPath)
		}
	}
}

// TestControllerStartValidation tests option checks in Start.
func TestControllerStartValidation(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t, 0)

	tests := []struct {
		name       string
		downloader Downloader
		opts       StartOptions
		wantErr    error
	}{
		{
			name:    "negative depth",
			opts:    StartOptions{SeedURL: srv.URL, MaxDepth: -1},
			wantErr: ErrInvalidDepth,
		},
		{
			name:       "auto-download without dir",
			downloader: &fakeDownloader{},
			opts:       StartOptions{SeedURL: srv.URL, AutoDownload: true},
			wantErr:    ErrNoDownloadDir,
		},
		{
			name:    "auto-download without downloader",
			opts:    StartOptions{SeedURL: srv.URL, AutoDownload: true, DownloadDir: "x"},
			wantErr: ErrNoDownloader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := newTestController(srv, tt.downloader)
			if _, err := ctrl.Start(t.Context(), tt.opts); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if st := ctrl.Status(); st.State != model.StateIdle {
				t.Errorf("expected idle after rejected start, got %s", st.State)
			}
		})
	}
}

// TestControllerErrors tests runs that end in the errored state.
func TestControllerErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid seed", func(t *testing.T) {
		t.Parallel()

		ctrl := NewController(NewFetcher(http.DefaultClient), NewVerifier(http.DefaultClient), nil)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: "http://", MaxDepth: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		final := run.Wait()
		if final.State != model.StateErrored || final.IsRunning {
			t.Errorf("expected errored run, got %+v", final)
		}
		if !strings.Contains(final.Error, ErrInvalidSeed.Error()) {
			t.Errorf("expected invalid seed error, got %q", final.Error)
		}
	})

	t.Run("worker panic", func(t *testing.T) {
		t.Parallel()

		ctrl := NewController(panicFetcher{}, NewVerifier(http.DefaultClient), nil)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: "https://example.com", MaxDepth: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		final := run.Wait()
		if final.State != model.StateErrored || !strings.Contains(final.Error, "panicked") {
			t.Errorf("expected recovered panic, got %+v", final)
		}
	})
}

// TestControllerStop tests cooperative stop.
func TestControllerStop(t *testing.T) {
	t.Parallel()

	t.Run("without a run", func(t *testing.T) {
		t.Parallel()

		ctrl := NewController(NewFetcher(http.DefaultClient), NewVerifier(http.DefaultClient), nil)
		ctrl.Stop()
		ctrl.Stop()

		st := ctrl.Status()
		if st.State != model.StateIdle || st.IsRunning {
			t.Errorf("expected idle status, got %+v", st)
		}
		if res := ctrl.Results(); len(res.PDFs) != 0 || res.PDFs == nil {
			t.Errorf("expected empty non-nil results, got %+v", res)
		}
	})

	t.Run("mid-run", func(t *testing.T) {
		t.Parallel()

		srv := newSlowSite(t, 20, 150*time.Millisecond)
		ctrl := newTestController(srv, nil)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitFor(t, func() bool { return run.Status().URLsProcessed >= 1 })

		ctrl.Stop()
		st := ctrl.Status()
		if st.IsRunning || st.State != model.StateStopped {
			t.Errorf("expected stopped right after Stop, got %+v", st)
		}
		ctrl.Stop()

		final := run.Wait()
		if final.State != model.StateStopped {
			t.Errorf("expected stopped final state, got %s", final.State)
		}
		if final.URLsProcessed > st.URLsProcessed+config.DefaultMaxWorkers {
			t.Errorf("batches were dispatched after stop: %d -> %d", st.URLsProcessed, final.URLsProcessed)
		}
	})

	t.Run("base context cancellation", func(t *testing.T) {
		t.Parallel()

		srv := newSlowSite(t, 20, 150*time.Millisecond)
		ctx, cancel := context.WithCancel(t.Context())
		ctrl := newTestController(srv, nil, WithBaseContext(ctx))
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitFor(t, func() bool { return run.Status().URLsProcessed >= 1 })

		cancel()
		final := run.Wait()
		if final.State != model.StateStopped || final.IsRunning {
			t.Errorf("expected stopped run, got %+v", final)
		}
	})

	t.Run("start replaces the active run", func(t *testing.T) {
		t.Parallel()

		srv := newSlowSite(t, 20, 150*time.Millisecond)
		ctrl := newTestController(srv, nil, WithJoinTimeout(5*time.Second))
		first, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitFor(t, func() bool { return first.Status().URLsProcessed >= 1 })

		second, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 0})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		select {
		case <-first.Done():
		default:
			t.Error("expected the first run to be finished before the second started")
		}
		if first.Status().State != model.StateStopped {
			t.Errorf("expected first run stopped, got %s", first.Status().State)
		}
		if first.ID() == second.ID() {
			t.Error("expected distinct run IDs")
		}

		final := second.Wait()
		if ctrl.Status().RunID != second.ID() {
			t.Error("controller does not report the latest run")
		}
		if final.URLsProcessed != 1 || final.State != model.StateCompleted {
			t.Errorf("second run did not start from fresh state: %+v", final)
		}
	})
}

// TestControllerDownloads tests downloads requested after a run.
func TestControllerDownloads(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t, 0)

	t.Run("download all", func(t *testing.T) {
		t.Parallel()

		d := &fakeDownloader{}
		ctrl := newTestController(srv, d)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		run.Wait()

		dir := t.TempDir()
		out, err := ctrl.DownloadAll(t.Context(), dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("expected 2 outcomes, got %d", len(out))
		}
		for _, rec := range ctrl.Results().PDFs {
			if rec.Status != model.StatusDownloaded {
				t.Errorf("expected downloaded, got %s", rec.Status)
			}
		}

		again, err := ctrl.DownloadAll(t.Context(), dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("expected nothing left to download, got %d", len(again))
		}
	})

	t.Run("download one url", func(t *testing.T) {
		t.Parallel()

		d := &fakeDownloader{}
		ctrl := newTestController(srv, d)
		run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 0})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		run.Wait()

		rec, err := ctrl.DownloadURL(t.Context(), srv.URL+"/report.pdf", t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Status != model.StatusDownloaded || rec.SourceURL == "" {
			t.Errorf("expected the run's record to be downloaded, got %+v", rec)
		}
		if got := ctrl.Results().PDFs[0].Status; got != model.StatusDownloaded {
			t.Errorf("run record not updated, got %s", got)
		}

		adhoc, err := ctrl.DownloadURL(t.Context(), srv.URL+"/files/manual", t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if adhoc.Filename != "manual.pdf" || adhoc.Status != model.StatusDownloaded {
			t.Errorf("unexpected ad-hoc record: %+v", adhoc)
		}
	})

	t.Run("no run or downloader", func(t *testing.T) {
		t.Parallel()

		ctrl := newTestController(srv, &fakeDownloader{})
		if _, err := ctrl.DownloadAll(t.Context(), t.TempDir()); !errors.Is(err, ErrNoRun) {
			t.Errorf("expected ErrNoRun, got %v", err)
		}

		bare := newTestController(srv, nil)
		if _, err := bare.DownloadAll(t.Context(), t.TempDir()); !errors.Is(err, ErrNoDownloader) {
			t.Errorf("expected ErrNoDownloader, got %v", err)
		}
		if _, err := bare.DownloadURL(t.Context(), srv.URL+"/report.pdf", t.TempDir()); !errors.Is(err, ErrNoDownloader) {
			t.Errorf("expected ErrNoDownloader, got %v", err)
		}
	})
}

// TestControllerHooks tests the recorder and publisher hooks.
func TestControllerHooks(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t, 0)
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	ctrl := newTestController(srv, nil,
		WithRecorder(rec),
		WithPublisher(pub),
		WithIDGenerator(func() string { return "run-1" }),
	)

	run, err := ctrl.Start(t.Context(), StartOptions{SeedURL: srv.URL, MaxDepth: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ID() != "run-1" {
		t.Errorf("expected injected run ID, got %q", run.ID())
	}
	run.Wait()
	ctrl.Close()

	rec.mu.Lock()
	if len(rec.runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(rec.runs))
	}
	got := rec.runs[0]
	rec.mu.Unlock()
	if got.status.State != model.StateCompleted || got.status.MaxDepth != 1 || len(got.results.PDFs) != 2 {
		t.Errorf("unexpected recorded run: %+v", got)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) == 0 {
		t.Fatal("expected events to be published")
	}
	found := 0
	for _, ev := range pub.events {
		if ev.RunID != "run-1" {
			t.Errorf("event for unexpected run %q", ev.RunID)
		}
		if ev.Kind == model.EventPDFFound {
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected 2 pdf_found events, got %d", found)
	}
	last := pub.events[len(pub.events)-1]
	if last.Kind != model.EventStatus || last.Status == nil || last.Status.IsRunning {
		t.Errorf("expected the final event to be a finished status, got %+v", last)
	}
}
