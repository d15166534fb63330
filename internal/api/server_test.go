package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/pdfcrawl/internal/crawler"
	"github.com/nao1215/pdfcrawl/internal/download"
	"github.com/nao1215/pdfcrawl/internal/model"
)

const pdfBody = "%PDF-1.4\n<< /Title (Test) >>\n%%EOF\n"

// newSite serves a small site: / links a.pdf and /page, /page links b.pdf.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/a.pdf">A</a><a href="/page">Page</a></body></html>`)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/b.pdf">B</a></body></html>`)
	})
	for _, name := range []string{"/a.pdf", "/b.pdf"} {
		mux.HandleFunc(name, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Length", fmt.Sprint(len(pdfBody)))
			io.WriteString(w, pdfBody) //nolint:errcheck // test server
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	site *httptest.Server
	api  *httptest.Server
	dir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	site := newSite(t)
	ctrl := crawler.NewController(
		crawler.NewFetcher(site.Client()),
		crawler.NewVerifier(site.Client()),
		download.New(site.Client()),
	)
	t.Cleanup(ctrl.Close)

	dir := t.TempDir()
	api := httptest.NewServer(New(ctrl, WithDownloadDir(dir)).Handler())
	t.Cleanup(api.Close)

	return &testEnv{site: site, api: api, dir: dir}
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Post(e.api.URL+path, "application/json", strings.NewReader(body)) //nolint:noctx // test code
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(e.api.URL + path) //nolint:noctx // test code
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (e *testEnv) waitIdle(t *testing.T) model.CrawlStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, data := e.get(t, "/api/status")
		var st model.CrawlStatus
		if err := json.Unmarshal(data, &st); err != nil {
			t.Fatalf("invalid status JSON: %v", err)
		}
		if !st.IsRunning && st.State.Finished() {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, last status %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestStartCrawl tests request validation of the start endpoint.
func TestStartCrawl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing URL", `{"max_depth": 1}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"invalid JSON", `{"website_url":`, http.StatusBadRequest},
		{"negative depth", `{"website_url": "https://example.com", "max_depth": -1}`, http.StatusBadRequest},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, data := env.post(t, "/api/start-crawl", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, resp.StatusCode, data)
			}
			var e errorResponse
			if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
				t.Errorf("expected error body, got %s", data)
			}
		})
	}
}

// TestCrawlFlow tests a full crawl driven through the API.
func TestCrawlFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, data := env.post(t, "/api/start-crawl", fmt.Sprintf(`{"website_url": %q, "max_depth": 1}`, env.site.URL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start failed: %d %s", resp.StatusCode, data)
	}
	var started startResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatal(err)
	}
	if started.RunID == "" || started.Status != "running" {
		t.Errorf("unexpected start response %+v", started)
	}
	if resp.Header.Get("Cache-Control") == "" {
		t.Error("expected no-cache headers")
	}

	st := env.waitIdle(t)
	if st.State != model.StateCompleted || st.RunID != started.RunID {
		t.Errorf("unexpected final status %+v", st)
	}

	_, data = env.get(t, "/api/results")
	var results model.Results
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatal(err)
	}
	if len(results.PDFs) != 2 || results.TotalURLsVisited != 2 {
		t.Fatalf("expected 2 PDFs from 2 pages, got %+v", results)
	}

	resp, data = env.post(t, "/api/download-all", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download-all failed: %d %s", resp.StatusCode, data)
	}
	var all downloadAllResponse
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatal(err)
	}
	if len(all.Records) != 2 || all.Message != "2 of 2 PDFs downloaded" {
		t.Errorf("unexpected download-all response %+v", all)
	}

	resp, data = env.get(t, "/api/downloads/a.pdf?dir="+url.QueryEscape(env.dir))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("serving file failed: %d %s", resp.StatusCode, data)
	}
	if !bytes.Equal(data, []byte(pdfBody)) {
		t.Error("served file differs from the download")
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("expected attachment, got %q", cd)
	}

	resp, _ = env.get(t, "/api/stop-crawl")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET stop, got %d", resp.StatusCode)
	}
	_, data = env.post(t, "/api/stop-crawl", ``)
	if !strings.Contains(string(data), "No crawler running") {
		t.Errorf("unexpected stop response %s", data)
	}
}

// TestIdleEndpoints tests endpoints before any run.
func TestIdleEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, data := env.get(t, "/api/status")
	var st model.CrawlStatus
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.IsRunning || st.State != model.StateIdle {
		t.Errorf("expected idle status, got %+v", st)
	}

	_, data = env.get(t, "/api/results")
	if !strings.Contains(string(data), `"pdfs":[]`) {
		t.Errorf("expected empty PDF list, got %s", data)
	}

	resp, _ := env.post(t, "/api/download-all", ``)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 without a run, got %d", resp.StatusCode)
	}
}

// TestDownloadPDF tests single downloads.
func TestDownloadPDF(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	t.Run("missing URL", func(t *testing.T) {
		t.Parallel()

		resp, _ := env.post(t, "/api/download-pdf", `{}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("success then already exists", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		body := fmt.Sprintf(`{"url": %q, "download_dir": %q}`, env.site.URL+"/b.pdf", dir)

		resp, data := env.post(t, "/api/download-pdf", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d %s", resp.StatusCode, data)
		}
		var got downloadResponse
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Filename != "b.pdf" || got.Record.Status != model.StatusDownloaded {
			t.Errorf("unexpected response %+v", got)
		}

		_, data = env.post(t, "/api/download-pdf", body)
		if !strings.Contains(string(data), "PDF already downloaded") {
			t.Errorf("expected already downloaded, got %s", data)
		}

		resp, _ = env.get(t, "/api/downloads/b.pdf?dir="+url.QueryEscape(dir))
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected directory to be served after download, got %d", resp.StatusCode)
		}
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()

		body := fmt.Sprintf(`{"url": %q}`, env.site.URL+"/missing.pdf")
		resp, data := env.post(t, "/api/download-pdf", body)
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("expected 502, got %d %s", resp.StatusCode, data)
		}
		var e errorResponse
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatal(err)
		}
		if e.Record == nil || e.Record.Status != model.StatusDownloadFailed {
			t.Errorf("expected failed record, got %+v", e)
		}
	})
}

// TestServeFileRestrictions tests that only download directories are served.
func TestServeFileRestrictions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"foreign directory", "/api/downloads/passwd?dir=" + url.QueryEscape("/etc"), http.StatusForbidden},
		{"missing file", "/api/downloads/nothing.pdf", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, _ := env.get(t, tt.path)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

// TestServeFileOutsideDefaultDir tests that a caller-chosen directory only
// exposes files pdfcrawl itself downloaded there.
func TestServeFileOutsideDefaultDir(t *testing.T) {
	t.Parallel()

	t.Run("failed download does not expose the directory", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("TOP-SECRET"), 0600); err != nil {
			t.Fatal(err)
		}

		body := fmt.Sprintf(`{"url": "http://127.0.0.1:1/x.pdf", "download_dir": %q}`, dir)
		resp, data := env.post(t, "/api/download-pdf", body)
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d %s", resp.StatusCode, data)
		}

		resp, data = env.get(t, "/api/downloads/secret.txt?dir="+url.QueryEscape(dir))
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d %s", resp.StatusCode, data)
		}
	})

	t.Run("existing file is not exposed", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "private.pdf"), []byte("%PDF-private"), 0600); err != nil {
			t.Fatal(err)
		}

		body := fmt.Sprintf(`{"url": %q, "download_dir": %q}`, env.site.URL+"/private.pdf", dir)
		_, data := env.post(t, "/api/download-pdf", body)
		if !strings.Contains(string(data), "PDF already downloaded") {
			t.Fatalf("expected already downloaded, got %s", data)
		}

		resp, _ := env.get(t, "/api/downloads/private.pdf?dir="+url.QueryEscape(dir))
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("auto-downloaded files are served", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		dir := t.TempDir()

		body := fmt.Sprintf(`{"website_url": %q, "max_depth": 0, "auto_download": true, "download_dir": %q}`, env.site.URL, dir)
		resp, data := env.post(t, "/api/start-crawl", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("start failed: %d %s", resp.StatusCode, data)
		}
		env.waitIdle(t)

		resp, data = env.get(t, "/api/downloads/a.pdf?dir="+url.QueryEscape(dir))
		if resp.StatusCode != http.StatusOK || !bytes.Equal(data, []byte(pdfBody)) {
			t.Errorf("expected a.pdf to be served, got %d %s", resp.StatusCode, data)
		}
		resp, _ = env.get(t, "/api/downloads/b.pdf?dir="+url.QueryEscape(dir))
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403 for a file never downloaded, got %d", resp.StatusCode)
		}
	})
}

// TestServeFileInvalidName tests file names that escape the directory.
func TestServeFileInvalidName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := New(nil, WithDownloadDir(dir))

	for _, name := range []string{"../secret", "/etc/passwd", "a/../../b"} {
		req := httptest.NewRequest(http.MethodGet, "/api/downloads/x", nil)
		req.SetPathValue("file", name)
		rec := httptest.NewRecorder()

		s.handleServeFile(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", name, rec.Code)
		}
	}
}
