package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/model"
)

// TestRunServe tests the API server lifecycle of the serve command.
func TestRunServe(t *testing.T) {
	t.Parallel()

	site := newSite(t)

	cfg := config.NewConfig()
	cfg.SaveToDB = false
	cfg.DownloadDir = t.TempDir()
	cfg.MaxDepth = 1

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, cfg, ln, slog.New(slog.DiscardHandler), io.Discard)
	}()

	body := fmt.Sprintf(`{"website_url": %q}`, site.URL)
	resp, err := http.Post(base+"/api/start-crawl", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from start-crawl, got %d", resp.StatusCode)
	}

	var status model.CrawlStatus
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/api/status")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("invalid status: %v", err)
		}
		if !status.IsRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("crawl did not finish in time")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if status.State != model.StateCompleted || status.PDFsFound != 2 {
		t.Errorf("expected a completed run with 2 PDFs, got %s with %d", status.State, status.PDFsFound)
	}
	if status.MaxDepth != 1 {
		t.Errorf("expected the default depth to apply, got %d", status.MaxDepth)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServeCmdValidation(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "serve", "-c", emptyConfig(t), "--workers", "0", "--listen", "127.0.0.1:0")
	if err == nil || !strings.Contains(err.Error(), "configuration error") {
		t.Errorf("expected a configuration error, got %v", err)
	}
}
