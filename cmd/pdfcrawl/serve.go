package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nao1215/pdfcrawl/internal/api"
	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/spf13/cobra"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the crawl controller over a JSON HTTP API",
		Long: `Serve exposes one crawl controller over HTTP so that a web front end or a
script can start, stop and watch crawls and download the PDFs they find.

Routes:
  POST /api/start-crawl     {"website_url", "max_depth", "download_dir", "auto_download"}
  POST /api/stop-crawl
  GET  /api/status
  GET  /api/results
  POST /api/download-pdf    {"url", "download_dir"}
  POST /api/download-all    {"download_dir"}
  GET  /api/downloads/{file}?dir=<download_dir>

Examples:
  # Listen on the default address
  pdfcrawl serve

  # Listen on all interfaces with JSON logs
  pdfcrawl serve --listen :8080 --log-json`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	addEngineFlags(cmd)

	cmd.Flags().StringP("listen", "l", config.DefaultListenAddr, "HTTP listen address")
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Maximum link depth used when a start request names none")
	cmd.Flags().Bool("log-json", false, "Write logs as JSON")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg := config.NewConfig()
	if err := applyEngineFlags(cmd, cfg); err != nil {
		return err
	}

	var err error
	if cfg.ListenAddr, err = cmd.Flags().GetString("listen"); err != nil {
		return err
	}
	if cfg.MaxDepth, err = cmd.Flags().GetInt("depth"); err != nil {
		return err
	}
	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return err
	}

	if cfg.MaxDepth < 0 {
		return fmt.Errorf("configuration error: %w", config.ErrInvalidMaxDepth)
	}
	if err := cfg.ValidateEngine(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose, logJSON)
	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	return runServe(ctx, cfg, ln, logger, cmd.OutOrStdout())
}

// runServe serves the API on ln until ctx is cancelled, then shuts down
// the HTTP server and the engine.
func runServe(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger, out io.Writer) error {
	eng, err := newEngine(ctx, cfg, logger, out)
	if err != nil {
		ln.Close()
		return err
	}
	defer eng.Close()

	srv := &http.Server{
		Handler: api.New(eng.controller,
			api.WithLogger(logger),
			api.WithDownloadDir(cfg.DownloadDir),
			api.WithDefaultDepth(cfg.MaxDepth),
		).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	fmt.Fprintf(out, "pdfcrawl API listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
