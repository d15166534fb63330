package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/crawler"
	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/nao1215/pdfcrawl/internal/report"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawl a website and list its PDF documents",
		Long: `Crawl starts at the seed page, follows links that stay on the seed's domain
(subdomains included) up to --depth levels, and records every link that
points at a PDF document. Each candidate is verified with a HEAD request.

The run ends when no pages are left, or when it is interrupted with Ctrl+C;
in both cases a report of the PDFs found so far is printed.

Examples:
  # List the PDFs of a site, following links two levels deep
  pdfcrawl crawl -d 2 https://example.com

  # Download every PDF while crawling
  pdfcrawl crawl -a -D ./pdfs https://example.com

  # Write a Markdown report
  pdfcrawl crawl --markdown -o report.md https://example.com

  # Crawl through a local Tor daemon
  pdfcrawl crawl --proxy 127.0.0.1:9050 http://exampleonion.onion

Configuration file (.pdfcrawl) example:
  sites:
    example.com:
      cookie: "session_id=abc123"
      depth: 4
      ignorePatterns:
        - "/archive/*"`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCmd,
	}

	addEngineFlags(cmd)

	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Maximum link depth from the seed page (0 = seed page only)")
	cmd.Flags().BoolP("auto-download", "a", false,
		"Download each PDF as soon as it is found")
	cmd.Flags().Bool("scoped-pdfs", false,
		"Only record PDFs hosted on the seed's domain")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown and --xlsx)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json and --xlsx)")
	cmd.Flags().BoolP("xlsx", "x", false,
		"Output Excel workbook (requires --output)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildCrawlConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose, false)
	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout())
}

// buildCrawlConfig creates a Config from the crawl command's flags and arguments.
func buildCrawlConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	if err := applyEngineFlags(cmd, cfg); err != nil {
		return nil, err
	}

	var err error
	if cfg.MaxDepth, err = cmd.Flags().GetInt("depth"); err != nil {
		return nil, err
	}
	if cfg.AutoDownload, err = cmd.Flags().GetBool("auto-download"); err != nil {
		return nil, err
	}
	if cfg.ScopedPDFs, err = cmd.Flags().GetBool("scoped-pdfs"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.XLSXReport, err = cmd.Flags().GetBool("xlsx"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.SeedURL = args[0]
	}

	// The configuration file sets the depth of a site unless --depth was given.
	if _, site := seedSiteConfig(cfg); site.Depth > 0 && !cmd.Flags().Changed("depth") {
		cfg.MaxDepth = site.Depth
	}

	return cfg, nil
}

// runCrawl executes one crawl run and writes its report.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	eng, err := newEngine(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer eng.Close()

	run, err := eng.controller.Start(ctx, crawler.StartOptions{
		SeedURL:      cfg.SeedURL,
		MaxDepth:     cfg.MaxDepth,
		DownloadDir:  cfg.DownloadDir,
		AutoDownload: cfg.AutoDownload,
	})
	if err != nil {
		return fmt.Errorf("failed to start crawl: %w", err)
	}

	status := run.Wait()
	if err := outputReport(cfg, status, run.Results(), out); err != nil {
		return err
	}
	if status.State == model.StateErrored {
		return fmt.Errorf("crawl failed: %s", status.Error)
	}
	return nil
}

// outputReport writes the report of a run in the format selected by cfg,
// to cfg.ReportFile or to out.
func outputReport(cfg *config.Config, status model.CrawlStatus, results model.Results, out io.Writer) error {
	if cfg.ReportFile == "" {
		return writeReport(cfg, status, results, out)
	}

	if dir := filepath.Dir(cfg.ReportFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports may contain session URLs, so only the owner can read them.
	f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	return closeAfter(f, func(w io.Writer) error {
		return writeReport(cfg, status, results, w)
	})
}

// closeAfter runs write on wc and closes it. A close error is returned
// when write succeeded, since the file may be incomplete.
func closeAfter(wc io.WriteCloser, write func(io.Writer) error) error {
	writeErr := write(wc)
	closeErr := wc.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}
	return nil
}

func writeReport(cfg *config.Config, status model.CrawlStatus, results model.Results, out io.Writer) error {
	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(out, report.WithPrettyPrint())
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(out)
	case cfg.XLSXReport:
		w = report.NewXLSXWriter(out)
	default:
		w = report.NewSimpleWriter(out, report.WithVerbose(cfg.Verbose))
	}

	if _, err := w.Write(report.New(status, results, getVersion())); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
