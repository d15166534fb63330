package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/database"
	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/spf13/cobra"
)

// errDownloadsFailed is returned when at least one requested PDF could not be stored.
var errDownloadsFailed = errors.New("some downloads failed")

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [pdf-url...]",
		Short: "Download PDFs by URL or from a recorded run",
		Long: `Download stores PDF documents in the download directory. A file that already
exists there is never overwritten.

With URLs as arguments, each URL is downloaded as is. With --run, every PDF
of a recorded crawl that was not downloaded yet is fetched, and the run in
the history database is updated with the outcome.

Examples:
  # Download two PDFs into ./pdfs
  pdfcrawl download -D ./pdfs https://example.com/a.pdf https://example.com/b.pdf

  # Download what a previous crawl found
  pdfcrawl history
  pdfcrawl download --run 2f1c9a7e-...`,
		RunE: runDownloadCmd,
	}

	addEngineFlags(cmd)
	cmd.Flags().StringP("run", "r", "", "Download the PDFs of a recorded run")

	return cmd
}

func runDownloadCmd(cmd *cobra.Command, args []string) error {
	cfg := config.NewConfig()
	if err := applyEngineFlags(cmd, cfg); err != nil {
		return err
	}
	runID, err := cmd.Flags().GetString("run")
	if err != nil {
		return err
	}

	if runID == "" && len(args) == 0 {
		return errors.New("nothing to download (specify PDF URLs or --run)")
	}
	if runID != "" && len(args) > 0 {
		return errors.New("PDF URLs and --run cannot be used together")
	}
	if cfg.DownloadDir == "" {
		return fmt.Errorf("configuration error: %w", config.ErrNoDownloadDir)
	}
	if err := cfg.ValidateEngine(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose, false)
	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	if runID != "" {
		return downloadRun(ctx, cfg, runID, logger, cmd.OutOrStdout())
	}
	return downloadURLs(ctx, cfg, args, logger, cmd.OutOrStdout())
}

// downloadURLs downloads each URL into cfg.DownloadDir.
func downloadURLs(ctx context.Context, cfg *config.Config, urls []string, logger *slog.Logger, out io.Writer) error {
	// Single downloads do not belong to a run, so there is nothing to record.
	cfg.SaveToDB = false

	eng, err := newEngine(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer eng.Close()

	recs := make([]model.PDFRecord, 0, len(urls))
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		rec, err := eng.controller.DownloadURL(ctx, u, cfg.DownloadDir)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	return printDownloads(out, recs)
}

// downloadRun downloads the pending PDFs of a stored run and saves the
// updated records back to the history database.
func downloadRun(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger, out io.Writer) error {
	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	status, results, err := db.GetResults(ctx, runID)
	if err != nil {
		return err
	}
	if status == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	cfg.SaveToDB = false
	eng, err := newEngine(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer eng.Close()

	updated := eng.downloader.DownloadAll(ctx, results.PDFs, cfg.DownloadDir)
	attempted := make([]model.PDFRecord, 0, len(updated))
	for i, rec := range updated {
		if results.PDFs[i].Status.Downloadable() && rec.Status.Terminal() {
			attempted = append(attempted, rec)
		}
	}

	results.PDFs = updated
	if err := db.SaveRun(context.WithoutCancel(ctx), *status, *results); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}

	if len(attempted) == 0 {
		fmt.Fprintf(out, "No PDFs left to download for run %s\n", runID)
	}
	return printDownloads(out, attempted)
}

// printDownloads writes one line per record and reports whether any failed.
func printDownloads(out io.Writer, recs []model.PDFRecord) error {
	failed := 0
	for _, rec := range recs {
		switch rec.Status {
		case model.StatusDownloaded:
			fmt.Fprintf(out, "downloaded      %s -> %s\n", rec.URL, rec.LocalPath)
		case model.StatusAlreadyExists:
			fmt.Fprintf(out, "already exists  %s -> %s\n", rec.URL, rec.LocalPath)
		case model.StatusDownloadFailed:
			failed++
			fmt.Fprintf(out, "failed          %s: %s\n", rec.URL, rec.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errDownloadsFailed, failed, len(recs))
	}
	return nil
}
