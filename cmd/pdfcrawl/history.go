package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/database"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded crawl runs",
		Long: `History lists the crawl runs recorded in the local database, newest first.
With a run ID it prints the report of that run in any report format.

Examples:
  # List the last 20 runs
  pdfcrawl history

  # Show one run as Markdown
  pdfcrawl history --markdown 2f1c9a7e-...

  # Find every run that downloaded a file with this SHA3-256 checksum
  pdfcrawl history --checksum 3a985da7...

  # Delete a run
  pdfcrawl history --delete 2f1c9a7e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	addDBDirFlag(cmd)
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to list (0 = all)")
	cmd.Flags().String("checksum", "", "List downloaded PDFs with this SHA3-256 checksum")
	cmd.Flags().Bool("delete", false, "Delete the given run")

	cmd.Flags().BoolP("json", "j", false, "Output JSON report")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown report")
	cmd.Flags().BoolP("xlsx", "x", false, "Output Excel workbook (requires --output)")
	cmd.Flags().StringP("output", "o", "", "Write report to specified file path")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	if cfg.XLSXReport, err = flags.GetBool("xlsx"); err != nil {
		return err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	checksum, err := flags.GetString("checksum")
	if err != nil {
		return err
	}
	del, err := flags.GetBool("delete")
	if err != nil {
		return err
	}

	if cfg.ReportFormatCount() > 1 {
		return fmt.Errorf("configuration error: %w", config.ErrConflictingReportFormats)
	}
	if cfg.XLSXReport && cfg.ReportFile == "" {
		return fmt.Errorf("configuration error: %w", config.ErrXLSXNeedsFile)
	}
	if del && len(args) == 0 {
		return fmt.Errorf("--delete needs a run ID")
	}

	db, err := database.Open(cfg.DBDir, database.Options{EnableWAL: true})
	if errors.Is(err, database.ErrDatabaseNotFound) && len(args) == 0 && checksum == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No crawl runs recorded yet.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	switch {
	case checksum != "":
		return listByChecksum(ctx, db, checksum, out)
	case del:
		return deleteRun(ctx, db, args[0], out)
	case len(args) == 1:
		return showRun(ctx, db, cfg, args[0], out)
	default:
		return listRuns(ctx, db, limit, out)
	}
}

// listRuns prints a table of recorded runs.
func listRuns(ctx context.Context, db *database.CrawlDB, limit int, out io.Writer) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No crawl runs recorded yet.")
		fmt.Fprintln(out, "\nUse 'pdfcrawl crawl <seed-url>' to start one.")
		return nil
	}

	fmt.Fprintf(out, "Recorded runs (%d):\n\n", len(runs))
	fmt.Fprintf(out, "  %-36s  %-19s  %-9s  %5s  %4s  %s\n", "ID", "Started", "State", "Pages", "PDFs", "Seed")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 100))
	for _, r := range runs {
		st := r.Status
		fmt.Fprintf(out, "  %-36s  %-19s  %-9s  %5d  %4d  %s\n",
			st.RunID,
			st.StartedAt.Local().Format("2006-01-02 15:04:05"),
			st.State,
			r.URLsVisited,
			st.PDFsFound,
			st.SeedURL,
		)
	}
	fmt.Fprintln(out, "\nUse 'pdfcrawl history <id>' to see the PDFs of a run.")
	return nil
}

// showRun writes the report of one recorded run.
func showRun(ctx context.Context, db *database.CrawlDB, cfg *config.Config, runID string, out io.Writer) error {
	status, results, err := db.GetResults(ctx, runID)
	if err != nil {
		return err
	}
	if status == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	return outputReport(cfg, *status, *results, out)
}

// deleteRun removes a run and its records.
func deleteRun(ctx context.Context, db *database.CrawlDB, runID string, out io.Writer) error {
	sum, err := db.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if sum == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	if err := db.DeleteRun(ctx, runID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted run %s (%s)\n", runID, sum.Status.SeedURL)
	return nil
}

// listByChecksum prints every stored PDF whose bytes hashed to checksum.
func listByChecksum(ctx context.Context, db *database.CrawlDB, checksum string, out io.Writer) error {
	recs, err := db.FindByChecksum(ctx, strings.ToLower(checksum))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(out, "No downloaded PDF has checksum %s\n", checksum)
		return nil
	}
	fmt.Fprintf(out, "PDFs with checksum %s (%d):\n\n", checksum, len(recs))
	for _, rec := range recs {
		fmt.Fprintf(out, "  %s\n    found on %s\n    stored at %s\n", rec.URL, orDash(rec.SourceURL), orDash(rec.LocalPath))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
