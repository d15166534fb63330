package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/pdfcrawl/internal/model"
)

// SimpleWriter outputs human-readable text reports for terminal display.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors so the output can be piped to files or other tools.
type SimpleWriter struct {
	baseWriter

	// showEmpty prints status lines with a zero count.
	showEmpty bool

	// verbose adds checksum, local path and metadata to every record.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *Report) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeSummary(&sb, report)
	w.writePDFs(&sb, report)
	w.writeFooter(&sb, report)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *Report) {
	st := report.Status

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         PDFCRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Seed URL:       %s\n", st.SeedURL)
	if st.RunID != "" {
		fmt.Fprintf(sb, "Run ID:         %s\n", st.RunID)
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(sb, "Started:        %s\n", st.StartedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(sb, "Duration:       %s\n", st.Duration().Round(100*time.Millisecond))
	}
	fmt.Fprintf(sb, "Max Depth:      %d (reached %d)\n", st.MaxDepth, st.CurrentDepth)
	fmt.Fprintf(sb, "URLs Visited:   %d\n", report.Results.TotalURLsVisited)

	if st.Error != "" {
		fmt.Fprintf(sb, "Status:         %s - %s\n", strings.ToUpper(string(st.State)), st.Error)
	} else {
		fmt.Fprintf(sb, "Status:         %s\n", stateLabel(st.State))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *Report) {
	sb.WriteString("PDF SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 40))
	sb.WriteString("\n")

	counts := report.Results.CountByStatus()
	for _, s := range model.AllPDFStatuses {
		if counts[s] == 0 && !w.showEmpty {
			continue
		}
		fmt.Fprintf(sb, "  %-16s %d\n", statusLabel(s)+":", counts[s])
	}
	fmt.Fprintf(sb, "  %-16s %d\n", "Total:", len(report.Results.PDFs))
	if total := report.Results.TotalSize(); total > 0 {
		fmt.Fprintf(sb, "  %-16s %s\n", "Known Size:", formatBytes(total))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writePDFs(sb *strings.Builder, report *Report) {
	if len(report.Results.PDFs) == 0 {
		if w.showEmpty {
			sb.WriteString("No PDFs found.\n\n")
		}
		return
	}

	sb.WriteString("PDFS\n")
	sb.WriteString(strings.Repeat("-", 40))
	sb.WriteString("\n")

	for i, rec := range report.Results.PDFs {
		fmt.Fprintf(sb, "%3d. [%s] %s\n", i+1, statusLabel(rec.Status), rec.Filename)
		fmt.Fprintf(sb, "     URL:    %s\n", rec.URL)
		fmt.Fprintf(sb, "     Found:  %s\n", rec.SourceURL)
		fmt.Fprintf(sb, "     Size:   %s\n", humanSize(rec.Size))
		if rec.Error != "" {
			fmt.Fprintf(sb, "     Error:  %s\n", rec.Error)
		}
		if w.verbose {
			if rec.LocalPath != "" {
				fmt.Fprintf(sb, "     Path:   %s\n", rec.LocalPath)
			}
			if rec.Checksum != "" {
				fmt.Fprintf(sb, "     SHA3:   %s\n", rec.Checksum)
			}
			if title := rec.Metadata["title"]; title != "" {
				fmt.Fprintf(sb, "     Title:  %s\n", title)
			}
			if author := rec.Metadata["author"]; author != "" {
				fmt.Fprintf(sb, "     Author: %s\n", author)
			}
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder, report *Report) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	if report.Version != "" {
		fmt.Fprintf(sb, "Generated by pdfcrawl %s\n", report.Version)
	}
}
