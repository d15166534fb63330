package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/pdfcrawl/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Report is the input of every writer: the final status and results of
// one run.
type Report struct {
	// Version is the pdfcrawl version that produced the report.
	Version string `json:"version"`

	// GeneratedAt is when the report was rendered.
	GeneratedAt time.Time `json:"generated_at"`

	// Status is the final status of the run.
	Status model.CrawlStatus `json:"status"`

	// Results holds every PDF record of the run.
	Results model.Results `json:"results"`
}

// New creates a Report for the given run.
func New(status model.CrawlStatus, results model.Results, version string) *Report {
	if results.PDFs == nil {
		results.PDFs = []model.PDFRecord{}
	}
	return &Report{
		Version:     version,
		GeneratedAt: time.Now(),
		Status:      status,
		Results:     results,
	}
}

// Writer defines the interface for report output.
type Writer interface {
	// Write outputs the report to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(report *Report) (int, error)
}

// MultiWriter writes to multiple Writers in order.
//
// Design decision: Our Writer writes reports, not bytes, so io.MultiWriter
// does not fit.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(report *Report) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

var titleCaser = cases.Title(language.English)

// statusLabel returns a display label such as "Already Exists".
func statusLabel(s model.PDFStatus) string {
	return titleCaser.String(strings.ReplaceAll(string(s), "_", " "))
}

// stateLabel returns a display label for a run state.
func stateLabel(s model.CrawlState) string {
	return titleCaser.String(string(s))
}

// humanSize formats a byte count, or "unknown" for a missing size.
func humanSize(size *int64) string {
	if size == nil {
		return "unknown"
	}
	return formatBytes(*size)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// orDash returns s, or "-" when s is empty.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// metadataKeys returns the keys of meta in sorted order.
func metadataKeys(meta map[string]string) []string {
	return slices.Sorted(maps.Keys(meta))
}
