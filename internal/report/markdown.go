package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/pdfcrawl/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation, including tables, GitHub alerts and a mermaid pie chart.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writePDFs(md, report)
	w.writeFooter(md, report)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *Report) {
	st := report.Status

	md.H1("pdfcrawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Seed URL", "`" + st.SeedURL + "`"},
		{"Run ID", orDash(st.RunID)},
		{"Max Depth", strconv.Itoa(st.MaxDepth)},
		{"Depth Reached", strconv.Itoa(st.CurrentDepth)},
		{"URLs Visited", strconv.Itoa(report.Results.TotalURLsVisited)},
		{"Status", w.getStatusText(st)},
	}
	if !st.StartedAt.IsZero() {
		rows = append(rows, []string{"Started", st.StartedAt.Format("2006-01-02 15:04:05 MST")})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) getStatusText(st model.CrawlStatus) string {
	switch st.State {
	case model.StateErrored:
		return "❌ Errored - " + st.Error
	case model.StateStopped:
		return "⏹️ Stopped (partial results)"
	case model.StateCompleted:
		return "✅ Completed"
	default:
		return stateLabel(st.State)
	}
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *Report) {
	md.H2("PDF Summary")
	md.PlainText("")

	counts := report.Results.CountByStatus()
	rows := make([][]string, 0, len(model.AllPDFStatuses)+1)
	for _, s := range model.AllPDFStatuses {
		rows = append(rows, []string{statusLabel(s), strconv.Itoa(counts[s])})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(len(report.Results.PDFs)) + "**"})

	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(report.Results.PDFs) > 0 {
		w.writePieChart(md, counts)
	}
	w.writeAlert(md, report, counts)
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[model.PDFStatus]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("PDF Status Distribution"),
		piechart.WithShowData(true),
	)
	for _, s := range model.AllPDFStatuses {
		if counts[s] > 0 {
			chart.LabelAndIntValue(statusLabel(s), uint64(counts[s]))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *Report, counts map[model.PDFStatus]int) {
	switch {
	case report.Status.State == model.StateErrored:
		md.Cautionf("The run failed: %s", report.Status.Error)
	case counts[model.StatusDownloadFailed] > 0:
		md.Warningf("%d download(s) failed. See the error column below.", counts[model.StatusDownloadFailed])
	case counts[model.StatusUnverified] > 0:
		md.Importantf("%d PDF(s) could not be verified and may not be PDFs.", counts[model.StatusUnverified])
	case len(report.Results.PDFs) == 0:
		md.Note("No PDFs were found.")
	default:
		md.Tip("All discovered PDFs were verified.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writePDFs(md *markdown.Markdown, report *Report) {
	md.H2("PDFs")
	md.PlainText("")

	if len(report.Results.PDFs) == 0 {
		md.PlainText("No PDFs found.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Results.PDFs))
	for i, rec := range report.Results.PDFs {
		rows[i] = []string{
			"[" + rec.Filename + "](" + rec.URL + ")",
			statusLabel(rec.Status),
			humanSize(rec.Size),
			truncateString(rec.SourceURL, 50),
			truncateString(orDash(rec.Error), 60),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"File", "Status", "Size", "Found On", "Error"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, rec := range report.Results.PDFs {
		if len(rec.Metadata) == 0 {
			continue
		}
		items := make([]string, 0, len(rec.Metadata))
		for _, key := range metadataKeys(rec.Metadata) {
			items = append(items, "- "+key+": "+rec.Metadata[key])
		}
		md.Details(rec.Filename, "\n"+strings.Join(items, "\n")+"\n")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, report *Report) {
	md.HorizontalRule()
	md.PlainText("")
	if report.Version != "" {
		md.PlainTextf("*Report generated by [pdfcrawl](https://github.com/nao1215/pdfcrawl) %s*", report.Version)
		return
	}
	md.PlainText("*Report generated by [pdfcrawl](https://github.com/nao1215/pdfcrawl)*")
}
