package report

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	pdfSheet     = "PDFs"
)

// pdfColumns are the header cells of the PDFs sheet.
var pdfColumns = []string{
	"Filename", "URL", "Source Page", "Status", "Content Type",
	"Size (bytes)", "Local Path", "Checksum (SHA3-256)", "Title", "Author", "Error",
}

// XLSXWriter outputs reports as an Excel workbook with a Summary sheet and
// a PDFs sheet holding one row per record.
type XLSXWriter struct {
	baseWriter
}

// NewXLSXWriter creates an XLSXWriter that outputs to the given writer.
func NewXLSXWriter(output io.Writer) *XLSXWriter {
	return &XLSXWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report as an XLSX workbook.
func (w *XLSXWriter) Write(report *Report) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return 0, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(pdfSheet); err != nil {
		return 0, fmt.Errorf("failed to create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("failed to create style: %w", err)
	}

	if err := writeSummarySheet(f, report, bold); err != nil {
		return 0, err
	}
	if err := writePDFSheet(f, report, bold); err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w.output}
	if err := f.Write(cw); err != nil {
		return cw.n, fmt.Errorf("failed to write workbook: %w", err)
	}
	return cw.n, nil
}

func writeSummarySheet(f *excelize.File, report *Report, bold int) error {
	st := report.Status
	rows := [][]any{
		{"Seed URL", st.SeedURL},
		{"Run ID", st.RunID},
		{"State", stateLabel(st.State)},
		{"Error", st.Error},
		{"Max Depth", st.MaxDepth},
		{"Depth Reached", st.CurrentDepth},
		{"URLs Visited", report.Results.TotalURLsVisited},
		{"PDFs", len(report.Results.PDFs)},
	}
	if !st.StartedAt.IsZero() {
		rows = append(rows, []any{"Started", st.StartedAt.Format("2006-01-02 15:04:05 MST")})
	}
	if !st.FinishedAt.IsZero() {
		rows = append(rows, []any{"Finished", st.FinishedAt.Format("2006-01-02 15:04:05 MST")})
	}
	rows = append(rows, []any{})

	counts := report.Results.CountByStatus()
	for _, s := range model.AllPDFStatuses {
		rows = append(rows, []any{statusLabel(s), counts[s]})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	last, err := excelize.CoordinatesToCellName(1, len(rows))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", last, bold); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "A", 18)
}

func writePDFSheet(f *excelize.File, report *Report, bold int) error {
	header := make([]any, len(pdfColumns))
	for i, c := range pdfColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(pdfSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(pdfColumns))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(pdfSheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, rec := range report.Results.PDFs {
		var size any = ""
		if rec.Size != nil {
			size = *rec.Size
		}
		row := []any{
			rec.Filename,
			rec.URL,
			rec.SourceURL,
			string(rec.Status),
			rec.ContentType,
			size,
			rec.LocalPath,
			rec.Checksum,
			rec.Metadata["title"],
			rec.Metadata["author"],
			rec.Error,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(pdfSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", rec.URL, err)
		}
	}

	if n := len(report.Results.PDFs); n > 0 {
		ref := fmt.Sprintf("A1:%s%d", lastCol, n+1)
		if err := f.AutoFilter(pdfSheet, ref, nil); err != nil {
			return fmt.Errorf("failed to add filter: %w", err)
		}
	}

	widths := map[string]float64{"A": 30, "B": 60, "C": 50, "D": 16, "G": 40, "H": 66}
	for _, col := range slices.Sorted(maps.Keys(widths)) {
		if err := f.SetColWidth(pdfSheet, col, col, widths[col]); err != nil {
			return err
		}
	}
	return nil
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
