// Package report renders the outcome of a crawl run.
//
// This package contains writers for different output formats:
//   - SimpleWriter: Human-readable text output for terminal display
//   - JSONWriter: Structured JSON output for tool integration
//   - MarkdownWriter: Markdown with a status pie chart for sharing
//   - XLSXWriter: A spreadsheet with a summary and one row per PDF
//
// Design decision: The Report type wraps the model types rather than adding
// output concerns to them, so new formats never touch the crawler.
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably and composed for multi-format output.
package report
