// Package model defines the core data structures used throughout pdfcrawl.
//
// This package contains the following main types:
//   - Target: a URL and its link depth in the frontier
//   - PDFRecord: a discovered PDF document and its download state
//   - CrawlStatus: a snapshot of a crawl run
//   - Results: the PDFs and visited count of a run
//   - Event: a status or record change published to sinks
//
// Design decision: models live in their own package so crawler, download,
// database, report and sink can share them without import cycles.
package model
