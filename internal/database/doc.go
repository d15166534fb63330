// Package database provides SQLite-based storage for crawl history.
//
// The CrawlDB stores:
//   - One row per finished run with its final status
//   - Every PDF record of a run with its final download state
//
// Design decision: We use SQLite (via modernc.org/sqlite) because the
// history is a single local file and the driver is CGO-free, which keeps
// cross-compilation simple. WAL mode lets `pdfcrawl history` read while a
// crawl is writing.
package database
