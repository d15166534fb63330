// Package crawler implements the PDF crawl engine.
//
// # Architecture
//
// A Controller owns the run lifecycle. Each Start creates a Run with its own
// state (visited set, PDF records, status counters) and drives a Spider on a
// separate goroutine, so status and result queries never wait on the crawl.
//
// The Spider walks the site breadth-first in batches of at most MaxWorkers
// pages. For every page it:
//
//  1. fetches and parses the HTML (Fetcher, Parser)
//  2. runs the cheap PDF prefilter on every link and embedded resource (LooksLikePDF)
//  3. confirms candidates with a HEAD probe (Verifier)
//  4. downloads confirmed PDFs right away when auto-download is on
//  5. returns same-domain links (InScope) for the next batch
//
// Design decision: we implement our own crawler rather than using a
// third-party framework because the run state must be observable mid-run and
// stoppable between batches, and PDF links are harvested rather than crawled.
//
// # Scope
//
// The scope domain is the seed host without a leading "www.". Subdomains are
// in scope. PDFs linked from in-scope pages are recorded wherever they are
// hosted unless WithScopedPDFs is set.
//
// # Stopping
//
// Stop is cooperative: it marks the run as no longer running, no new batch or
// download starts, and pages already dispatched are allowed to finish.
// Cancelling the controller's base context also aborts in-flight requests.
//
// # Usage
//
//	ctrl := crawler.NewController(
//		crawler.NewFetcher(client),
//		crawler.NewVerifier(client),
//		download.New(client),
//	)
//	run, err := ctrl.Start(ctx, crawler.StartOptions{SeedURL: "example.com", MaxDepth: 2})
//	status := run.Wait()
package crawler
