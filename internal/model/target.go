package model

import "time"

// Target is one unit of crawl work: a page URL and its link distance from the seed.
type Target struct {
	URL   string
	Depth int
}

// EventKind identifies what changed in a run.
type EventKind string

const (
	// EventStatus carries a new status snapshot.
	EventStatus EventKind = "status"

	// EventPDFFound carries a newly created record.
	EventPDFFound EventKind = "pdf_found"

	// EventPDFUpdated carries a record whose download state changed.
	EventPDFUpdated EventKind = "pdf_updated"
)

// Event is published to sinks whenever run state changes.
// Exactly one of Status and Record is set, depending on Kind.
type Event struct {
	Kind   EventKind    `json:"kind"`
	RunID  string       `json:"run_id"`
	Time   time.Time    `json:"time"`
	Status *CrawlStatus `json:"status,omitempty"`
	Record *PDFRecord   `json:"record,omitempty"`
}
