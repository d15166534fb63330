package model

import (
	"net/url"
	"time"
)

// PDFStatus is the lifecycle state of a discovered PDF.
//
// Design decision: string constants rather than iota so the value is stored
// in SQLite, written to JSON and sent over Kafka without a conversion table.
type PDFStatus string

const (
	// StatusFound means a HEAD probe confirmed the URL serves a PDF.
	StatusFound PDFStatus = "found"

	// StatusUnverified means the URL looks like a PDF but the probe failed.
	StatusUnverified PDFStatus = "unverified"

	// StatusDownloaded means the file was written to the download directory.
	StatusDownloaded PDFStatus = "downloaded"

	// StatusAlreadyExists means a file with the same name was already present.
	StatusAlreadyExists PDFStatus = "already_exists"

	// StatusDownloadFailed means the download was attempted and failed.
	StatusDownloadFailed PDFStatus = "download_failed"
)

// AllPDFStatuses lists every status in lifecycle order.
var AllPDFStatuses = []PDFStatus{
	StatusFound, StatusUnverified, StatusDownloaded, StatusAlreadyExists, StatusDownloadFailed,
}

// Downloadable reports whether a record in this status is eligible for download.
func (s PDFStatus) Downloadable() bool {
	return s == StatusFound || s == StatusUnverified
}

// Terminal reports whether a download was attempted for this status.
func (s PDFStatus) Terminal() bool {
	return s == StatusDownloaded || s == StatusAlreadyExists || s == StatusDownloadFailed
}

// Valid reports whether s is one of the known statuses.
func (s PDFStatus) Valid() bool {
	for _, known := range AllPDFStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// UnknownContentType is recorded when the probe could not determine a content type.
const UnknownContentType = "unknown"

// PDFRecord describes one discovered PDF document.
// There is at most one record per URL per run.
type PDFRecord struct {
	// URL is the absolute URL of the document.
	URL string `json:"url"`

	// Filename is the file name used when downloading.
	Filename string `json:"filename"`

	// SourceURL is the page the link was found on.
	SourceURL string `json:"source_page"`

	// ContentType is the probed Content-Type, or "unknown".
	ContentType string `json:"content_type"`

	// Size is the probed Content-Length. Nil when unknown.
	Size *int64 `json:"size"`

	// Status is the lifecycle state of the record.
	Status PDFStatus `json:"status"`

	// LocalPath is set once the file exists locally.
	LocalPath string `json:"local_path,omitempty"`

	// Error holds the download error message for download_failed records.
	Error string `json:"error,omitempty"`

	// Checksum is the hex SHA3-256 digest of the downloaded bytes.
	Checksum string `json:"checksum,omitempty"`

	// Metadata holds the PDF document information fields (Title, Author, ...).
	Metadata map[string]string `json:"metadata,omitempty"`

	// FoundAt is when the record was created.
	FoundAt time.Time `json:"found_at"`
}

// SizeOrZero returns the probed size or 0 when unknown.
func (r PDFRecord) SizeOrZero() int64 {
	if r.Size == nil {
		return 0
	}
	return *r.Size
}

// Clone returns a deep copy of the record so snapshots can be handed to
// callers while the run keeps mutating its own copy.
func (r PDFRecord) Clone() PDFRecord {
	out := r
	if r.Size != nil {
		size := *r.Size
		out.Size = &size
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// Results is the output of a crawl run.
type Results struct {
	PDFs             []PDFRecord `json:"pdfs"`
	TotalURLsVisited int         `json:"total_urls_visited"`
}

// CountByStatus returns how many records are in each status.
func (r Results) CountByStatus() map[PDFStatus]int {
	counts := make(map[PDFStatus]int, len(AllPDFStatuses))
	for _, rec := range r.PDFs {
		counts[rec.Status]++
	}
	return counts
}

// TotalSize returns the sum of all known sizes.
func (r Results) TotalSize() int64 {
	var total int64
	for _, rec := range r.PDFs {
		total += rec.SizeOrZero()
	}
	return total
}

// SourcePages returns how many PDFs were found on each source page.
func (r Results) SourcePages() map[string]int {
	pages := make(map[string]int)
	for _, rec := range r.PDFs {
		pages[rec.SourceURL]++
	}
	return pages
}

// Hosts returns the distinct hosts serving PDFs, in first-seen order.
func (r Results) Hosts() []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, rec := range r.PDFs {
		host := hostOf(rec.URL)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		hosts = append(hosts, host)
	}
	return hosts
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
