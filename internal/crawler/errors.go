package crawler

import "errors"

// Crawl errors.
//
// Design decision: only setup problems stop a run. Page and probe failures
// are contained in the step that hit them, so they are reported through
// logs and record statuses rather than returned.
var (
	// ErrInvalidSeed is returned when a seed URL cannot be used to start a crawl.
	ErrInvalidSeed = errors.New("invalid seed URL")

	// ErrFetchFailed is returned when a page could not be fetched.
	// The crawl treats such a page as a dead end.
	ErrFetchFailed = errors.New("page fetch failed")

	// ErrInvalidDepth is returned when a run is started with a negative max depth.
	ErrInvalidDepth = errors.New("max depth must be >= 0")

	// ErrNoDownloadDir is returned when auto-download is requested without a directory.
	ErrNoDownloadDir = errors.New("auto-download requires a download directory")

	// ErrNoDownloader is returned when a download is requested from a controller
	// that was built without a downloader.
	ErrNoDownloader = errors.New("no downloader configured")

	// ErrNoRun is returned by operations that need a previous or active run.
	ErrNoRun = errors.New("no crawl run has been started")
)
