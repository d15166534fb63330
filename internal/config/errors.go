package config

import "errors"

// Configuration validation errors returned by Config.Validate.
//
// Design decision: package-level sentinels so callers can use errors.Is()
// while the messages stay readable on the command line.
var (
	// ErrNoSeedURL is returned when no seed URL was given.
	ErrNoSeedURL = errors.New("no seed URL specified")

	// ErrInvalidMaxDepth is returned when the maximum depth is negative.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be non-negative")

	// ErrInvalidMaxWorkers is returned when the worker count is not positive.
	ErrInvalidMaxWorkers = errors.New("invalid max workers: must be positive")

	// ErrInvalidTimeout is returned when any of the request timeouts is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrConflictingReportFormats is returned when more than one of
	// --json, --markdown and --xlsx is specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json, --markdown and --xlsx cannot be used together")

	// ErrXLSXNeedsFile is returned when --xlsx is used without --output.
	ErrXLSXNeedsFile = errors.New("xlsx report requires an output file: use --output")

	// ErrInvalidRequestRate is returned when the request rate is negative.
	ErrInvalidRequestRate = errors.New("invalid request rate: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrNoDownloadDir is returned when auto-download is enabled without a directory.
	ErrNoDownloadDir = errors.New("auto-download requires a download directory")
)
