package download

import "errors"

// Download errors.
// They are wrapped into the error message of a download_failed record and
// returned by Fetch.
var (
	// ErrDownloadFailed is returned when a PDF could not be stored locally.
	ErrDownloadFailed = errors.New("download failed")

	// ErrUnexpectedStatus is returned when the server answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")

	// ErrFileExists is returned by Fetch when the target file already exists.
	ErrFileExists = errors.New("file already exists")
)
