package crawler

import (
	"net/url"
	"path"
	"strings"
)

// fileServingSegments mark URLs that serve files without a .pdf extension,
// e.g. "/download/123?type=pdf".
var fileServingSegments = []string{"/file/", "/download/", "/api/v1/file/"}

// fallbackFilename is used when a URL has no usable last path segment.
const fallbackFilename = "document"

// LooksLikePDF is a cheap prefilter for PDF candidates. It admits false
// positives; the verifier decides.
func LooksLikePDF(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(lower, ".pdf") {
		return true
	}
	if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}

	if !strings.Contains(lower, "pdf") {
		return false
	}
	for _, seg := range fileServingSegments {
		if strings.Contains(rawURL, seg) {
			return true
		}
	}
	return false
}

// hasPDFSuffix reports whether the URL, or its path, ends in ".pdf".
func hasPDFSuffix(rawURL string) bool {
	if strings.HasSuffix(strings.ToLower(rawURL), ".pdf") {
		return true
	}
	u, err := url.Parse(rawURL)
	return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// FilenameFromURL derives a safe local file name from the last path segment
// of rawURL. The result always ends in ".pdf".
func FilenameFromURL(rawURL string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "." || name == "/" {
		name = ""
	}

	name = sanitizeFilename(name)
	if name == "" || strings.Trim(name, "._") == "" {
		name = fallbackFilename
	}

	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// sanitizeFilename replaces characters that are unsafe in file names.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == '(', r == ')', r == ' ', r == '+':
			b.WriteRune(r)
		case r > 0x7f && r != 0xfffd:
			// Keep non-ASCII letters such as accented or CJK titles.
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.TrimSpace(b.String())
}
