package crawler

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// assetPattern matches URLs of static assets that never contain PDF links.
var assetPattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|svg|ico|css|js|xml|json|txt|zip|rar|exe|dmg)$`)

// Normalize trims whitespace and prepends https:// when the input has no
// http:// or https:// prefix. It is idempotent.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s
	}
	return "https://" + s
}

// BaseDomain returns the scope domain of a normalized seed URL:
// its lower-cased host (with port) without a leading "www.".
func BaseDomain(seed string) (string, error) {
	u, err := url.Parse(seed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSeed, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidSeed, seed)
	}
	return stripWWW(u.Host), nil
}

// InScope reports whether candidate belongs to baseDomain or one of its
// subdomains and is worth fetching as a page. Static assets, links with a
// fragment, and non-http(s) schemes are rejected. Malformed URLs are out of scope.
func InScope(candidate, baseDomain string) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	domain := stripWWW(u.Host)
	base := stripWWW(baseDomain)
	if domain == "" || (domain != base && !strings.HasSuffix(domain, "."+base)) {
		return false
	}

	if strings.Contains(candidate, "#") {
		return false
	}
	lower := strings.ToLower(candidate)
	if strings.Contains(lower, "mailto:") || strings.Contains(lower, "tel:") {
		return false
	}
	return !assetPattern.MatchString(candidate)
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// visitKey normalizes a URL for deduplication.
// The fragment is dropped, scheme and host are lower-cased, and an empty
// path is treated as "/".
func visitKey(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// shouldCrawl checks a page URL against ignore and follow patterns.
//
// Logic:
//  1. If the path matches any ignore pattern, skip it
//  2. If follow patterns are set and the path matches none, skip it
//  3. Otherwise, crawl it
func shouldCrawl(targetURL string, ignore, follow []string) bool {
	if len(ignore) == 0 && len(follow) == 0 {
		return true
	}

	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range ignore {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(follow) == 0 {
		return true
	}
	for _, pattern := range follow {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern checks if a path matches a glob pattern.
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard" and "/admin/users/1"
//   - "*.php" matches "/index.php"
//   - "/docs/v?" matches "/docs/v1"
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}

	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}

	return false
}
