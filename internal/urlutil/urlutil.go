// Package urlutil normalizes and sanitizes camera source URLs.
package urlutil

import (
	"net/url"
	"strings"
)

// Normalize prepares a configured source URL for dialing:
//   - trims surrounding whitespace
//   - adds an http:// scheme when none is present (phone camera apps print
//     bare host:port addresses)
//   - removes a trailing slash
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return strings.TrimSuffix(raw, "/")
}

// Display renders a source URL for UIs and API responses: credentials are
// stripped and a trailing /video path segment is dropped, since every
// DroidCam-style URL ends with it and it is noise to a viewer.
func Display(raw string) string {
	raw = strings.TrimSuffix(raw, "/video")
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

// Redact masks the password in a URL's userinfo so the URL is safe to log.
// URLs without credentials pass through unchanged.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
