package bridge

import "strings"

// BrowserType identifies a browser family. Each family holds at most one
// live connection in the hub.
type BrowserType string

const (
	BrowserUnknown BrowserType = "unknown"
	BrowserFirefox BrowserType = "firefox"
	BrowserChrome  BrowserType = "chrome"
	BrowserSafari  BrowserType = "safari"
	BrowserEdge    BrowserType = "edge"
)

// KnownBrowserTypes lists every family the hub can key a connection by.
var KnownBrowserTypes = []BrowserType{
	BrowserFirefox, BrowserChrome, BrowserSafari, BrowserEdge, BrowserUnknown,
}

// DetectBrowserType normalizes the identity string an extension declares
// (a product name or a full user-agent) to a browser family. Chromium-based
// Edge reports both "Chrome" and "Edg/" in its UA, so the Edge check has to
// win over the Chrome one, and desktop Chrome UAs carry "Safari" as well, so
// Safari only matches when Chrome is absent.
func DetectBrowserType(identity string) BrowserType {
	id := strings.ToLower(identity)
	isEdge := strings.Contains(id, "edge") || strings.Contains(id, "edg/")
	switch {
	case strings.Contains(id, "firefox"):
		return BrowserFirefox
	case strings.Contains(id, "chrome") && !isEdge:
		return BrowserChrome
	case strings.Contains(id, "safari") && !strings.Contains(id, "chrome"):
		return BrowserSafari
	case isEdge:
		return BrowserEdge
	}
	return BrowserUnknown
}

// ParseBrowserType maps an explicit routing target supplied by an HTTP
// caller to a family key. It only accepts exact family names; free-form
// identity strings go through DetectBrowserType on the identify path.
func ParseBrowserType(s string) (BrowserType, bool) {
	t := BrowserType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownBrowserTypes {
		if t == known {
			return t, true
		}
	}
	return BrowserUnknown, false
}
