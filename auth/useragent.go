package auth

import "strings"

// ClientMeta is the coarse network identity of a request: included in audit
// events and trusted-device records, never used as a credential.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// BrowserLabel derives a human-readable browser name from a user agent.
// Best effort only; unknown agents get a generic label.
func BrowserLabel(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"):
		return "Edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "Chromium/"):
		return "Chrome"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	case ua == "":
		return "Unknown browser"
	default:
		return "Other"
	}
}

// OSLabel derives a human-readable operating system name from a user agent.
func OSLabel(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iOS"):
		return "iOS"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	case ua == "":
		return "Unknown OS"
	default:
		return "Other"
	}
}
