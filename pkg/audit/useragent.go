package audit

import "strings"

const (
	UnknownValue = "Unknown"
	OtherValue   = "Other"
)

// DeviceInfo is the classification of a raw User-Agent header
type DeviceInfo struct {
	DeviceType     string `json:"deviceType"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os"`
	OSVersion      string `json:"osVersion,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
}

var windowsVersions = []struct {
	token string
	name  string
}{
	{"Windows NT 10.0", "Windows 10/11"},
	{"Windows NT 6.3", "Windows 8.1"},
	{"Windows NT 6.2", "Windows 8"},
	{"Windows NT 6.1", "Windows 7"},
}

// ParseUserAgent classifies a User-Agent string. Every classification field
// is set: an empty header yields UnknownValue, unrecognised input OtherValue.
func ParseUserAgent(userAgent string) DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return DeviceInfo{
			DeviceType: UnknownValue,
			Browser:    UnknownValue,
			OS:         UnknownValue,
		}
	}

	return DeviceInfo{
		DeviceType:     deviceType(userAgent),
		Browser:        browser(userAgent),
		BrowserVersion: browserVersion(userAgent),
		OS:             operatingSystem(userAgent),
		OSVersion:      osVersion(userAgent),
		UserAgent:      userAgent,
	}
}

func deviceType(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad"):
		return "Tablet"
	case strings.Contains(lower, "mobile"):
		return "Mobile"
	default:
		return "Desktop"
	}
}

// Edge carries a Chrome token and Chrome carries a Safari token, so the
// first match wins.
func browser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/") || strings.Contains(ua, "Edge/"):
		return "Edge"
	case strings.Contains(ua, "Chrome/"):
		return "Chrome"
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Safari/") && !strings.Contains(ua, "Chrome"):
		return "Safari"
	case strings.Contains(ua, "OPR/") || strings.Contains(ua, "Opera/"):
		return "Opera"
	default:
		return OtherValue
	}
}

func browserVersion(ua string) string {
	for _, token := range []string{"Edg/", "Edge/", "Chrome/", "Firefox/", "Version/"} {
		if strings.Contains(ua, token) {
			return versionAfter(ua, token)
		}
	}
	return ""
}

// iOS agents say "like Mac OS X" and Android agents say "Linux", so the
// mobile systems are matched first.
func operatingSystem(ua string) string {
	for _, v := range windowsVersions {
		if strings.Contains(ua, v.token) {
			return v.name
		}
	}
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Mac OS X"):
		return "macOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return OtherValue
	}
}

func osVersion(ua string) string {
	switch {
	case strings.Contains(ua, "iPhone OS "):
		return strings.ReplaceAll(between(ua, "iPhone OS ", " like"), "_", ".")
	case strings.Contains(ua, "CPU OS "):
		return strings.ReplaceAll(between(ua, "CPU OS ", " like"), "_", ".")
	case strings.Contains(ua, "Android "):
		return between(ua, "Android ", ";")
	case strings.Contains(ua, "Mac OS X "):
		v := between(ua, "Mac OS X ", ")")
		if i := strings.Index(v, ";"); i >= 0 {
			v = strings.TrimSpace(v[:i])
		}
		return strings.ReplaceAll(v, "_", ".")
	}
	return ""
}

// versionAfter returns the text following token up to the next space or ')'
func versionAfter(ua, token string) string {
	start := strings.Index(ua, token)
	if start < 0 {
		return ""
	}
	rest := ua[start+len(token):]
	if end := strings.IndexAny(rest, " )"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// between returns the trimmed text between start and the next end marker
func between(ua, start, end string) string {
	i := strings.Index(ua, start)
	if i < 0 {
		return ""
	}
	rest := ua[i+len(start):]
	j := strings.Index(rest, end)
	if j <= 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}
