package source

import "strings"

// ErrorCategory classifies pipeline errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryNetwork covers connection, timeout and DNS failures.
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec covers decode and caps negotiation failures.
	ErrCategoryCodec
	// ErrCategoryAuth covers authentication failures.
	ErrCategoryAuth
	// ErrCategoryDevice covers missing or busy capture devices.
	ErrCategoryDevice
	// ErrCategoryUnknown is everything else.
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryDevice:
		return "device"
	default:
		return "unknown"
	}
}

var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	// Most specific first.
	{ErrCategoryAuth, []string{"unauthorized", "401", "403", "forbidden", "authentication", "credentials", "password"}},
	{ErrCategoryDevice, []string{"/dev/video", "v4l2", "device is busy", "resource busy", "cannot identify device", "permission denied"}},
	{ErrCategoryCodec, []string{"codec", "decode", "format", "negotiation", "caps", "h264", "h265", "jpeg", "not negotiated", "no decoder", "missing plugin"}},
	{ErrCategoryNetwork, []string{"connection", "timeout", "unreachable", "network", "dns", "resolve", "socket", "tcp", "udp", "rtsp", "not found", "could not connect"}},
}

// ClassifyError categorizes a GStreamer error from its message and debug string.
// GStreamer errors carry no stable domain codes through go-gst, so this
// matches on keywords.
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(combined, kw) {
				return c.category
			}
		}
	}
	return ErrCategoryUnknown
}
