package util

import (
	"encoding/base64"
	"strings"
)

// StripDataURL returns the raw base64 payload of a data URL. Plain base64
// strings pass through untouched.
func StripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// DataURL wraps raw bytes as a base64 data URL with the given content type
func DataURL(contentType string, data []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(contentType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(contentType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
