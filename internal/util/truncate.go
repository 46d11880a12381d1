package util

import "fmt"

// DefaultLogMaxLen bounds body excerpts in verbose log lines. The full
// payload is always available from the request-log store, so a log line only
// needs enough of it to recognize the request.
const DefaultLogMaxLen = 1024

// TruncateLog cuts s down to maxLen bytes and marks the cut with the
// original size.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return fmt.Sprintf("%s... [truncated, %d bytes total]", s[:maxLen], len(s))
}

// TruncateBytes renders a body excerpt for a verbose log line.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
