package util

import (
	"os"
	"strings"
)

// IsVerbose checks if CCRELAY_VERBOSE environment variable is set.
// Accepts: "1", "true", "yes" (case-insensitive)
func IsVerbose() bool {
	switch strings.ToLower(os.Getenv("CCRELAY_VERBOSE")) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
