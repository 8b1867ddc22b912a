package util

import (
	"os"
	"strings"
	"unicode"
)

// NormalizeField trims whitespace and collapses internal runs of spaces.
// Applied to GPO letter address fields before validation so that padded
// form input does not fail required-field checks.
func NormalizeField(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// NormalizeZip strips everything except digits and the plus-four hyphen.
func NormalizeZip(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GetEnv is used by clients that look up optional override paths.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
