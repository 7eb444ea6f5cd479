// Package utils holds small helpers shared across packages.
package utils

// Truncate shortens s to at most maxLen bytes and marks the cut with an
// ellipsis. Snippets served to clients go through this so a long OCR chunk
// never dominates a response. A maxLen of zero or less disables the cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
