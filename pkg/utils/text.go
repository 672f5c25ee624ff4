// Package utils provides shared text and logging utilities.
package utils

import "unicode/utf8"

// Truncate shortens s to at most maxLen bytes for log excerpts, appending
// "..." when anything was cut. The cut never splits a multibyte rune, so
// quoted document text stays valid UTF-8. A maxLen of 0 or less returns s
// unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
