// Package strutil holds small string helpers shared by the logging paths.
package strutil

import "unicode/utf8"

// Truncate returns the first maxLen bytes of s, or s itself if shorter.
// The cut never splits a UTF-8 sequence, so the result may be a few bytes
// shorter than maxLen.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
