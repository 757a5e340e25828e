package tgui

import "unicode/utf8"

// TruncRunes returns s cut to at most n runes, with suffix appended when cut.
// The suffix counts toward n.
func TruncRunes(s string, n int, suffix string) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	keep := n - utf8.RuneCountInString(suffix)
	if keep <= 0 {
		return string([]rune(suffix)[:n])
	}
	return string([]rune(s)[:keep]) + suffix
}
