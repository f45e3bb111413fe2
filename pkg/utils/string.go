package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ShortIDLength is how many characters of an identifier stand in for a
// display name.
const ShortIDLength = 8

// ShortID returns the identifier prefix used as a default display name.
func ShortID(id string) string {
	if utf8.RuneCountInString(id) <= ShortIDLength {
		return id
	}
	return string([]rune(id)[:ShortIDLength])
}

// SanitizeString drops control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString truncates s to maxLen runes.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// FirstInitial returns the upper-cased first rune of s, or "" when empty.
func FirstInitial(s string) string {
	for _, r := range strings.TrimSpace(s) {
		return strings.ToUpper(string(r))
	}
	return ""
}
