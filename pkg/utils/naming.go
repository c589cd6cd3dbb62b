package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var nonPrefixChars = regexp.MustCompile(`[^a-z0-9_]+`)

// FilePrefix derives the artifact file prefix for a topic: lowercased, with
// every run of characters outside [a-z0-9_] replaced by a single underscore.
//
//	FilePrefix("Pythagorean Theorem!") == "pythagorean_theorem_"
func FilePrefix(topic string) string {
	return nonPrefixChars.ReplaceAllString(strings.ToLower(topic), "_")
}

// TruncateRunes returns at most n runes of s.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Truncate returns at most n bytes of s without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
