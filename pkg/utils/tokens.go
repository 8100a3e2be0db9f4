package utils

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens approximates the token count of s for chunk sizing. It
// averages a word-based and a character-based estimate so that both spaced
// scripts and CJK text land in a usable range. Deterministic for fixed input.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	runes := utf8.RuneCountInString(s)
	n := (words + runes/4) / 2
	if n < 1 {
		n = 1
	}
	return n
}
