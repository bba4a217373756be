// Package fuzzy scores how alike two strings are when exact matching fails.
package fuzzy

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Distance is the Levenshtein edit distance between the case-folded inputs,
// counted in runes.
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(strings.ToLower(a), strings.ToLower(b))
}

// Ratio normalizes Distance into [0,1]: 1 for identical strings, 0 when every
// rune of the longer string has to be edited.
func Ratio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b), 1)
	ratio := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
	if ratio < 0 {
		return 0
	}
	return ratio
}
