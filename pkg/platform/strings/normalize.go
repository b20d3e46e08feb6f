// Package strings provides string normalization utilities shared by the
// extraction and validation code.
package strings

import (
	"strings"
	"unicode"
)

// NormalizeName upper-cases a person name and collapses every run of
// non-letter characters (including MRZ filler '<') into a single space.
//
// Example:
//
//	NormalizeName("  o'Brien<<JANE  ann ")
//	// Returns: "O BRIEN JANE ANN"
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	space := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		space = true
	}
	return b.String()
}

// NormalizeIdentifier strips everything but letters and digits and
// upper-cases the result. Used for document numbers.
func NormalizeIdentifier(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// SameName reports whether two names contain the same set of tokens,
// ignoring order, case and punctuation. Surname-first MRZ names and
// given-name-first printed names therefore compare equal.
func SameName(a, b string) bool {
	ta := strings.Fields(NormalizeName(a))
	tb := strings.Fields(NormalizeName(b))
	if len(ta) == 0 || len(tb) == 0 || len(ta) != len(tb) {
		return false
	}
	seen := make(map[string]int, len(ta))
	for _, t := range ta {
		seen[t]++
	}
	for _, t := range tb {
		if seen[t] == 0 {
			return false
		}
		seen[t]--
	}
	return true
}
