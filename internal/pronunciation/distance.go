package pronunciation

import "github.com/antzucaro/matchr"

// EditDistance returns the Levenshtein distance between a and b: the minimum
// number of single-rune insertions, deletions and substitutions that turn a
// into b. Either side empty yields the rune length of the other.
//
// Cost grows with the product of both lengths. Callers bound input length
// (see scoring.Limits.MaxTextRunes).
func EditDistance(a, b string) int {
	return matchr.Levenshtein(a, b)
}
