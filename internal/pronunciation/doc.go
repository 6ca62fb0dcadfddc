// Package pronunciation implements the text side of pronunciation scoring:
// normalising a learner's transcript and the expected phrase, measuring how
// far apart they are, and deciding whether the attempt passes.
//
// The pipeline is [Normalize] → [EditDistance] → [Similarity] →
// [IsAcceptable]; [Score] runs all of it. Every function is pure and total
// over all strings, including the empty string and strings made only of
// stripped punctuation.
//
// Characters are compared rune by rune. Thai, like every other script in the
// Basic Multilingual Plane, has one rune per UTF-16 code unit, so scores
// match clients that count code units. The comparison is not grapheme-cluster
// aware: a base letter with a combining tone mark counts as two characters.
package pronunciation
