package pronunciation

import "unicode/utf8"

// AcceptThreshold is the minimum similarity for an attempt to pass. It is a
// fixed policy constant; callers that need a different bar compare the
// returned score themselves.
const AcceptThreshold = 0.8

// Similarity converts the edit distance between a and b into a score in
// [0, 1], relative to the longer string. Two empty strings are identical
// (1.0); exactly one empty string scores 0.0.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	switch {
	case la == 0 && lb == 0:
		return 1
	case la == 0 || lb == 0:
		return 0
	}
	return similarityFromDistance(EditDistance(a, b), max(la, lb))
}

func similarityFromDistance(distance, maxLen int) float64 {
	s := 1 - float64(distance)/float64(maxLen)
	return min(max(s, 0), 1)
}

// IsAcceptable reports whether score reaches [AcceptThreshold].
func IsAcceptable(score float64) bool {
	return score >= AcceptThreshold
}

// Result is the outcome of scoring one transcript against its expected text.
type Result struct {
	Transcript           string
	ExpectedText         string
	NormalizedTranscript string
	NormalizedExpected   string

	// Distance is the edit distance between the normalised strings.
	Distance int

	// Similarity is in [0, 1]; 1 means the normalised strings are identical.
	Similarity float64

	// Acceptable is IsAcceptable(Similarity).
	Acceptable bool
}

// Score normalises transcript and expected, then computes their distance,
// similarity and verdict.
func Score(transcript, expected string) Result {
	nt, ne := Normalize(transcript), Normalize(expected)
	lt, le := utf8.RuneCountInString(nt), utf8.RuneCountInString(ne)

	r := Result{
		Transcript:           transcript,
		ExpectedText:         expected,
		NormalizedTranscript: nt,
		NormalizedExpected:   ne,
		Distance:             EditDistance(nt, ne),
	}
	switch {
	case lt == 0 && le == 0:
		r.Similarity = 1
	case lt == 0 || le == 0:
		r.Similarity = 0
	default:
		r.Similarity = similarityFromDistance(r.Distance, max(lt, le))
	}
	r.Acceptable = IsAcceptable(r.Similarity)
	return r
}
