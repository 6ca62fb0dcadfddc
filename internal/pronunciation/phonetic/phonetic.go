// Package phonetic produces per-word diagnostics for a scored attempt. For
// every word of the expected phrase it finds the closest word the learner
// produced and reports whether the two sound alike.
//
// The hints are diagnostics only and never influence the similarity score
// or the acceptance verdict.
//
// The algorithm proceeds in two stages:
//
//  1. Jaro-Winkler ranking: each expected word is compared against every
//     heard word (case-insensitive) and the highest scoring heard word is
//     kept.
//
//  2. Phonetic check: Double Metaphone codes are computed for both words.
//     Overlapping codes mark the pair as sounding alike. Double Metaphone is
//     only defined for Latin script; words in other scripts are judged by
//     Jaro-Winkler alone.
//
// A heard word is only reported when it passes the phonetic threshold (for
// sound-alike pairs) or the fuzzy threshold (otherwise). Below both, the
// expected word is reported as missed.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Hint describes how one expected word was rendered in the transcript.
type Hint struct {
	// Expected is the word from the target phrase.
	Expected string `json:"expected"`

	// Heard is the closest transcript word, or empty when nothing came
	// close enough.
	Heard string `json:"heard,omitempty"`

	// Similarity is the Jaro-Winkler score of Expected against Heard.
	Similarity float64 `json:"similarity"`

	// SoundsAlike is true when the Double Metaphone codes overlap.
	SoundsAlike bool `json:"sounds_alike"`

	// Exact is true when Heard equals Expected.
	Exact bool `json:"exact"`
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a sound-alike
// pair needs to be reported. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score a pair without
// phonetic overlap needs to be reported. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher computes word hints. It is read-only after construction and safe
// for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Hints returns one [Hint] per whitespace-separated word of expected, in
// order. Both inputs are expected to be normalized already. An empty
// expected phrase yields nil.
func (m *Matcher) Hints(heard, expected string) []Hint {
	expectedWords := strings.Fields(strings.ToLower(expected))
	if len(expectedWords) == 0 {
		return nil
	}
	heardWords := strings.Fields(strings.ToLower(heard))

	hints := make([]Hint, 0, len(expectedWords))
	for _, want := range expectedWords {
		hints = append(hints, m.hint(want, heardWords))
	}
	return hints
}

func (m *Matcher) hint(want string, heardWords []string) Hint {
	h := Hint{Expected: want}
	wantCodes := codesFor(want)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, got := range heardWords {
		if got == want {
			h.Heard, h.Similarity, h.SoundsAlike, h.Exact = got, 1, true, true
			return h
		}
		score := matchr.JaroWinkler(want, got, false)
		phonetic := codesOverlap(wantCodes, codesFor(got))

		// A sound-alike candidate beats any candidate that only looks alike.
		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = got, score, true
			}
		case !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = got, score
		}
	}
	if best != "" {
		h.Heard, h.Similarity, h.SoundsAlike = best, bestScore, bestPhonetic
	}
	return h
}

// codesFor returns the Double Metaphone codes of word, or nil when word is
// not written in Latin script. Empty codes are excluded.
func codesFor(word string) map[string]struct{} {
	if !isLatin(word) {
		return nil
	}
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func isLatin(word string) bool {
	seen := false
	for _, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.Is(unicode.Latin, r) {
			return false
		}
		seen = true
	}
	return seen
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
