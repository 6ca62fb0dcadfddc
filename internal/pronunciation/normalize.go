package pronunciation

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// strippedPunctuation is the fixed set of characters removed before
// comparison. Anything outside it, diacritics and tone marks included, is kept.
const strippedPunctuation = "*_/.,!?()[]{}\"'`~"

// Normalize canonicalises text for comparison: lower-case, NFC composition,
// removal of [strippedPunctuation], and whitespace collapsed to single spaces
// with no leading or trailing space.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := norm.NFC.String(strings.ToLower(text))

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case strings.ContainsRune(strippedPunctuation, r):
			continue
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	// Stripping can leave a combining mark next to a base letter it was
	// separated from ("e*\u0301"); recompose so a second pass is a no-op.
	return norm.NFC.String(b.String())
}
