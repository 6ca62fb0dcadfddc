package pronunciation

import (
	"math"
	"testing"
)

// corpus is a fixed set of inputs for the property tests: Latin, Thai with
// tone marks, decomposed accents, punctuation-only and whitespace-only text.
var corpus = []string{
	"",
	" ",
	"a",
	"x",
	"hello",
	"hello there",
	"Hello, there!",
	"  HELLO\t\tthere \n",
	"héllo",
	"héllo",
	"e*́",
	"*_/.,!?()[]{}\"'`~",
	"สวัสดีครับ",
	"สวัสดี ครับ",
	"ขอบคุณค่ะ!",
	"ไม่เป็นไร",
	"Straße",
	"kitten",
	"sitting",
	"日本語のテキスト",
	"(quoted) [text] {here}",
	"naïve café",
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "lower case", in: "HeLLo", want: "hello"},
		{name: "strip punctuation", in: "Hello, there!", want: "hello there"},
		{name: "all stripped characters", in: "*_/.,!?()[]{}\"'`~", want: ""},
		{name: "collapse whitespace", in: "  a \t\n  b  ", want: "a b"},
		{name: "nfc composition", in: "héllo", want: "héllo"},
		{name: "thai kept intact", in: "สวัสดีครับ!", want: "สวัสดีครับ"},
		{name: "diacritics kept", in: "Naïve Café", want: "naïve café"},
		{name: "hyphen kept", in: "well-known", want: "well-known"},
		{name: "colon and semicolon kept", in: "a: b; c", want: "a: b; c"},
		{name: "punctuation between words", in: "a ! b", want: "a b"},
		{name: "recompose after strip", in: "e*́", want: "é"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	for _, s := range corpus {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", s, once, twice)
		}
	}
}

func TestEditDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"hello there", "hello", 6},
		{"สวัสดีครับ", "สวัสดีครับ", 0},
		{"สวัสดีครับ", "สวัสดีค่ะ", 3},
		{"héllo", "hello", 1},
	}
	for _, tc := range tests {
		if got := EditDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("EditDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestEditDistance_Properties(t *testing.T) {
	t.Parallel()

	for _, a := range corpus {
		if d := EditDistance(a, a); d != 0 {
			t.Errorf("identity: EditDistance(%q, %q) = %d, want 0", a, a, d)
		}
		for _, b := range corpus {
			ab, ba := EditDistance(a, b), EditDistance(b, a)
			if ab != ba {
				t.Errorf("symmetry: d(%q,%q)=%d but d(%q,%q)=%d", a, b, ab, b, a, ba)
			}
			if ab < 0 {
				t.Errorf("non-negative: d(%q,%q)=%d", a, b, ab)
			}
			for _, c := range corpus {
				if ac, bc := EditDistance(a, c), EditDistance(b, c); ac > ab+bc {
					t.Errorf("triangle: d(%q,%q)=%d > d(%q,%q)+d(%q,%q)=%d", a, c, ac, a, b, b, c, ab+bc)
				}
			}
		}
	}
}

func TestSimilarity_EmptyPolicy(t *testing.T) {
	t.Parallel()
	if got := Similarity("", ""); got != 1 {
		t.Errorf(`Similarity("", "") = %v, want 1`, got)
	}
	if got := Similarity("", "x"); got != 0 {
		t.Errorf(`Similarity("", "x") = %v, want 0`, got)
	}
	if got := Similarity("x", ""); got != 0 {
		t.Errorf(`Similarity("x", "") = %v, want 0`, got)
	}
}

func TestSimilarity_Properties(t *testing.T) {
	t.Parallel()
	for _, a := range corpus {
		if a != "" {
			if got := Similarity(a, a); got != 1 {
				t.Errorf("self-match: Similarity(%q, %q) = %v, want 1", a, a, got)
			}
		}
		for _, b := range corpus {
			s := Similarity(a, b)
			if s < 0 || s > 1 || math.IsNaN(s) {
				t.Errorf("bounds: Similarity(%q, %q) = %v, want in [0,1]", a, b, s)
			}
		}
	}
}

func TestSimilarity_PartialMatch(t *testing.T) {
	t.Parallel()
	got := Similarity("hello", "hello there")
	want := 1 - 6.0/11.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Similarity = %v, want %v", got, want)
	}
}

func TestIsAcceptable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score float64
		want  bool
	}{
		{1, true},
		{0.8, true},
		{0.7999, false},
		{0.4545, false},
		{0, false},
	}
	for _, tc := range tests {
		if got := IsAcceptable(tc.score); got != tc.want {
			t.Errorf("IsAcceptable(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestScore_Scenarios(t *testing.T) {
	t.Parallel()

	t.Run("identical thai", func(t *testing.T) {
		r := Score("สวัสดีครับ", "สวัสดีครับ")
		if r.Similarity != 1 || !r.Acceptable {
			t.Errorf("got similarity=%v acceptable=%v, want 1 and true", r.Similarity, r.Acceptable)
		}
	})

	t.Run("missing words", func(t *testing.T) {
		r := Score("hello", "hello there")
		if r.Distance != 6 {
			t.Errorf("Distance = %d, want 6", r.Distance)
		}
		if math.Abs(r.Similarity-0.4545) > 1e-4 {
			t.Errorf("Similarity = %v, want ≈0.4545", r.Similarity)
		}
		if r.Acceptable {
			t.Error("Acceptable = true, want false")
		}
	})

	t.Run("punctuation and case ignored", func(t *testing.T) {
		r := Score("HELLO there", "Hello, there!")
		if r.NormalizedTranscript != "hello there" || r.NormalizedExpected != "hello there" {
			t.Errorf("normalized = %q / %q", r.NormalizedTranscript, r.NormalizedExpected)
		}
		if r.Similarity != 1 {
			t.Errorf("Similarity = %v, want 1", r.Similarity)
		}
	})

	t.Run("punctuation only transcript", func(t *testing.T) {
		r := Score("?!", "hello")
		if r.Similarity != 0 || r.Acceptable {
			t.Errorf("got similarity=%v acceptable=%v, want 0 and false", r.Similarity, r.Acceptable)
		}
	})

	t.Run("agrees with Similarity", func(t *testing.T) {
		for _, a := range corpus {
			for _, b := range corpus {
				r := Score(a, b)
				if want := Similarity(Normalize(a), Normalize(b)); r.Similarity != want {
					t.Errorf("Score(%q,%q).Similarity = %v, Similarity = %v", a, b, r.Similarity, want)
				}
			}
		}
	})
}
