// Package transcript implements keyword correction for recognized candidate
// speech. Recognition engines routinely mangle employer names and technology
// terms ("akme" for "Acme", "postcress" for "PostgreSQL"); the corrector
// rewrites such words to the configured vocabulary before they reach the
// transcript buffer, improving backend comprehension of candidate answers.
//
// Matching is two-stage: Double Metaphone phonetic codes select candidate
// keywords, then Jaro-Winkler similarity (case-insensitive, on the original
// strings) ranks them. A keyword without phonetic overlap is still accepted
// when its Jaro-Winkler score clears a higher fuzzy threshold.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minCoreLength is the shortest word considered for correction; anything
	// shorter is far more likely a function word than a mangled keyword.
	minCoreLength = 3
)

// Option configures a [Corrector] during construction.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a keyword
// that phonetically overlaps the input. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a keyword with
// no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// keyword is one vocabulary entry with its precomputed match data.
type keyword struct {
	canonical string // replacement text, original casing
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Corrector rewrites words in recognized text to a configured vocabulary.
// Read-only after construction; safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	keywords          []keyword
}

// NewCorrector creates a Corrector for the given vocabulary. Multi-word
// entries ("Acme Corp") match spans of the same word count. Blank entries
// are dropped.
func NewCorrector(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		tokens := strings.Fields(lower)
		c.keywords = append(c.keywords, keyword{
			canonical: v,
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
	}
	return c
}

// Correct returns text with recognized-but-mangled vocabulary words replaced
// by their canonical form. Punctuation attached to the corrected words is
// preserved. Text without matches is returned unchanged.
func (c *Corrector) Correct(text string) string {
	if len(c.keywords) == 0 || strings.TrimSpace(text) == "" {
		return text
	}

	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	changed := false

	for i := 0; i < len(words); {
		kw, span := c.matchAt(words, i)
		if kw == nil {
			out = append(out, words[i])
			i++
			continue
		}
		prefix, _, _ := splitPunct(words[i])
		_, _, suffix := splitPunct(words[i+span-1])
		out = append(out, prefix+kw.canonical+suffix)
		changed = true
		i += span
	}
	if !changed {
		return text
	}
	return strings.Join(out, " ")
}

// matchAt tries every keyword against the token span starting at i and
// returns the best acceptable one with its span length. Phonetic matches
// outrank fuzzy-only matches.
func (c *Corrector) matchAt(words []string, i int) (*keyword, int) {
	var (
		best      *keyword
		bestSpan  int
		bestScore float64
		bestPhon  bool
	)

	for k := range c.keywords {
		kw := &c.keywords[k]
		n := len(kw.tokens)
		if i+n > len(words) {
			continue
		}

		spanTokens := make([]string, 0, n)
		for _, w := range words[i : i+n] {
			_, core, _ := splitPunct(w)
			if n == 1 && len([]rune(core)) < minCoreLength {
				spanTokens = nil
				break
			}
			spanTokens = append(spanTokens, strings.ToLower(core))
		}
		if spanTokens == nil {
			continue
		}
		full := strings.Join(spanTokens, " ")

		// Exact match still goes through replacement so casing normalizes.
		if full == kw.lower {
			return kw, n
		}

		phonetic := codesOverlap(codesForTokens(spanTokens), kw.codes)
		score := bestSimilarity(spanTokens, kw.tokens, full, kw.lower)

		accept := (phonetic && score >= c.phoneticThreshold) ||
			(!phonetic && score >= c.fuzzyThreshold)
		if !accept {
			continue
		}
		if best == nil || (phonetic && !bestPhon) || (phonetic == bestPhon && score > bestScore) {
			best, bestSpan, bestScore, bestPhon = kw, n, score, phonetic
		}
	}
	return best, bestSpan
}

// splitPunct separates leading and trailing punctuation from a word.
func splitPunct(w string) (prefix, core, suffix string) {
	runes := []rune(w)
	start, end := 0, len(runes)
	for start < end && !unicode.IsLetter(runes[start]) && !unicode.IsNumber(runes[start]) {
		start++
	}
	for end > start && !unicode.IsLetter(runes[end-1]) && !unicode.IsNumber(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the code sets share at least one code.
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

// bestSimilarity computes the highest Jaro-Winkler score between the span
// and the keyword: full strings, space-stripped concatenation (one spoken
// word split into several), and best pairwise token score.
func bestSimilarity(spanTokens, kwTokens []string, spanFull, kwFull string) float64 {
	score := matchr.JaroWinkler(spanFull, kwFull, false)

	if len(spanTokens) > 1 || len(kwTokens) > 1 {
		c1 := strings.Join(spanTokens, "")
		c2 := strings.Join(kwTokens, "")
		if s := matchr.JaroWinkler(c1, c2, false); s > score {
			score = s
		}
	}

	for _, st := range spanTokens {
		for _, kt := range kwTokens {
			if s := matchr.JaroWinkler(st, kt, false); s > score {
				score = s
			}
		}
	}
	return score
}
