package synthesizer

import "strings"

// PrepareText normalises interviewer text before synthesis: markup and filler
// tokens that read poorly aloud are stripped, and whitespace is collapsed.
//
// Handled markup: markdown emphasis (*, _, `), headings (#), and
// [label](url) links, which are reduced to their label.
func PrepareText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inLink := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '*', '_', '`', '#':
			continue
		case '[':
			continue
		case ']':
			// Skip a "(url)" group directly following a link label.
			if i+1 < len(text) && text[i+1] == '(' {
				inLink = true
			}
			continue
		case '(':
			if inLink {
				continue
			}
		case ')':
			if inLink {
				inLink = false
				continue
			}
		}
		if inLink {
			continue
		}
		b.WriteByte(c)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// SplitPaced splits prepared text into clause-sized segments at sentence and
// clause punctuation. Providers synthesise the segments sequentially, which
// yields natural micro-pauses at the boundaries.
//
// Punctuation is retained at the end of each segment. Empty segments are
// dropped.
func SplitPaced(text string) []string {
	var segments []string
	var b strings.Builder

	flush := func() {
		seg := strings.TrimSpace(b.String())
		if seg != "" {
			segments = append(segments, seg)
		}
		b.Reset()
	}

	for _, r := range text {
		switch r {
		case '.', '!', '?', ';', ':':
			b.WriteRune(r)
			flush()
		case '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return segments
}
