package chunk

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize cleans raw PDF text before splitting:
//
//   - NFKC folds compatibility forms (ligatures like "ﬁ", full-width digits).
//   - CRLF and CR become LF.
//   - A word hyphenated across a line break is joined ("extrac-\ntion").
//   - Runs of horizontal whitespace collapse to one space; lines are trimmed.
//   - At most one blank line is kept between paragraphs, none at the ends.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))

	blankPending := false
	joinNext := false
	for _, raw := range strings.Split(text, "\n") {
		line := collapseSpaces(raw)
		if line == "" {
			if joinNext {
				b.WriteByte('-')
				joinNext = false
			}
			if b.Len() > 0 {
				blankPending = true
			}
			continue
		}
		switch {
		case joinNext:
		case blankPending:
			b.WriteString("\n\n")
		case b.Len() > 0:
			b.WriteByte('\n')
		}
		blankPending, joinNext = false, false

		if hyphenated(line) {
			b.WriteString(line[:len(line)-1])
			joinNext = true
			continue
		}
		b.WriteString(line)
	}
	if joinNext {
		b.WriteByte('-')
	}
	return b.String()
}

// hyphenated reports whether line ends in a letter followed by '-'.
func hyphenated(line string) bool {
	if len(line) < 2 || line[len(line)-1] != '-' {
		return false
	}
	r := []rune(line[:len(line)-1])
	return unicode.IsLetter(r[len(r)-1])
}

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
