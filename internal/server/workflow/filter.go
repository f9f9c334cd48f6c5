package workflow

import (
	"strings"
	"unicode"
)

// TextFilter cleans raw model output before sentence aggregation. Cleaning
// must preserve word boundaries: fragments are concatenated verbatim, so a
// trailing space carries meaning.
type TextFilter interface {
	Clean(fragment string) string
}

// DefaultFilter strips control characters, collapses whitespace runs, and
// removes markdown artefacts that read badly when spoken aloud. It is
// stateless and safe for concurrent use.
type DefaultFilter struct{}

var _ TextFilter = DefaultFilter{}

// markupRunes are dropped outright: emphasis, code fences, and headings have
// no spoken equivalent.
const markupRunes = "*`#"

// Clean implements [TextFilter]. Control characters become spaces so that a
// newline still separates words; runs of whitespace collapse to one space. A
// single leading or trailing space survives, keeping fragment concatenation
// intact.
func (DefaultFilter) Clean(fragment string) string {
	var b strings.Builder
	b.Grow(len(fragment))

	lastSpace := false
	for _, r := range fragment {
		if strings.ContainsRune(markupRunes, r) {
			continue
		}
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

// normaliseSpace rejoins s on single spaces, trimming the ends.
func normaliseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
