package workflow

import (
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// dedupMinLen is the segment length above which content hashes are recorded
// for duplicate suppression. Short fragments ("Yes.", "OK.") may legitimately
// repeat.
const dedupMinLen = 10

// Thresholds are the sentence-aggregation knobs. A segment is published once
// it contains enough meaningful words or characters; until then it keeps
// growing across sentence boundaries.
type Thresholds struct {
	// MinChars emits a segment regardless of word count once it reaches this
	// many characters.
	MinChars int

	// MinWords is the meaningful-word minimum for segments after the first.
	MinWords int

	// FirstSentenceMinWords is the lower bound for the very first segment,
	// kept small so the user hears the response start quickly.
	FirstSentenceMinWords int

	// PunctFlushStrict restricts sentence boundaries to `.`, `!`, `?`. When
	// false, `:` and `;` also end a sentence.
	PunctFlushStrict bool

	// ForceFlushMaxChars, when positive, emits a trailing unpunctuated
	// segment of at least this length at end-of-stream. Zero disables it.
	ForceFlushMaxChars int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinChars:              15,
		MinWords:              3,
		FirstSentenceMinWords: 2,
		PunctFlushStrict:      true,
		ForceFlushMaxChars:    0,
	}
}

// Aggregator turns a stream of model text fragments into publishable
// sentence segments. It is a pure transducer: Push and Flush do all the work
// inline on the caller's goroutine, and the zero state carries over between
// calls. Not safe for concurrent use; each request owns one Aggregator.
type Aggregator struct {
	th     Thresholds
	filter TextFilter

	raw      string // text received but not yet split into sentences
	pending  string // segment growing until it meets the emit thresholds
	fragSeen map[uint64]struct{} // hashes of received fragments
	segSeen  map[uint64]struct{} // hashes of emitted segments
	emitted  int
}

// NewAggregator creates an Aggregator. A nil filter falls back to
// [DefaultFilter].
func NewAggregator(th Thresholds, filter TextFilter) *Aggregator {
	if filter == nil {
		filter = DefaultFilter{}
	}
	return &Aggregator{
		th:       th,
		filter:   filter,
		fragSeen: make(map[uint64]struct{}),
		segSeen:  make(map[uint64]struct{}),
	}
}

// Emitted returns the number of segments published so far.
func (a *Aggregator) Emitted() int { return a.emitted }

// Push feeds one model fragment through the transducer and returns the
// segments (zero or more) that became publishable, in order.
func (a *Aggregator) Push(fragment string) []string {
	cleaned := a.filter.Clean(fragment)
	if cleaned == "" {
		return nil
	}

	if trimmed := strings.TrimSpace(cleaned); utf8.RuneCountInString(trimmed) > dedupMinLen {
		h := contentHash(trimmed)
		if _, dup := a.fragSeen[h]; dup {
			return nil
		}
		a.fragSeen[h] = struct{}{}
	}

	a.raw += cleaned
	sentences, rem := a.splitSentences(a.raw, false)
	a.raw = rem
	return a.processSentences(sentences, false)
}

// Flush drains the transducer at end-of-stream: trailing punctuated text
// becomes final sentences (published unconditionally — nothing more is
// coming), and the unpunctuated remainder is published only when the force
// flush is enabled and long enough.
func (a *Aggregator) Flush() []string {
	sentences, rem := a.splitSentences(a.raw, true)
	a.raw = ""
	out := a.processSentences(sentences, true)

	if rem = strings.TrimSpace(rem); rem != "" {
		if a.pending == "" {
			a.pending = rem
		} else {
			a.pending = normaliseSpace(a.pending + " " + rem)
		}
	}
	if a.pending != "" && a.th.ForceFlushMaxChars > 0 &&
		utf8.RuneCountInString(a.pending) >= a.th.ForceFlushMaxChars {
		if a.recordSegment(a.pending) {
			out = append(out, a.pending)
		}
	}
	a.pending = ""
	return out
}

// processSentences folds complete sentences into the pending segment and
// emits every candidate that passes the thresholds (or all of them when
// waive is set, at end-of-stream).
func (a *Aggregator) processSentences(sentences []string, waive bool) []string {
	var out []string
	for _, s := range sentences {
		c := s
		if a.pending != "" {
			c = a.pending + " " + s
		}
		c = normaliseSpace(c)

		if !waive && !a.shouldEmit(c) {
			a.pending = c
			continue
		}
		a.pending = ""
		if a.recordSegment(c) {
			out = append(out, c)
		}
	}
	return out
}

// shouldEmit applies the word/char thresholds, with the relaxed first-segment
// word bound while nothing has been emitted yet.
func (a *Aggregator) shouldEmit(c string) bool {
	minWords := a.th.MinWords
	if a.emitted == 0 {
		minWords = a.th.FirstSentenceMinWords
	}
	return meaningfulWords(c) >= minWords || utf8.RuneCountInString(c) >= a.th.MinChars
}

// recordSegment registers c in the dedup set and counts it as emitted.
// Returns false when an identical segment was already published.
func (a *Aggregator) recordSegment(c string) bool {
	if utf8.RuneCountInString(c) > dedupMinLen {
		h := contentHash(c)
		if _, dup := a.segSeen[h]; dup {
			return false
		}
		a.segSeen[h] = struct{}{}
	}
	a.emitted++
	return true
}

// splitSentences cuts s at sentence boundaries: an end-punctuation rune
// followed by whitespace. At end-of-stream (final) trailing punctuation also
// closes a sentence — mid-stream it must not, or "12." would split before
// ".10" arrives. The remainder keeps its trailing spaces so the next
// fragment concatenates cleanly.
func (a *Aggregator) splitSentences(s string, final bool) (sentences []string, rem string) {
	runes := []rune(s)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !a.isEndRune(runes[i]) {
			continue
		}
		boundary := false
		if i+1 >= len(runes) {
			boundary = final
		} else if unicode.IsSpace(runes[i+1]) {
			boundary = true
		}
		if !boundary {
			continue
		}
		if sent := strings.TrimSpace(string(runes[start : i+1])); sent != "" {
			sentences = append(sentences, sent)
		}
		start = i + 1
	}
	return sentences, strings.TrimLeftFunc(string(runes[start:]), unicode.IsSpace)
}

// isEndRune reports whether r terminates a sentence under the configured
// strictness.
func (a *Aggregator) isEndRune(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	case ':', ';':
		return !a.th.PunctFlushStrict
	}
	return false
}

// meaningfulWords counts whitespace-separated tokens containing at least one
// letter or digit. Bare punctuation ("—", "...") does not count.
func meaningfulWords(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		for _, r := range f {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				n++
				break
			}
		}
	}
	return n
}

// contentHash returns the dedup hash of a segment: FNV-1a over the
// lowercased, whitespace-normalised content.
func contentHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(normaliseSpace(s))))
	return h.Sum64()
}
