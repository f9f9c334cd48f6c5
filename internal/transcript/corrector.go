// Package transcript corrects recognised speech against a configured
// vocabulary before the text is sent to the server. Speech recognisers
// routinely mangle domain words ("config dot jason", "kubernetles"); the
// corrector aligns near-miss tokens with known vocabulary entries using
// Double Metaphone phonetic codes ranked by Jaro-Winkler similarity.
package transcript

import "strings"

// Correction records one vocabulary substitution applied to a transcript.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched vocabulary entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Corrector substitutes near-miss tokens in recognised text with entries
// from a fixed vocabulary. It is read-only after construction and safe for
// concurrent use. An empty vocabulary makes Correct the identity function.
type Corrector struct {
	vocabulary []string
	maxWords   int // longest vocabulary entry, in words

	phoneticThreshold float64
	fuzzyThreshold    float64
}

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// New returns a [Corrector] over the given vocabulary. Entries may be
// multi-word ("pull request"); blank entries are dropped.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, v := range vocabulary {
		if strings.TrimSpace(v) == "" {
			continue
		}
		c.vocabulary = append(c.vocabulary, v)
		if n := len(strings.Fields(v)); n > c.maxWords {
			c.maxWords = n
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct scans text token by token, testing n-gram windows from the longest
// vocabulary entry length down to one word so multi-word entries win over
// partial single-word matches. It returns the corrected text and the list of
// substitutions applied, which is empty when nothing matched.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.vocabulary) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			entry, conf, ok := c.match(window)
			if !ok {
				continue
			}
			// Exact matches need no correction record.
			if !strings.EqualFold(window, entry) {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  entry,
					Confidence: conf,
				})
			}
			output = append(output, strings.Fields(entry)...)
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}
