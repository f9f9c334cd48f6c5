package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// match finds the vocabulary entry most phonetically similar to word (a
// single token or a space-joined n-gram).
//
// Two-stage selection: Double Metaphone code overlap nominates phonetic
// candidates, which are ranked by Jaro-Winkler on the original strings and
// accepted above phoneticThreshold. When no phonetic candidate exists, a
// pure Jaro-Winkler pass applies the stricter fuzzyThreshold. When matched
// is false, entry equals word unchanged and confidence is 0.
func (c *Corrector) match(word string) (entry string, confidence float64, matched bool) {
	wordLower := strings.ToLower(strings.TrimSpace(word))
	if wordLower == "" {
		return word, 0, false
	}
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		entry    string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, v := range c.vocabulary {
		entryLower := strings.ToLower(v)
		entryTokens := strings.Fields(entryLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(entryTokens))
		jwScore := bestJWScore(wordTokens, entryTokens, wordLower, entryLower)

		if phoneticMatch {
			if jwScore >= c.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{entry: v, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= c.fuzzyThreshold && jwScore > best.score {
				best = candidate{entry: v, score: jwScore, phonetic: false}
			}
		}
	}

	if best.entry != "" {
		return best.entry, best.score, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (word too short or no consonants) are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
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

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the vocabulary entry using three strategies: full strings,
// space-stripped strings, and — for single-token input only — the best
// per-word score against the entry, which handles one spoken word lining up
// with one word of a longer entry. Multi-token windows must not use the
// per-word strategy: a stray filler word next to a near-miss ("a pul") would
// otherwise score as high as the near-miss itself and swallow its neighbour.
func bestJWScore(inputTokens, entryTokens []string, inputFull, entryFull string) float64 {
	score := matchr.JaroWinkler(inputFull, entryFull, false)

	if len(inputTokens) > 1 || len(entryTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(entryTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	if len(inputTokens) == 1 {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(inputTokens[0], et, false); s > score {
				score = s
			}
		}
	}

	return score
}
