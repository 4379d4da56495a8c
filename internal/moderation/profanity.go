package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// defaultProfanity is the built-in profanity/harassment term list. Terms are
// matched on a normalized form of the text, so leet-speak variants
// ("sh1t", "b!tch") and spacing tricks ("k y s") are caught too.
var defaultProfanity = []string{
	"fuck", "shit", "bitch", "asshole", "bastard", "cunt", "slut", "whore",
	"dickhead", "motherfucker", "piece of shit", "kill yourself", "kys",
	"go die", "hate you",
}

// profanityMatcher finds profanity terms using an Aho-Corasick automaton
// built over a normalized alphabet: punctuation and whitespace stripped,
// common leet substitutions folded back, everything lowercased.
type profanityMatcher struct {
	machine *goahocorasick.Machine
}

// textMapping is a normalized rune view of an input string along with the
// original index of every kept rune, so matches can be mapped back to the
// original text for masking.
type textMapping struct {
	normalized []rune
	origIdx    []int
}

// newProfanityMatcher builds the automaton for the given term list.
// Returns a matcher with a nil machine when the list is empty, which
// disables the category. Building from a static word list cannot fail in
// practice; a build error also yields a disabled matcher.
func newProfanityMatcher(terms []string) *profanityMatcher {
	if len(terms) == 0 {
		return &profanityMatcher{}
	}

	patterns := make([][]rune, 0, len(terms))
	for _, t := range terms {
		if n := normalizeRunes([]rune(t)); len(n) > 0 {
			patterns = append(patterns, n)
		}
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return &profanityMatcher{}
	}
	return &profanityMatcher{machine: m}
}

// Find returns the original-text spans that contain a profanity term.
func (p *profanityMatcher) Find(text string) []string {
	if p.machine == nil {
		return nil
	}

	mapping := normalize(text)
	if len(mapping.normalized) == 0 {
		return nil
	}

	spans := p.machine.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return nil
	}

	origRunes := []rune(text)
	var out []string
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}
		origStart := mapping.origIdx[normStart]
		origEnd := mapping.origIdx[normEnd-1] + 1
		out = append(out, string(origRunes[origStart:origEnd]))
	}
	return out
}

// normalize transforms the input string into a searchable form and tracks
// original rune positions.
func normalize(input string) textMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return textMapping{normalized: norm, origIdx: origIdx}
}

// normalizeRunes applies simplification and noise removal to a rune slice.
func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet-speak characters back to their standard
// alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during pattern matching.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
