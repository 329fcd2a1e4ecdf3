// Package moderation censors forbidden words in message content.
package moderation

import (
	"log/slog"
	"strings"
	"unicode"

	"message-board/errors"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Moderator matches a dictionary of forbidden words with an Aho-Corasick automaton.
// Matching ignores case, punctuation, spacing and common leet speak, so "B.4.d.g.€r"
// still hits "badger". It is safe for concurrent use once built.
type Moderator struct {
	log          *slog.Logger
	matcher      *goahocorasick.Machine
	censoredChar rune
}

type textMapping struct {
	normalized []rune
	origIdx    []int
}

// NewModerator builds the automaton from words. Words made only of noise are ignored,
// even when their symbols read as leet letters ("!!!" is not "iii").
// ErrEmptyWords is returned when nothing usable is left.
func NewModerator(words []string, censoredChar rune, log *slog.Logger) (*Moderator, error) {
	patterns := lo.FilterMap(words, func(word string, _ int) ([]rune, bool) {
		raw := []rune(strings.TrimSpace(word))
		if lo.EveryBy(raw, isNoise) {
			return nil, false
		}
		p := normalizeRunes(raw)
		return p, len(p) > 0
	})
	patterns = lo.UniqBy(patterns, func(p []rune) string { return string(p) })
	if len(patterns) == 0 {
		return nil, errors.ErrEmptyWords
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{log: log, matcher: m, censoredChar: censoredChar}, nil
}

// Censor replaces every character of a forbidden word by the censored character,
// leaving the rest of the text untouched.
func (m *Moderator) Censor(original string) string {
	censored, words := m.Inspect(original)
	if len(words) > 0 {
		m.log.Debug("Content censored", "words", len(words))
	}
	return censored
}

// Inspect returns the censored text and the dictionary words found, in order of appearance.
func (m *Moderator) Inspect(original string) (string, []string) {
	mapping := normalize(original)
	if len(mapping.normalized) == 0 {
		return original, nil
	}

	terms := m.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(terms) == 0 {
		return original, nil
	}

	origRunes := []rune(original)
	var words []string
	for _, term := range terms {
		start := term.Pos
		end := start + len(term.Word)
		if start < 0 || end > len(mapping.origIdx) {
			continue
		}
		for i := mapping.origIdx[start]; i <= mapping.origIdx[end-1]; i++ {
			origRunes[i] = m.censoredChar
		}
		words = append(words, string(term.Word))
	}
	return string(origRunes), words
}

// normalize keeps the searchable runes of input and where each came from.
func normalize(input string) textMapping {
	origRunes := []rune(input)
	mapping := textMapping{
		normalized: make([]rune, 0, len(origRunes)),
		origIdx:    make([]int, 0, len(origRunes)),
	}
	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		mapping.normalized = append(mapping.normalized, unicode.ToLower(clean))
		mapping.origIdx = append(mapping.origIdx, i)
	}
	return mapping
}

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

// simplifyRune maps common leet speak characters back to letters.
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

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
