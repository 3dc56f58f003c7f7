// Package matching scores free text extracted from documents against registry
// names. It never writes to a registry.
package matching

import (
	"strings"
	"unicode"
)

// MatchStrategy decides whether two names refer to the same entity.
type MatchStrategy interface {
	Score(extracted, candidate string) (float64, bool)
}

// Normalize lower-cases, strips punctuation and collapses whitespace.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			return ' '
		default:
			return -1
		}
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// SubstringStrategy matches when either normalized name contains the other.
// The score grows with the share of the longer name that is covered.
type SubstringStrategy struct {
	// MinLength ignores very short fragments such as "co" or "inc".
	MinLength int
}

func NewSubstringStrategy() SubstringStrategy {
	return SubstringStrategy{MinLength: 3}
}

func (s SubstringStrategy) Score(extracted, candidate string) (float64, bool) {
	a, b := Normalize(extracted), Normalize(candidate)
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1, true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) < s.MinLength || !strings.Contains(longer, shorter) {
		return 0, false
	}
	return 0.5 + 0.4*float64(len(shorter))/float64(len(longer)), true
}

// Best returns the index of the highest scoring candidate, or -1.
func Best(strategy MatchStrategy, extracted string, candidates []string) (int, float64) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		score, ok := strategy.Score(extracted, c)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}
