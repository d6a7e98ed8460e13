// Package tokens normalizes free text into comparable keyword sets.
package tokens

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

var stopWords = map[string]bool{
	"a": true, "about": true, "after": true, "again": true, "all": true, "am": true, "an": true,
	"and": true, "any": true, "are": true, "as": true, "at": true, "be": true, "been": true,
	"before": true, "but": true, "by": true, "can": true, "did": true, "do": true, "does": true,
	"doing": true, "for": true, "from": true, "had": true, "has": true, "have": true, "having": true,
	"he": true, "her": true, "here": true, "him": true, "his": true, "how": true, "i": true,
	"if": true, "in": true, "into": true, "is": true, "it": true, "its": true, "just": true,
	"me": true, "my": true, "no": true, "not": true, "now": true, "of": true, "off": true,
	"on": true, "or": true, "our": true, "out": true, "over": true, "she": true, "so": true,
	"some": true, "than": true, "that": true, "the": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true, "this": true, "to": true,
	"too": true, "up": true, "very": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "who": true, "will": true,
	"with": true, "would": true, "you": true, "your": true, "yes": true, "okay": true, "ok": true,
	"well": true, "also": true, "let": true, "see": true, "get": true, "got": true,
}

// Tokenize lowercases text, drops stop words and single characters, and
// stems what remains. Order follows first occurrence; duplicates are kept.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		out = append(out, english.Stem(f, false))
	}
	return out
}

// Set is an unordered collection of stemmed tokens.
type Set map[string]struct{}

// NewSet tokenizes every text into one set.
func NewSet(texts ...string) Set {
	s := Set{}
	for _, t := range texts {
		for _, tok := range Tokenize(t) {
			s[tok] = struct{}{}
		}
	}
	return s
}

// Intersects reports whether s and o share a token.
func (s Set) Intersects(o Set) bool {
	small, large := s, o
	if len(small) > len(large) {
		small, large = large, small
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// Union returns a new set holding the tokens of every set.
func Union(sets ...Set) Set {
	out := Set{}
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both are empty.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
