// Package chunker splits clinical text on sentence boundaries and cuts it to
// a character budget without breaking words where avoidable.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SentenceResult is one sentence with its byte offsets in the original text.
type SentenceResult struct {
	Text  string
	Start int
	End   int
}

// Sentences splits text after '.', '!', '?' or a newline when followed by
// whitespace or end of text. Abbreviations such as "Dr." and decimal numbers
// such as "2.5" do not end a sentence.
func Sentences(text string) []SentenceResult {
	var results []SentenceResult
	start := 0

	flush := func(end int) {
		t := strings.TrimSpace(text[start:end])
		if t != "" {
			offset := start + strings.Index(text[start:end], t)
			results = append(results, SentenceResult{Text: t, Start: offset, End: offset + len(t)})
		}
		start = end
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' {
			flush(i + 1)
			continue
		}
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		// swallow runs like "?!" or "..."
		j := i + 1
		for j < len(text) && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
			j++
		}
		if j < len(text) && !isSpace(text[j]) {
			i = j - 1
			continue
		}
		if c == '.' && isAbbreviation(text[start:i]) {
			i = j - 1
			continue
		}
		flush(j)
		i = j - 1
	}
	flush(len(text))

	return results
}

// Split returns just the sentence texts.
func Split(text string) []string {
	sentences := Sentences(text)
	out := make([]string, len(sentences))
	for i, s := range sentences {
		out[i] = s.Text
	}
	return out
}

// Truncate cuts text to at most maxChars characters (runes). It prefers the
// last sentence boundary that fits, then the last word boundary, then a hard
// rune cut. The bool reports whether anything was removed.
func Truncate(text string, maxChars int) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	if maxChars <= 0 {
		return "", true
	}

	limit := byteOffset(text, maxChars)

	// Sentence boundary
	best := -1
	for _, s := range Sentences(text) {
		if s.End <= limit {
			best = s.End
			continue
		}
		break
	}
	if best > 0 {
		return strings.TrimSpace(text[:best]), true
	}

	// Word boundary
	if cut := strings.LastIndexFunc(text[:limit+1], unicode.IsSpace); cut > 0 {
		if t := strings.TrimSpace(text[:cut]); t != "" {
			return t, true
		}
	}

	return text[:limit], true
}

// byteOffset returns the byte index just past the first n runes.
func byteOffset(text string, n int) int {
	count := 0
	for i := range text {
		if count == n {
			return i
		}
		count++
	}
	return len(text)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

var abbreviations = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "vs": true,
	"e.g": true, "i.e": true, "approx": true, "st": true,
}

func isAbbreviation(prefix string) bool {
	idx := strings.LastIndexFunc(prefix, unicode.IsSpace)
	word := strings.ToLower(prefix[idx+1:])
	return abbreviations[word]
}
