// Package fallback supplies transcribed agent speech when the microphone
// cannot be streamed to the live session, and filters the noise those
// local recognizers tend to produce.
package fallback

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinChars is the shortest utterance forwarded as a text turn.
const DefaultMinChars = 3

// vowels covers the French accented forms alongside the plain ones.
const vowels = "aeiouyàâäéèêëîïôöùûüÿœæ"

// Filter suppresses empty or noise-triggered transcriptions.
type Filter struct {
	MinChars int
}

// Accept returns the normalized text and whether it should be forwarded.
// Whitespace is collapsed; the result must be at least MinChars runes long
// and contain a vowel.
func (f Filter) Accept(text string) (string, bool) {
	text = strings.Join(strings.Fields(text), " ")
	minChars := f.MinChars
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	if utf8.RuneCountInString(text) < minChars {
		return "", false
	}
	for _, r := range text {
		if unicode.IsLetter(r) && strings.ContainsRune(vowels, unicode.ToLower(r)) {
			return text, true
		}
	}
	return "", false
}
