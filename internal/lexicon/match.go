// Package lexicon decides whether a live transcript names an attack.
//
// Speech recognisers rarely return exactly the phrase a player meant: they add
// spaces, punctuation and Korean case particles, drop the first syllables of a
// long incantation, or surround the trigger word with battle cries. Matching
// therefore works on a cleaned form of both strings (see [Clean]) and accepts
// containment in either direction (see [Match]).
//
// The keyword catalog itself ([Catalog]) is immutable; [Holder] swaps catalogs
// atomically when the configuration is reloaded.
package lexicon

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// particles are the trailing Korean case/topic particles stripped by [Clean].
// Only a single trailing syllable is removed.
const particles = "을를이가은는도에서의로와과만"

// minReverseLen is the cleaned keyword length above which a partial
// recognition (keyword contains spoken text) still counts as a match.
const minReverseLen = 3

// Clean normalises text for matching: NFC composition, removal of all
// whitespace and of '!', '?' and '.', removal of one trailing particle from
// [particles], then lower-casing.
func Clean(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '!' || r == '?' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()

	if last, size := utf8.DecodeLastRuneInString(out); size > 0 && strings.ContainsRune(particles, last) {
		out = out[:len(out)-size]
	}
	return strings.ToLower(out)
}

// Match reports whether spoken names keyword. It succeeds when the cleaned
// spoken text contains the cleaned keyword, or, for keywords longer than three
// cleaned characters, when the cleaned keyword contains the cleaned spoken
// text. Spoken text that cleans to nothing never matches.
func Match(spoken, keyword string) bool {
	s := Clean(spoken)
	if s == "" {
		return false
	}
	k := Clean(keyword)
	if strings.Contains(s, k) {
		return true
	}
	return utf8.RuneCountInString(k) > minReverseLen && strings.Contains(k, s)
}
